// Package id provides the identifiers a dreamstream session carries.
//
// Two kinds of IDs exist:
//   - ClientID: a random UUID v4 correlating the prompt endpoint with the
//     websocket stream. The backend routes generated frames by it, so no two
//     live sessions may share one.
//   - SessionID: a prefixed ULID used only locally, to tie log lines and
//     metrics of one session together. K-sortable, so logs line up by start time.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ClientID correlates submissions with the duplex stream of one session.
type ClientID string

// SessionID identifies a local session in logs.
type SessionID string

// ID prefixes.
const (
	SessionPrefix = "sess"
	RequestPrefix = "req"
)

// NewClientID generates a fresh random client identity.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// ParseClientID validates an externally supplied client identity.
func ParseClientID(s string) (ClientID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid client id %q: %w", s, err)
	}
	return ClientID(parsed.String()), nil
}

func (id ClientID) String() string  { return string(id) }
func (id SessionID) String() string { return string(id) }

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRequestID generates an ID for one preview HTTP request
func NewRequestID() string {
	return Default().GenerateWithPrefix(RequestPrefix)
}

// Started returns the creation time encoded in a session ID.
func (id SessionID) Started() (time.Time, error) {
	raw := strings.TrimPrefix(string(id), SessionPrefix+"_")
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
