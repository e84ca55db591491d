package capture

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrAlreadyRunning is returned by Start on a running source.
var ErrAlreadyRunning = errors.New("capture already running")

// InterimPrefix marks a line as an interim hypothesis.
const InterimPrefix = "~"

// maxLineSize bounds a single transcript line.
const maxLineSize = 1 << 20

// Handler receives transcript updates.
type Handler interface {
	// OnTranscript is called with the full transcript after every update.
	OnTranscript(text string)
	// OnEnd is called once when the source stops, with the error that
	// ended it, if any.
	OnEnd(err error)
}

// Source is a continuous input capability.
type Source interface {
	Start(ctx context.Context, h Handler) error
	Stop() error
}

// Transcript accumulates final lines and tracks the current interim one.
type Transcript struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

// Feed applies one protocol line and returns the resulting transcript.
// Blank lines change nothing and report false.
func (t *Transcript) Feed(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")

	t.mu.Lock()
	defer t.mu.Unlock()

	if rest, ok := strings.CutPrefix(line, InterimPrefix); ok {
		t.interim = strings.TrimSpace(rest)
		return t.textLocked(), true
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	t.finals = append(t.finals, line)
	t.interim = ""
	return t.textLocked(), true
}

// Text returns the transcript so far.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.textLocked()
}

// Reset drops everything heard so far.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.finals = nil
	t.interim = ""
	t.mu.Unlock()
}

func (t *Transcript) textLocked() string {
	parts := t.finals
	if t.interim != "" {
		parts = append(parts[:len(parts):len(parts)], t.interim)
	}
	return strings.Join(parts, " ")
}

// scanTranscripts feeds every line of r through t and reports updates to h
// until r ends. Lines that arrive after a Stop are still delivered.
func scanTranscripts(r io.Reader, t *Transcript, h Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if text, ok := t.Feed(scanner.Text()); ok {
			h.OnTranscript(text)
		}
	}
	return scanner.Err()
}
