package dispatch

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrTransport marks failures to reach the backend or read its reply.
	ErrTransport = errors.New("transport error")
	// ErrRejected marks replies the backend did not accept.
	ErrRejected = errors.New("rejected")
)

// maxBodySnippet caps how much of a rejected reply is kept on the error.
const maxBodySnippet = 512

// Error describes a failed submission.
type Error struct {
	Kind       error // ErrTransport or ErrRejected
	StatusCode int   // zero for transport errors
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("prompt %s: status %d: %v", e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("prompt %s: status %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("prompt %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("prompt %s", e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func transportError(err error) *Error {
	return &Error{Kind: ErrTransport, Err: err}
}

func rejectedError(status int, body []byte, err error) *Error {
	snippet := body
	if len(snippet) > maxBodySnippet {
		// Back off to the start of the rune the cut would split
		cut := maxBodySnippet
		for i := 0; i < utf8.UTFMax && cut > 0 && !utf8.RuneStart(body[cut]); i++ {
			cut--
		}
		snippet = snippet[:cut]
	}
	return &Error{Kind: ErrRejected, StatusCode: status, Body: string(snippet), Err: err}
}

// Outcome names an error for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "transport"
	}
}
