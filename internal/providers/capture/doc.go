// Package capture provides continuous input sources for spoken prompts.
//
// A Source streams transcript updates to a Handler until it is stopped or
// runs out. Each update carries the whole transcript so far, the same way
// a typed edit carries the whole text, so consumers never merge.
//
// Sources speak a small line protocol: a line starting with "~" is an
// interim hypothesis that the next line replaces, any other non-empty line
// is final and is appended to the transcript.
//
// ReaderSource reads the protocol from any io.Reader (stdin, a pipe, a
// test fixture). CommandSource runs an external recognizer under a pty and
// reads its output; the recognition language is passed in CAPTURE_LANG.
package capture
