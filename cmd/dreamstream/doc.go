// Command dreamstream turns text typed on stdin, or transcribed by a speech
// recognizer, into a live stream of generated images.
//
// Usage:
//
//	dreamstream [run] [flags]        start an interactive session (default)
//	dreamstream validate [globs...]  check workflow template files
//
// In a session every stdin line replaces the whole current text. "/rec"
// toggles speech capture and "/quit" ends the session. The latest image is
// served by the preview server at http://127.0.0.1:8090/image.
package main
