// Package session coordinates one interactive prompting session.
//
// A Coordinator turns every input change, typed or transcribed, into a
// workflow snapshot and feeds it to two pacing policies at once: a leading
// throttle that keeps images coming while the text is still being edited,
// and a trailing debounce that submits the settled text once input stops.
// Results arrive independently on the session's stream.
//
// Components:
//   - Coordinator: input handling, capture toggling, teardown
//   - Submitter: the prompt endpoint (dispatch.Dispatcher)
//   - Stream: the result connection (stream.Receiver)
//   - capture.Source: optional continuous speech input
//
// Teardown:
//  1. Stop new submissions
//  2. Cancel both pacing policies without firing
//  3. Stop capture
//  4. Close the stream and release the live image
//  5. Cancel and wait for in-flight submissions
//
// Every step runs even if an earlier one fails; errors are combined.
//
// Example Usage:
//
//	c := session.New(session.Config{Template: workflow.Default()}, dispatcher,
//		session.WithStream(receiver), session.WithSource(recognizer))
//	_ = c.Start(ctx)
//	c.HandleInput("a red fox")
//	defer c.Close()
package session
