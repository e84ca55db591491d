// Package server assembles a dreamstream process.
//
// NewServer wires every component from configuration:
//   - the workflow template (file or embedded default)
//   - the prompt dispatcher and the result stream receiver
//   - the optional speech capture command
//   - the session coordinator that owns all of the above
//   - the optional local preview server (REST, websocket push, /metrics)
//
// Lifecycle:
//  1. NewServer builds everything; nothing touches the network yet
//  2. Start opens the result stream and begins serving the preview
//  3. Session().HandleInput / ToggleCapture drive generation
//  4. Close tears the session down and stops the preview
//
// Example Usage:
//
//	srv, err := server.NewServer(config.LoadOrDefault())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	srv.Start(ctx)
//	srv.Session().HandleInput("a red fox")
package server
