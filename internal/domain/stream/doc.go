// Package stream receives generation results over the backend websocket.
//
// A Receiver dials <ws-base>?clientId=<id> and runs two goroutines per
// connection: one reads messages into a channel, the other consumes them
// in arrival order. Text messages are control envelopes and are only
// logged or forwarded to a StatusSink. Binary messages carry an 8-byte
// header followed by an encoded image; the image replaces the one on
// display, and the replaced image is released through its ImageStore.
//
// At most one image is live per Receiver. Close tears the connection down
// and releases that image whatever state the receiver is in.
//
// The connection is not re-established on its own; call Open again once
// Done is closed.
package stream
