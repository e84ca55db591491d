// Package ws pushes preview events to browser subscribers over websocket.
//
// Each connection first receives a "snapshot" message with the full view
// state, then one message per view event. Inbound messages are limited to
// "ping", answered with "pong".
package ws
