// Package http serves the preview surface over REST: the current image,
// the input state, and the two user actions (edit text, toggle capture).
package http
