// Package dispatch submits workflow prompts to the generation backend.
//
// A submission is a single POST of {"prompt": <template>, "client_id": <id>}
// to <base>/prompt. The client id ties the submission to the websocket the
// backend pushes results on.
//
// Failures come back as *Error and match either ErrTransport or ErrRejected
// with errors.Is. Nothing is retried: the next input change is the retry.
package dispatch
