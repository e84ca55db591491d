// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Logs go to stderr by default so the interactive prompt on stdin/stdout
// stays readable.
//
// Example Usage:
//
//	logger := logging.FromLevel("debug", true)
//	log := logger.Component("stream")
//	log.Info("Connection open", zap.String("url", url))
package logging
