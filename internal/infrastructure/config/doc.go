// Package config provides 12-factor configuration management for dreamstream.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags override environment variables.
//
// Configuration Sections:
//   - Comfy: request/response base and websocket base of the backend
//   - Input: throttle and debounce delays, workflow template path
//   - Capture: external speech recognizer command and language
//   - Output: directory for displayed images (memory when empty)
//   - Preview: local preview server address and rate limiting
//   - Logging: log level and output format
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Submitting to %s\n", cfg.Comfy.HTTPBase)
//
// Environment Variables:
//   - COMFY_HTTP, COMFY_WS, COMFY_TIMEOUT
//   - THROTTLE_DELAY, DEBOUNCE_DELAY, WORKFLOW_PATH
//   - CAPTURE_CMD, CAPTURE_LANG, IMAGE_DIR
//   - PREVIEW_ENABLED, PREVIEW_ADDR, PREVIEW_RATE_LIMIT_RPS, PREVIEW_RATE_LIMIT_BURST
//   - LOG_LEVEL, LOG_DEV
package config
