package workflow

import (
	_ "embed"
	"fmt"
	"sync"
)

// SDXL-turbo, one step, 512x512, result pushed over the websocket.
//
//go:embed default_workflow.json
var defaultWorkflow []byte

var defaultTemplate = sync.OnceValue(func() *Template {
	t, err := Parse(defaultWorkflow)
	if err != nil {
		panic(fmt.Sprintf("embedded workflow is invalid: %v", err))
	}
	return t
})

// Default returns the embedded workflow. Templates are immutable, so the
// same value is shared by every caller.
func Default() *Template {
	return defaultTemplate()
}
