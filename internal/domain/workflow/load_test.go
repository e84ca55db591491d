package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlWorkflow = `
"1":
  class_type: CheckpointLoaderSimple
  _meta:
    title: Load Checkpoint
  inputs:
    ckpt_name: model.safetensors
"2":
  class_type: CLIPTextEncode
  _meta:
    title: positive
  inputs:
    text: from yaml
    clip: ["1", 1]
`

const tomlWorkflow = `
["1"]
class_type = "CheckpointLoaderSimple"
_meta = { title = "Load Checkpoint" }
inputs = { ckpt_name = "model.safetensors" }

["2"]
class_type = "CLIPTextEncode"
_meta = { title = "positive" }
inputs = { text = "from toml", clip = ["1", 1] }
`

const jsonWorkflow = `{
  "1": {"inputs": {"ckpt_name": "model.safetensors"}, "class_type": "CheckpointLoaderSimple", "_meta": {"title": "Load Checkpoint"}},
  "2": {"inputs": {"text": "from json", "clip": ["1", 1]}, "class_type": "CLIPTextEncode", "_meta": {"title": "positive"}}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		file string
		body string
		want string
	}{
		{file: "workflow.json", body: jsonWorkflow, want: "from json"},
		{file: "workflow.yaml", body: yamlWorkflow, want: "from yaml"},
		{file: "workflow.yml", body: yamlWorkflow, want: "from yaml"},
		{file: "workflow.toml", body: tomlWorkflow, want: "from toml"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			tmpl, err := Load(writeFile(t, tt.file, tt.body))
			require.NoError(t, err)

			text, ok := tmpl.GuidanceText()
			require.True(t, ok)
			assert.Equal(t, tt.want, text)

			n, ok := tmpl.Node("2")
			require.True(t, ok)
			ref, ok := n.Inputs["clip"].AsRef()
			require.True(t, ok)
			assert.Equal(t, Ref{Node: "1", Output: 1}, ref)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := Load(writeFile(t, "workflow.xml", "<x/>"))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := Load(writeFile(t, "workflow.json", "{"))
		assert.ErrorIs(t, err, ErrInvalidTemplate)
	})

	t.Run("dangling reference", func(t *testing.T) {
		body := `{"1":{"inputs":{"clip":["9",0]},"class_type":"X","_meta":{"title":""}}}`
		_, err := Load(writeFile(t, "workflow.json", body))
		assert.ErrorIs(t, err, ErrInvalidTemplate)
	})
}

func TestLoadOrDefault(t *testing.T) {
	tmpl, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Same(t, Default(), tmpl)

	tmpl, err = LoadOrDefault(writeFile(t, "w.json", jsonWorkflow))
	require.NoError(t, err)
	text, _ := tmpl.GuidanceText()
	assert.Equal(t, "from json", text)
}
