// Package workflow models the generation graph submitted as a prompt.
//
// A Template maps node ids to nodes. Each node has a class tag, a title
// and named inputs; an input is a string, number, boolean, or a reference
// to another node's output encoded as ["<node>", <index>].
//
// Templates are validated once, at construction: every reference must
// resolve inside the template and the reference graph must be acyclic.
// After that the shape never changes. WithGuidanceText derives a new
// template with the positive prompt text replaced and leaves the original
// untouched, so snapshots can be handed to concurrent submissions freely.
//
// Templates load from JSON, YAML or TOML files; the SDXL-turbo workflow is
// embedded as the default.
//
//	t := workflow.Default().WithGuidanceText("a red fox")
//	body, _ := json.Marshal(t)
package workflow
