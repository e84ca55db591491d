package workflow

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	// TextEncodeClass is the class tag of text-encoding nodes.
	TextEncodeClass = "CLIPTextEncode"
	// PositiveTitle marks the text-encoding node that carries the guidance text.
	PositiveTitle = "positive"
	// TextInput is the input name holding the encoded text.
	TextInput = "text"
)

// ErrInvalidTemplate is returned when a node graph fails construction checks.
var ErrInvalidTemplate = errors.New("invalid workflow template")

// Meta holds descriptive node metadata.
type Meta struct {
	Title string `json:"title"`
}

// Node is one operation of the generation graph.
type Node struct {
	Inputs    map[string]Value `json:"inputs"`
	ClassType string           `json:"class_type"`
	Meta      Meta             `json:"_meta"`
}

func (n Node) clone() Node {
	inputs := make(map[string]Value, len(n.Inputs))
	for k, v := range n.Inputs {
		inputs[k] = v
	}
	n.Inputs = inputs
	return n
}

func (n Node) isPositiveText() bool {
	return n.ClassType == TextEncodeClass && n.Meta.Title == PositiveTitle
}

// Template is an immutable generation graph keyed by node id.
//
// Its shape (node ids, class tags, references) is fixed by New. The only
// derivation offered is WithGuidanceText, which returns a new Template, so a
// value handed to an in-flight submission never changes underneath it.
type Template struct {
	nodes map[string]Node
}

// New validates nodes and returns a template owning a private copy of them.
func New(nodes map[string]Node) (*Template, error) {
	owned := make(map[string]Node, len(nodes))
	for nodeID, n := range nodes {
		owned[nodeID] = n.clone()
	}

	t := &Template{nodes: owned}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// validate checks class tags, reference targets and acyclicity.
func (t *Template) validate() error {
	if len(t.nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidTemplate)
	}

	ids := t.IDs()
	for _, nodeID := range ids {
		n := t.nodes[nodeID]
		if nodeID == "" {
			return fmt.Errorf("%w: empty node id", ErrInvalidTemplate)
		}
		if n.ClassType == "" {
			return fmt.Errorf("%w: node %s has no class_type", ErrInvalidTemplate, nodeID)
		}
		for _, name := range sortedKeys(n.Inputs) {
			v := n.Inputs[name]
			if v.Kind() == KindInvalid {
				return fmt.Errorf("%w: node %s input %s is empty", ErrInvalidTemplate, nodeID, name)
			}
			ref, ok := v.AsRef()
			if !ok {
				continue
			}
			if _, exists := t.nodes[ref.Node]; !exists {
				return fmt.Errorf("%w: node %s input %s references missing node %s", ErrInvalidTemplate, nodeID, name, ref.Node)
			}
			if ref.Output < 0 {
				return fmt.Errorf("%w: node %s input %s has negative output index", ErrInvalidTemplate, nodeID, name)
			}
		}
	}

	return t.checkAcyclic(ids)
}

func (t *Template) checkAcyclic(ids []string) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(ids))

	var visit func(nodeID string) error
	visit = func(nodeID string) error {
		switch state[nodeID] {
		case visiting:
			return fmt.Errorf("%w: reference cycle through node %s", ErrInvalidTemplate, nodeID)
		case done:
			return nil
		}
		state[nodeID] = visiting
		n := t.nodes[nodeID]
		for _, name := range sortedKeys(n.Inputs) {
			if ref, ok := n.Inputs[name].AsRef(); ok {
				if err := visit(ref.Node); err != nil {
					return err
				}
			}
		}
		state[nodeID] = done
		return nil
	}

	for _, nodeID := range ids {
		if err := visit(nodeID); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of nodes.
func (t *Template) Len() int { return len(t.nodes) }

// IDs returns node ids, numeric ids first in numeric order, then the rest lexically.
func (t *Template) IDs() []string {
	ids := make([]string, 0, len(t.nodes))
	for nodeID := range t.nodes {
		ids = append(ids, nodeID)
	}
	slices.SortFunc(ids, compareIDs)
	return ids
}

// Node returns a copy of the node with the given id.
func (t *Template) Node(nodeID string) (Node, bool) {
	n, ok := t.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// GuidanceText returns the text of the first positive text-encoding node.
func (t *Template) GuidanceText() (string, bool) {
	for _, nodeID := range t.IDs() {
		n := t.nodes[nodeID]
		if !n.isPositiveText() {
			continue
		}
		if text, ok := n.Inputs[TextInput].AsString(); ok {
			return text, true
		}
	}
	return "", false
}

// WithGuidanceText returns a template whose positive text-encoding nodes
// carry text. Every other node and field is shared unchanged. When no node
// carries the positive marker, t itself is returned.
func (t *Template) WithGuidanceText(text string) *Template {
	var updated map[string]Node
	for nodeID, n := range t.nodes {
		if !n.isPositiveText() {
			continue
		}
		if updated == nil {
			updated = make(map[string]Node, len(t.nodes))
			for k, v := range t.nodes {
				updated[k] = v
			}
		}
		replaced := n.clone()
		replaced.Inputs[TextInput] = String(text)
		updated[nodeID] = replaced
	}

	if updated == nil {
		return t
	}
	return &Template{nodes: updated}
}

// MarshalJSON encodes the template in the API prompt format with sorted keys.
func (t *Template) MarshalJSON() ([]byte, error) {
	return sonic.ConfigStd.Marshal(t.nodes)
}

// UnmarshalJSON decodes and validates an API prompt document.
func (t *Template) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

func compareIDs(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return cmp.Compare(ai, bi)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
