package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/bytedance/sonic"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindRef
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindRef:
		return "ref"
	default:
		return "invalid"
	}
}

// Ref points at output Output of node Node in the same template.
type Ref struct {
	Node   string
	Output int
}

// Value is one node input: a scalar or a reference to another node's output.
// Numbers keep their original literal so a template round-trips byte for byte.
type Value struct {
	kind Kind
	str  string // string value or number literal
	b    bool
	ref  Ref
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer number value.
func Int(i int64) Value { return Value{kind: KindNumber, str: strconv.FormatInt(i, 10)} }

// Float returns a number value. NaN and infinities have no JSON form.
func Float(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("number %v has no JSON representation", f)
	}
	return Value{kind: KindNumber, str: strconv.FormatFloat(f, 'f', -1, 64)}, nil
}

// Reference returns a reference to output of node.
func Reference(node string, output int) Value {
	return Value{kind: KindRef, ref: Ref{Node: node, Output: output}}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsFloat returns the number held by v.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.str, 64)
	return f, err == nil
}

// AsRef returns the reference held by v.
func (v Value) AsRef() (Ref, bool) {
	return v.ref, v.kind == KindRef
}

// MarshalJSON encodes v in the API format: refs become ["node", index].
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return sonic.ConfigStd.Marshal(v.str)
	case KindNumber:
		return []byte(v.str), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindRef:
		node, err := sonic.ConfigStd.Marshal(v.ref.Node)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(node)+16)
		out = append(out, '[')
		out = append(out, node...)
		out = append(out, ',')
		out = strconv.AppendInt(out, int64(v.ref.Output), 10)
		return append(out, ']'), nil
	default:
		return nil, errors.New("cannot encode an empty input value")
	}
}

// UnmarshalJSON decodes a scalar or a ["node", index] pair.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty input value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		b, err := strconv.ParseBool(string(data))
		if err != nil {
			return fmt.Errorf("invalid boolean %q", data)
		}
		*v = Bool(b)
	case '[':
		ref, err := decodeRef(data)
		if err != nil {
			return err
		}
		*v = Value{kind: KindRef, ref: ref}
	case 'n':
		return errors.New("null input values are not supported")
	case '{':
		return errors.New("object input values are not supported")
	default:
		if _, err := strconv.ParseFloat(string(data), 64); err != nil {
			return fmt.Errorf("invalid number %q", data)
		}
		*v = Value{kind: KindNumber, str: string(data)}
	}
	return nil
}

func decodeRef(data []byte) (Ref, error) {
	var parts []interface{}
	if err := sonic.Unmarshal(data, &parts); err != nil {
		return Ref{}, err
	}
	if len(parts) != 2 {
		return Ref{}, fmt.Errorf("reference must be a [node, output] pair, got %d elements", len(parts))
	}

	node, ok := parts[0].(string)
	if !ok || node == "" {
		return Ref{}, errors.New("reference node must be a non-empty string")
	}

	index, ok := parts[1].(float64)
	if !ok || index != math.Trunc(index) {
		return Ref{}, errors.New("reference output must be an integer")
	}

	return Ref{Node: node, Output: int(index)}, nil
}
