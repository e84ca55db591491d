package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
)

// HeaderSize is the length of the header preceding binary image payloads.
const HeaderSize = 8

// ErrDecode marks binary frames that do not carry a usable image.
var ErrDecode = errors.New("undecodable image frame")

// FrameKind tells text frames from binary frames.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// String returns the string representation of the frame kind
func (k FrameKind) String() string {
	if k == FrameBinary {
		return "binary"
	}
	return "text"
}

// Frame is one inbound websocket message.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Header is the binary frame prefix. The backend writes the event type and
// the image format big-endian; neither is needed to display the image.
type Header struct {
	Event  uint32
	Format uint32
}

// ImageInfo describes a decoded payload.
type ImageInfo struct {
	MIME   string
	Width  int
	Height int
}

// ParseHeader reads the header of a binary frame.
func ParseHeader(data []byte) (Header, bool) {
	if len(data) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Event:  binary.BigEndian.Uint32(data[0:4]),
		Format: binary.BigEndian.Uint32(data[4:8]),
	}, true
}

// DecodeImage strips the header from a binary frame and checks that the
// remainder is an image. The returned payload aliases data.
func DecodeImage(data []byte) ([]byte, ImageInfo, error) {
	if len(data) <= HeaderSize {
		return nil, ImageInfo{}, fmt.Errorf("%w: %d bytes leave no payload after the header", ErrDecode, len(data))
	}
	payload := data[HeaderSize:]

	mtype := mimetype.Detect(payload)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, ImageInfo{}, fmt.Errorf("%w: payload detected as %s", ErrDecode, mtype.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, ImageInfo{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return payload, ImageInfo{MIME: mtype.String(), Width: cfg.Width, Height: cfg.Height}, nil
}

// ControlMessage is a text frame from the backend: {"type": ..., "data": {...}}.
type ControlMessage struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Control message types sent by the backend.
const (
	ControlStatus          = "status"
	ControlProgress        = "progress"
	ControlExecuting       = "executing"
	ControlExecuted        = "executed"
	ControlExecutionStart  = "execution_start"
	ControlExecutionCached = "execution_cached"
	ControlExecutionError  = "execution_error"
)

// ParseControl decodes a text frame.
func ParseControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("decode control message: %w", err)
	}
	if msg.Type == "" {
		return ControlMessage{}, errors.New("control message has no type")
	}
	return msg, nil
}

// Progress returns the sampler step of a progress message.
func (m ControlMessage) Progress() (value, max int, ok bool) {
	if m.Type != ControlProgress {
		return 0, 0, false
	}
	v, okV := number(m.Data["value"])
	mx, okM := number(m.Data["max"])
	return v, mx, okV && okM
}

// QueueRemaining returns the backend queue depth of a status message.
func (m ControlMessage) QueueRemaining() (int, bool) {
	if m.Type != ControlStatus {
		return 0, false
	}
	status, _ := m.Data["status"].(map[string]interface{})
	info, _ := status["exec_info"].(map[string]interface{})
	return number(info["queue_remaining"])
}

// Node returns the node an executing message refers to. An empty node
// with ok set means the prompt finished.
func (m ControlMessage) Node() (string, bool) {
	if m.Type != ControlExecuting {
		return "", false
	}
	node, _ := m.Data["node"].(string)
	return node, true
}

// PromptID returns the prompt a message belongs to, if it names one.
func (m ControlMessage) PromptID() string {
	pid, _ := m.Data["prompt_id"].(string)
	return pid
}

func number(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
