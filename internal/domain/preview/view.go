// Package preview holds what the local preview surface displays: the
// current image, the input state and generation progress. It is the render
// sink of the stream receiver and fans every change out to subscribers.
package preview

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/dreamstream/internal/domain/session"
	"github.com/GriffinCanCode/dreamstream/internal/domain/stream"
)

// Event types pushed to subscribers.
const (
	EventImage    = "image"
	EventCleared  = "cleared"
	EventState    = "state"
	EventProgress = "progress"
)

// ImageMeta describes the displayed image without its bytes.
type ImageMeta struct {
	ID       string    `json:"id"`
	MIME     string    `json:"mime"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Bytes    int       `json:"bytes"`
	Received time.Time `json:"received"`
}

// Progress is the latest generation progress reported by the backend.
type Progress struct {
	PromptID       string `json:"prompt_id,omitempty"`
	Node           string `json:"node,omitempty"`
	Step           int    `json:"step"`
	Steps          int    `json:"steps"`
	QueueRemaining int    `json:"queue_remaining"`
	Error          string `json:"error,omitempty"`
}

// Snapshot is the full view state.
type Snapshot struct {
	State    session.State `json:"state"`
	Image    *ImageMeta    `json:"image,omitempty"`
	Progress Progress      `json:"progress"`
}

// Event is one change pushed to subscribers.
type Event struct {
	Type     string         `json:"type"`
	Image    *ImageMeta     `json:"image,omitempty"`
	State    *session.State `json:"state,omitempty"`
	Progress *Progress      `json:"progress,omitempty"`
}

// View is the presentation state of one session.
type View struct {
	mu       sync.RWMutex
	image    *stream.Image
	state    session.State
	progress Progress

	subMu  sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
}

// NewView creates an empty view.
func NewView() *View {
	return &View{subs: make(map[uint64]chan Event)}
}

func metaOf(img *stream.Image) *ImageMeta {
	if img == nil {
		return nil
	}
	return &ImageMeta{
		ID:       img.ID,
		MIME:     img.MIME,
		Width:    img.Width,
		Height:   img.Height,
		Bytes:    len(img.Data),
		Received: img.Received,
	}
}

// Render installs img as the displayed image. Nil clears the display.
func (v *View) Render(img *stream.Image) {
	v.mu.Lock()
	v.image = img
	v.mu.Unlock()

	if img == nil {
		v.publish(Event{Type: EventCleared})
		return
	}
	v.publish(Event{Type: EventImage, Image: metaOf(img)})
}

// OnStatus folds a control message into the progress.
func (v *View) OnStatus(msg stream.ControlMessage) {
	v.mu.Lock()
	p := v.progress
	changed := true
	switch msg.Type {
	case stream.ControlExecutionStart:
		p = Progress{PromptID: msg.PromptID(), QueueRemaining: p.QueueRemaining}
	case stream.ControlProgress:
		p.Step, p.Steps, _ = msg.Progress()
		if pid := msg.PromptID(); pid != "" {
			p.PromptID = pid
		}
	case stream.ControlExecuting:
		p.Node, _ = msg.Node()
	case stream.ControlStatus:
		p.QueueRemaining, _ = msg.QueueRemaining()
	case stream.ControlExecutionError:
		if text, ok := msg.Data["exception_message"].(string); ok {
			p.Error = text
		} else {
			p.Error = "execution error"
		}
	default:
		changed = false
	}
	v.progress = p
	v.mu.Unlock()

	if changed {
		v.publish(Event{Type: EventProgress, Progress: &p})
	}
}

// SetState records the input state.
func (v *View) SetState(s session.State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
	v.publish(Event{Type: EventState, State: &s})
}

// Image returns the displayed image, or nil.
func (v *View) Image() *stream.Image {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.image
}

// Snapshot returns the current view state.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{
		State:    v.state,
		Image:    metaOf(v.image),
		Progress: v.progress,
	}
}

// Subscribe returns a channel of future events and a function that ends
// the subscription. Events are dropped for subscribers that fall behind.
func (v *View) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	v.subMu.Lock()
	subID := v.nextID
	v.nextID++
	v.subs[subID] = ch
	v.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.subMu.Lock()
			delete(v.subs, subID)
			v.subMu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (v *View) Subscribers() int {
	v.subMu.Lock()
	defer v.subMu.Unlock()
	return len(v.subs)
}

func (v *View) publish(ev Event) {
	v.subMu.Lock()
	defer v.subMu.Unlock()
	for _, ch := range v.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
