package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyOpen is returned by Open while a connection is live.
	ErrAlreadyOpen = errors.New("stream already open")
	// ErrClosed is returned by Open after Close.
	ErrClosed = errors.New("stream receiver closed")
)

// State is the connection state of a Receiver.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Renderer displays the current image. A nil image clears the display.
type Renderer interface {
	Render(img *Image)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(img *Image)

// Render calls f(img).
func (f RendererFunc) Render(img *Image) { f(img) }

// StatusSink receives decoded control messages.
type StatusSink interface {
	OnStatus(msg ControlMessage)
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records frames, decode errors and live images.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(r *Receiver) {
		r.metrics = metrics
	}
}

// WithStore sets where images are kept. Defaults to a MemoryStore.
func WithStore(store ImageStore) Option {
	return func(r *Receiver) {
		if store != nil {
			r.store = store
		}
	}
}

// WithRenderer sets the display sink.
func WithRenderer(renderer Renderer) Option {
	return func(r *Receiver) {
		r.renderer = renderer
	}
}

// WithStatusSink forwards control messages.
func WithStatusSink(sink StatusSink) Option {
	return func(r *Receiver) {
		r.status = sink
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(r *Receiver) {
		if dialer != nil {
			r.dialer = dialer
		}
	}
}

// WithFrameBuffer sets how many frames may queue between reader and consumer.
func WithFrameBuffer(n int) Option {
	return func(r *Receiver) {
		if n >= 0 {
			r.frameBuffer = n
		}
	}
}

// Receiver owns the result stream of one client id.
type Receiver struct {
	url         string
	clientID    id.ClientID
	dialer      *websocket.Dialer
	store       ImageStore
	renderer    Renderer
	status      StatusSink
	frameBuffer int
	logger      *zap.Logger
	metrics     *monitoring.Metrics

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	done    chan struct{}
	current *Image
	closed  bool
	wg      sync.WaitGroup
}

// StreamURL appends the clientId query parameter to base.
func StreamURL(base string, clientID id.ClientID) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid stream address %q: %w", base, err)
	}
	q := u.Query()
	q.Set("clientId", clientID.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewReceiver creates a receiver for wsBase. Nothing is dialed until Open.
func NewReceiver(wsBase string, clientID id.ClientID, opts ...Option) (*Receiver, error) {
	streamURL, err := StreamURL(wsBase, clientID)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	close(done)

	r := &Receiver{
		url:         streamURL,
		clientID:    clientID,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		store:       NewMemoryStore(),
		frameBuffer: 16,
		logger:      zap.NewNop(),
		done:        done,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// URL returns the address the receiver dials.
func (r *Receiver) URL() string {
	return r.url
}

// State returns the connection state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Current returns the live image, or nil.
func (r *Receiver) Current() *Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Done is closed when the current connection has ended.
func (r *Receiver) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Open dials the stream and starts consuming it.
func (r *Receiver) Open(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrClosed
	case r.state != Disconnected:
		r.mu.Unlock()
		return ErrAlreadyOpen
	}
	r.state = Connecting
	r.mu.Unlock()

	conn, resp, err := r.dialer.DialContext(ctx, r.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		r.setState(Disconnected)
		return fmt.Errorf("dial stream: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	done := make(chan struct{})
	frames := make(chan Frame, r.frameBuffer)
	r.conn = conn
	r.done = done
	r.state = Connected
	r.wg.Add(2)
	r.mu.Unlock()

	r.metrics.SetStreamConnected(true)
	r.logger.Info("Stream connected", zap.String("url", r.url))

	go r.readLoop(conn, frames)
	go r.processLoop(conn, frames, done)
	return nil
}

func (r *Receiver) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// readLoop pumps messages until the connection fails or is closed.
func (r *Receiver) readLoop(conn *websocket.Conn, frames chan<- Frame) {
	defer r.wg.Done()
	defer close(frames)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !r.isClosed() {
				r.logger.Warn("Stream read failed", zap.Error(err))
			} else {
				r.logger.Debug("Stream ended", zap.Error(err))
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			frames <- Frame{Kind: FrameText, Data: data}
		case websocket.BinaryMessage:
			frames <- Frame{Kind: FrameBinary, Data: data}
		}
	}
}

// processLoop handles frames in arrival order, then marks the connection gone.
func (r *Receiver) processLoop(conn *websocket.Conn, frames <-chan Frame, done chan struct{}) {
	defer r.wg.Done()

	for frame := range frames {
		r.metrics.RecordFrame(frame.Kind.String())
		switch frame.Kind {
		case FrameText:
			r.handleText(frame.Data)
		case FrameBinary:
			r.handleBinary(frame.Data)
		}
	}

	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
		r.state = Disconnected
	}
	r.mu.Unlock()
	conn.Close()
	close(done)

	r.metrics.SetStreamConnected(false)
	r.logger.Info("Stream disconnected")
}

func (r *Receiver) handleText(data []byte) {
	msg, err := ParseControl(data)
	if err != nil {
		r.logger.Debug("Ignoring text frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	fields := []zap.Field{zap.String("type", msg.Type)}
	if pid := msg.PromptID(); pid != "" {
		fields = append(fields, zap.String("prompt_id", pid))
	}
	if value, max, ok := msg.Progress(); ok {
		fields = append(fields, zap.Int("step", value), zap.Int("steps", max))
	}
	if queued, ok := msg.QueueRemaining(); ok {
		fields = append(fields, zap.Int("queue_remaining", queued))
	}
	if msg.Type == ControlExecutionError {
		r.logger.Warn("Backend execution error", append(fields, zap.Any("data", msg.Data))...)
	} else {
		r.logger.Debug("Control message", fields...)
	}

	if r.status != nil {
		r.status.OnStatus(msg)
	}
}

func (r *Receiver) handleBinary(data []byte) {
	payload, info, err := DecodeImage(data)
	if err != nil {
		// Keep whatever is on display
		r.metrics.RecordDecodeError()
		r.logger.Warn("Dropping binary frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	img, err := r.store.Create(payload, info)
	if err != nil {
		r.logger.Error("Failed to store image", zap.Error(err))
		return
	}
	r.metrics.ImageCreated(len(payload))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.release(img)
		return
	}
	prev := r.current
	r.current = img
	r.mu.Unlock()

	if r.renderer != nil {
		r.renderer.Render(img)
	}
	if prev != nil {
		r.release(prev)
	}

	header, _ := ParseHeader(data)
	r.logger.Debug("Image received",
		zap.String("image_id", img.ID),
		zap.String("mime", info.MIME),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Uint32("event", header.Event))
}

func (r *Receiver) release(img *Image) error {
	r.metrics.ImageReleased()
	if err := r.store.Release(img); err != nil {
		r.logger.Warn("Failed to release image", zap.String("image_id", img.ID), zap.Error(err))
		return err
	}
	return nil
}

func (r *Receiver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close closes the connection, waits for the consumer to stop and releases
// the live image. Every step runs even if an earlier one fails. Calling
// Close again is a no-op.
func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.mu.Unlock()

	var err error
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := conn.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			r.logger.Debug("Close handshake failed", zap.Error(werr))
		}
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	r.wg.Wait()

	r.mu.Lock()
	img := r.current
	r.current = nil
	r.state = Disconnected
	r.conn = nil
	r.mu.Unlock()

	if img != nil {
		if r.renderer != nil {
			r.renderer.Render(nil)
		}
		err = multierr.Append(err, r.release(img))
	}
	return err
}
