package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/dreamstream/internal/domain/dispatch"
	"github.com/GriffinCanCode/dreamstream/internal/domain/throttle"
	"github.com/GriffinCanCode/dreamstream/internal/domain/workflow"
	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dreamstream/internal/providers/capture"
	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned once the session has been torn down.
	ErrClosed = errors.New("session closed")
	// ErrNoCaptureSource is returned by ToggleCapture without a source.
	ErrNoCaptureSource = errors.New("no capture source configured")
)

// Input origins, used as metric labels.
const (
	OriginTyped  = "typed"
	OriginSpeech = "speech"
)

// Policy names, used as metric labels.
const (
	PolicyThrottle = "throttle"
	PolicyDebounce = "debounce"
)

// Submitter sends a workflow snapshot to the backend.
type Submitter interface {
	Submit(ctx context.Context, tmpl *workflow.Template, clientID id.ClientID) (*dispatch.Ack, error)
}

// Stream is the session's result connection.
type Stream interface {
	Open(ctx context.Context) error
	Close() error
}

// State is what the presentation layer shows besides the image.
type State struct {
	Text      string `json:"text"`
	Recording bool   `json:"recording"`
}

// Config holds the per-session settings.
type Config struct {
	ClientID      id.ClientID
	Template      *workflow.Template
	ThrottleDelay time.Duration
	DebounceDelay time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records inputs and policy firings.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// WithStream attaches the result connection the session owns.
func WithStream(stream Stream) Option {
	return func(c *Coordinator) {
		c.stream = stream
	}
}

// WithSource attaches a continuous input source.
func WithSource(source capture.Source) Option {
	return func(c *Coordinator) {
		c.source = source
	}
}

// WithObserver is called after every text or recording change.
func WithObserver(fn func(State)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// Coordinator owns one session: its client id, its template and its stream.
type Coordinator struct {
	clientID  id.ClientID
	sessionID id.SessionID
	base      *workflow.Template
	submitter Submitter
	stream    Stream
	source    capture.Source
	observers []func(State)
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	throttle *throttle.Throttle[*workflow.Template]
	debounce *throttle.Debounce[*workflow.Template]

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the display state and orders input events
	mu         sync.Mutex
	text       string
	recording  bool
	captureGen uint64
	closed     bool

	// subMu guards submission admission; the throttle fires while mu is held
	subMu    sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

// New creates a coordinator. A zero ClientID is replaced by a fresh one and
// a nil Template by the embedded workflow.
func New(cfg Config, submitter Submitter, opts ...Option) *Coordinator {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = id.NewClientID()
	}
	base := cfg.Template
	if base == nil {
		base = workflow.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		clientID:  clientID,
		sessionID: id.NewSessionID(),
		base:      base,
		submitter: submitter,
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(
		zap.String("session_id", c.sessionID.String()),
		zap.String("client_id", c.clientID.String()))

	c.throttle = throttle.NewThrottle(cfg.ThrottleDelay, func(t *workflow.Template) {
		c.submit(PolicyThrottle, t)
	})
	c.debounce = throttle.NewDebounce(cfg.DebounceDelay, func(t *workflow.Template) {
		c.submit(PolicyDebounce, t)
	})
	return c
}

// ClientID returns the identity shared by submissions and the stream.
func (c *Coordinator) ClientID() id.ClientID { return c.clientID }

// SessionID returns the local session id used in logs.
func (c *Coordinator) SessionID() id.SessionID { return c.sessionID }

// Start opens the result stream, if one is attached.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c.logger.Info("Session started")
	if c.stream == nil {
		return nil
	}
	return c.stream.Open(ctx)
}

// HandleInput records text as the current input and feeds the derived
// snapshot to both policies.
func (c *Coordinator) HandleInput(text string) error {
	return c.handle(text, OriginTyped)
}

func (c *Coordinator) handle(text, origin string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.text = text
	state := c.stateLocked()

	snapshot := c.base.WithGuidanceText(text)
	c.throttle.Call(snapshot)
	c.debounce.Call(snapshot)
	c.mu.Unlock()

	c.metrics.RecordInput(origin)
	c.notify(state)
	return nil
}

// submit starts one submission unless the session is stopping.
func (c *Coordinator) submit(policy string, tmpl *workflow.Template) {
	c.subMu.Lock()
	if c.stopping {
		c.subMu.Unlock()
		return
	}
	c.inflight.Add(1)
	c.subMu.Unlock()

	c.metrics.RecordSubmission(policy)
	go func() {
		defer c.inflight.Done()

		ack, err := c.submitter.Submit(c.ctx, tmpl, c.clientID)
		if err != nil {
			// The next input change resubmits
			c.logger.Warn("Submission failed", zap.String("policy", policy), zap.Error(err))
			return
		}
		c.logger.Debug("Submission accepted", zap.String("policy", policy), zap.String("prompt_id", ack.PromptID))
	}()
}

// ToggleCapture starts or stops the capture source and reports whether
// capture is now running. Stopping waits for the source to end; its final
// transcript still counts as input and a pending debounced submission
// stays in place.
func (c *Coordinator) ToggleCapture() (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if c.source == nil {
		c.mu.Unlock()
		return false, ErrNoCaptureSource
	}

	if c.recording {
		c.recording = false
		state := c.stateLocked()
		c.mu.Unlock()

		c.notify(state)
		c.logger.Info("Capture stopped")
		return false, c.source.Stop()
	}

	c.recording = true
	c.captureGen++
	handler := &captureHandler{c: c, gen: c.captureGen}
	c.mu.Unlock()

	if err := c.source.Start(c.ctx, handler); err != nil {
		c.mu.Lock()
		if c.captureGen == handler.gen {
			c.recording = false
		}
		c.mu.Unlock()
		return false, err
	}

	c.notify(c.State())
	c.logger.Info("Capture started")
	return true, nil
}

// State returns the current text and recording flag.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Text returns the current input text.
func (c *Coordinator) Text() string {
	return c.State().Text
}

// Recording reports whether capture is running.
func (c *Coordinator) Recording() bool {
	return c.State().Recording
}

func (c *Coordinator) stateLocked() State {
	return State{Text: c.text, Recording: c.recording}
}

func (c *Coordinator) notify(state State) {
	for _, fn := range c.observers {
		fn(state)
	}
}

// Close tears the session down. It is safe to call more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.recording = false
	c.captureGen++
	c.mu.Unlock()

	c.subMu.Lock()
	c.stopping = true
	c.subMu.Unlock()

	var err error
	c.throttle.Cancel()
	c.debounce.Cancel()

	if c.source != nil {
		if serr := c.source.Stop(); serr != nil {
			err = multierr.Append(err, serr)
		}
	}
	if c.stream != nil {
		if serr := c.stream.Close(); serr != nil {
			err = multierr.Append(err, serr)
		}
	}

	c.cancel()
	c.inflight.Wait()

	if err != nil {
		c.logger.Warn("Session closed with errors", zap.Error(err))
	} else {
		c.logger.Info("Session closed")
	}
	return err
}

// captureHandler routes one capture run into the session. A stopped run
// keeps delivering until it ends; events from a run that has been replaced
// or outlived the session are ignored.
type captureHandler struct {
	c   *Coordinator
	gen uint64
}

func (h *captureHandler) current() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.captureGen == h.gen
}

func (h *captureHandler) OnTranscript(text string) {
	if !h.current() {
		return
	}
	if err := h.c.handle(text, OriginSpeech); err != nil {
		h.c.logger.Debug("Transcript dropped", zap.Error(err))
	}
}

func (h *captureHandler) OnEnd(err error) {
	h.c.mu.Lock()
	if h.c.captureGen != h.gen {
		h.c.mu.Unlock()
		return
	}
	wasRecording := h.c.recording
	h.c.recording = false
	h.c.captureGen++
	state := h.c.stateLocked()
	h.c.mu.Unlock()

	if err != nil {
		h.c.logger.Warn("Capture ended", zap.Error(err))
	} else {
		h.c.logger.Info("Capture ended")
	}
	if wasRecording {
		h.c.notify(state)
	}
}
