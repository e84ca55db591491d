package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/dreamstream/internal/api/http"
	"github.com/GriffinCanCode/dreamstream/internal/api/middleware"
	"github.com/GriffinCanCode/dreamstream/internal/api/ws"
	"github.com/GriffinCanCode/dreamstream/internal/domain/dispatch"
	"github.com/GriffinCanCode/dreamstream/internal/domain/preview"
	"github.com/GriffinCanCode/dreamstream/internal/domain/session"
	"github.com/GriffinCanCode/dreamstream/internal/domain/stream"
	"github.com/GriffinCanCode/dreamstream/internal/domain/workflow"
	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/config"
	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/logging"
	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dreamstream/internal/providers/capture"
	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
)

const shutdownTimeout = 5 * time.Second

// Option configures a Server.
type Option func(*options)

type options struct {
	logger   *logging.Logger
	clientID id.ClientID
	source   capture.Source
}

// WithLogger overrides the logger built from configuration.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClientID fixes the session's client identity.
func WithClientID(clientID id.ClientID) Option {
	return func(o *options) { o.clientID = clientID }
}

// WithCaptureSource overrides the capture input from configuration.
func WithCaptureSource(source capture.Source) Option {
	return func(o *options) { o.source = source }
}

// Server wraps the session, its preview surface and their dependencies
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	view      *preview.View
	receiver  *stream.Receiver
	files     *stream.FileStore
	session   *session.Coordinator
	router    *gin.Engine
	wsHandler *ws.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
	closed     bool
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}

	metrics := monitoring.NewMetrics()

	tmpl, err := workflow.LoadOrDefault(cfg.Input.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if _, ok := tmpl.GuidanceText(); !ok {
		logger.Warn("Workflow has no positive text node; input will not change prompts",
			zap.String("path", cfg.Input.WorkflowPath))
	}

	clientID := o.clientID
	if clientID == "" {
		clientID = id.NewClientID()
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		view:    preview.NewView(),
	}

	var store stream.ImageStore = stream.NewMemoryStore()
	if cfg.Output.ImageDir != "" {
		files, err := stream.NewFileStore(cfg.Output.ImageDir)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare image directory: %w", err)
		}
		s.files = files
		store = files
	}

	receiver, err := stream.NewReceiver(cfg.Comfy.WSBase, clientID,
		stream.WithLogger(logger.Component("stream")),
		stream.WithMetrics(metrics),
		stream.WithStore(store),
		stream.WithRenderer(s.view),
		stream.WithStatusSink(s.view),
	)
	if err != nil {
		s.closeFiles()
		return nil, fmt.Errorf("invalid stream address: %w", err)
	}
	s.receiver = receiver

	dispatcher := dispatch.New(cfg.Comfy.HTTPBase,
		dispatch.WithLogger(logger.Component("dispatch")),
		dispatch.WithMetrics(metrics),
		dispatch.WithTimeout(cfg.Comfy.Timeout),
	)

	sessionOpts := []session.Option{
		session.WithLogger(logger.Component("session")),
		session.WithMetrics(metrics),
		session.WithStream(receiver),
		session.WithObserver(s.view.SetState),
	}
	source := o.source
	if source == nil {
		switch {
		case cfg.Capture.Command != "":
			source = capture.NewCommandSource(cfg.Capture.Command, cfg.Capture.Language, logger.Component("capture"))
		case cfg.Capture.File != "":
			source = capture.NewFileSource(cfg.Capture.File)
		}
	}
	if source != nil {
		sessionOpts = append(sessionOpts, session.WithSource(source))
	}

	s.session = session.New(session.Config{
		ClientID:      clientID,
		Template:      tmpl,
		ThrottleDelay: cfg.Input.ThrottleDelay,
		DebounceDelay: cfg.Input.DebounceDelay,
	}, dispatcher, sessionOpts...)

	if cfg.Preview.Enabled {
		s.router = s.buildRouter()
	}

	logger.Info("Server initialized",
		zap.String("client_id", clientID.String()),
		zap.String("prompt_endpoint", dispatcher.Endpoint()),
		zap.String("stream_url", receiver.URL()),
		zap.Bool("capture", source != nil),
		zap.Bool("preview", cfg.Preview.Enabled),
	)
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(s.logger.Component("preview")))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	limits := middleware.RateLimitConfig{
		RequestsPerSecond: s.config.Preview.RequestsPerSecond,
		Burst:             s.config.Preview.Burst,
	}
	if limits.Enabled() {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", limits.RequestsPerSecond),
			zap.Int("burst", limits.Burst),
		)
		router.Use(middleware.RateLimit(limits))
	}

	handlers := apihttp.NewHandlers(s.session, s.view, s.receiver)
	handlers.Register(router)

	s.wsHandler = ws.NewHandler(s.view, s.logger.Component("preview"), s.metrics)
	router.GET("/stream", s.wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	return router
}

// Session returns the coordinator driving generation.
func (s *Server) Session() *session.Coordinator { return s.session }

// View returns the preview state.
func (s *Server) View() *preview.View { return s.view }

// Metrics returns the process metrics.
func (s *Server) Metrics() *monitoring.Metrics { return s.metrics }

// Router returns the preview router, or nil when the preview is disabled.
func (s *Server) Router() *gin.Engine { return s.router }

// Logger returns the process logger.
func (s *Server) Logger() *logging.Logger { return s.logger }

// Start opens the result stream and starts the preview server. A stream
// that cannot be opened is logged and left closed; submissions still go out.
func (s *Server) Start(ctx context.Context) error {
	if err := s.session.Start(ctx); err != nil {
		if errors.Is(err, session.ErrClosed) {
			return err
		}
		s.logger.Warn("Result stream unavailable; images will not be shown", zap.Error(err))
	}

	if s.router == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Preview.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Preview.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return session.ErrClosed
	}
	s.httpServer = srv
	s.listener = ln
	s.serveErr = serveErr
	s.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	s.logger.Info("Preview server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the preview listen address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors delivers a preview server failure, if any. It is nil before Start.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Close tears the session down and stops the preview server. Every step
// runs even if an earlier one fails.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if s.wsHandler != nil {
		s.wsHandler.Shutdown()
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if serr := srv.Shutdown(ctx); serr != nil {
			err = multierr.Append(err, fmt.Errorf("preview shutdown: %w", serr))
		}
		cancel()
	}

	err = multierr.Append(err, s.session.Close())
	err = multierr.Append(err, s.closeFiles())

	s.logger.Info("Server stopped")
	_ = s.logger.Sync()
	return err
}

func (s *Server) closeFiles() error {
	if s.files == nil {
		return nil
	}
	return s.files.Close()
}
