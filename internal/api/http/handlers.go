package http

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/dreamstream/internal/api/middleware"
	"github.com/GriffinCanCode/dreamstream/internal/domain/preview"
	"github.com/GriffinCanCode/dreamstream/internal/domain/session"
	"github.com/GriffinCanCode/dreamstream/internal/domain/stream"
	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
	"github.com/gin-gonic/gin"
)

// maxInputBytes bounds the body of an input request.
const maxInputBytes = 64 << 10

// Controller is the session surface the handlers drive.
type Controller interface {
	HandleInput(text string) error
	ToggleCapture() (bool, error)
	State() session.State
	ClientID() id.ClientID
}

// StreamStatus reports the result stream connection state.
type StreamStatus interface {
	State() stream.State
}

// InputRequest is the body of POST /input.
type InputRequest struct {
	Text *string `json:"text" binding:"required"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	session Controller
	view    *preview.View
	stream  StreamStatus
}

// NewHandlers creates a new handler set. stream may be nil.
func NewHandlers(session Controller, view *preview.View, stream StreamStatus) *Handlers {
	return &Handlers{
		session: session,
		view:    view,
		stream:  stream,
	}
}

// Register mounts the preview routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/state", h.State)
	r.GET("/image", h.Image)
	r.POST("/input", h.Input)
	r.POST("/capture/toggle", h.ToggleCapture)
}

// Health handles health check
func (h *Handlers) Health(c *gin.Context) {
	streamState := "detached"
	if h.stream != nil {
		streamState = h.stream.State().String()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "dreamstream",
		"client_id": h.session.ClientID().String(),
		"stream":    streamState,
	})
}

// State returns the input state, image metadata and progress.
func (h *Handlers) State(c *gin.Context) {
	snap := h.view.Snapshot()
	// The session is authoritative for text and recording
	snap.State = h.session.State()
	c.JSON(http.StatusOK, snap)
}

// Image serves the displayed image bytes.
func (h *Handlers) Image(c *gin.Context) {
	img := h.view.Image()
	if img == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header(middleware.ImageIDHeader, img.ID)
	c.Data(http.StatusOK, img.MIME, img.Data)
}

// Input replaces the current text.
func (h *Handlers) Input(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxInputBytes)

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.session.HandleInput(*req.Text); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, h.session.State())
}

// ToggleCapture starts or stops speech capture.
func (h *Handlers) ToggleCapture(c *gin.Context) {
	recording, err := h.session.ToggleCapture()
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recording": recording})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNoCaptureSource):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
