package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/dreamstream/internal/domain/preview"
	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 10
	eventBuffer    = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one outbound websocket message.
type Message struct {
	Type      string            `json:"type"`
	Snapshot  *preview.Snapshot `json:"snapshot,omitempty"`
	Event     *preview.Event    `json:"event,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

type inbound struct {
	Type string `json:"type"`
}

// Handler manages WebSocket connections
type Handler struct {
	view    *preview.View
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	stopping bool
	done     chan struct{}
	active   sync.WaitGroup
}

// NewHandler creates a new WebSocket handler
func NewHandler(view *preview.View, logger *zap.Logger, metrics *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		view:    view,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Shutdown closes every open connection with a going-away frame and waits
// for their loops to return. Connections upgraded afterwards are closed
// straight away. http.Server.Shutdown does not wait for hijacked
// connections, so call this before it.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	if !h.stopping {
		h.stopping = true
		close(h.done)
	}
	h.mu.Unlock()
	h.active.Wait()
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		h.goAway(conn)
		return
	}
	h.active.Add(1)
	h.mu.Unlock()
	defer h.active.Done()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	events, unsubscribe := h.view.Subscribe(eventBuffer)
	defer unsubscribe()

	snap := h.view.Snapshot()
	if err := h.send(conn, Message{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	// Reader owns inbound traffic; writes below stay on this goroutine
	pongs := make(chan struct{}, 1)
	closed := make(chan struct{})
	go h.readLoop(conn, pongs, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.send(conn, Message{Type: ev.Type, Event: &ev}); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-pongs:
			if err := h.send(conn, Message{Type: "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-h.done:
			h.goAway(conn)
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) readLoop(conn *websocket.Conn, pongs chan<- struct{}, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Handler) goAway(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (h *Handler) send(conn *websocket.Conn, msg Message) error {
	msg.Timestamp = time.Now().Unix()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
