package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingStore records every image it hands out and takes back.
type trackingStore struct {
	mu       sync.Mutex
	created  []*Image
	released []*Image
	live     map[string]*Image
}

func newTrackingStore() *trackingStore {
	return &trackingStore{live: make(map[string]*Image)}
}

func (s *trackingStore) Create(payload []byte, info ImageInfo) (*Image, error) {
	img := newImage(payload, info)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, img)
	s.live[img.ID] = img
	return img, nil
}

func (s *trackingStore) Release(img *Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, img)
	delete(s.live, img.ID)
	return nil
}

func (s *trackingStore) counts() (created, released, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created), len(s.released), len(s.live)
}

type statusRecorder struct {
	ch chan ControlMessage
}

func (s *statusRecorder) OnStatus(msg ControlMessage) { s.ch <- msg }

type renderRecorder struct {
	mu     sync.Mutex
	images []*Image
}

func (r *renderRecorder) Render(img *Image) {
	r.mu.Lock()
	r.images = append(r.images, img)
	r.mu.Unlock()
}

func (r *renderRecorder) last() (*Image, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.images) == 0 {
		return nil, 0
	}
	return r.images[len(r.images)-1], len(r.images)
}

type wsBackend struct {
	srv       *httptest.Server
	clientIDs chan string
	conns     chan *websocket.Conn
}

func newWSBackend(t *testing.T) *wsBackend {
	t.Helper()
	b := &wsBackend{
		clientIDs: make(chan string, 4),
		conns:     make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.clientIDs <- r.URL.Query().Get("clientId")
		b.conns <- conn
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *wsBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
}

func (b *wsBackend) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection")
		return nil
	}
}

func waitStatus(t *testing.T, ch <-chan ControlMessage, wantType string) {
	t.Helper()
	select {
	case msg := <-ch:
		require.Equal(t, wantType, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s control message", wantType)
	}
}

func TestStreamURL(t *testing.T) {
	clientID := id.ClientID("c0ffee00-0000-4000-8000-000000000000")

	u, err := StreamURL("ws://127.0.0.1:8188/ws", clientID)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8188/ws?clientId="+clientID.String(), u)

	u, err = StreamURL("wss://host/ws?token=abc", clientID)
	require.NoError(t, err)
	assert.Contains(t, u, "token=abc")
	assert.Contains(t, u, "clientId="+clientID.String())
}

func TestReceiverOpenSendsClientID(t *testing.T) {
	backend := newWSBackend(t)
	clientID := id.NewClientID()

	r, err := NewReceiver(backend.url(), clientID)
	require.NoError(t, err)
	assert.Equal(t, Disconnected, r.State())

	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	assert.Equal(t, clientID.String(), <-backend.clientIDs)
	assert.Equal(t, Connected, r.State())
	assert.ErrorIs(t, r.Open(context.Background()), ErrAlreadyOpen)
}

func TestReceiverKeepsOneLiveImage(t *testing.T) {
	backend := newWSBackend(t)
	store := newTrackingStore()
	renderer := &renderRecorder{}
	status := &statusRecorder{ch: make(chan ControlMessage, 8)}
	metrics := monitoring.NewMetrics()

	r, err := NewReceiver(backend.url(), id.NewClientID(),
		WithStore(store), WithRenderer(renderer), WithStatusSink(status), WithMetrics(metrics))
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	conn := backend.accept(t)
	first := encodePNG(t, 4, 4)
	second := encodePNG(t, 8, 8)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"execution_start","data":{"prompt_id":"p"}}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, binaryFrame([]byte{0, 0, 0, 1, 0, 0, 0, 2}, first)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, binaryFrame([]byte{9, 9, 9, 9, 9, 9, 9, 9}, second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executing","data":{"node":null}}`)))

	waitStatus(t, status.ch, ControlExecutionStart)
	waitStatus(t, status.ch, ControlExecuting)

	created, released, live := store.counts()
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, live)

	current := r.Current()
	require.NotNil(t, current)
	assert.Equal(t, second, current.Data)
	assert.Equal(t, 8, current.Width)
	assert.Same(t, store.created[0], store.released[0])

	rendered, renders := renderer.last()
	assert.Same(t, current, rendered)
	assert.Equal(t, 2, renders)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ImagesLive))
}

func TestReceiverDecodeErrorKeepsImage(t *testing.T) {
	backend := newWSBackend(t)
	store := newTrackingStore()
	status := &statusRecorder{ch: make(chan ControlMessage, 8)}
	metrics := monitoring.NewMetrics()

	r, err := NewReceiver(backend.url(), id.NewClientID(),
		WithStore(store), WithStatusSink(status), WithMetrics(metrics))
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	conn := backend.accept(t)
	good := encodePNG(t, 2, 2)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, binaryFrame(make([]byte, HeaderSize), good)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, binaryFrame(make([]byte, HeaderSize), []byte("garbage"))))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","data":{}}`)))

	waitStatus(t, status.ch, ControlStatus)

	current := r.Current()
	require.NotNil(t, current)
	assert.Equal(t, good, current.Data)

	created, released, live := store.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, released)
	assert.Equal(t, 1, live)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StreamDecodeErrors))
	assert.Equal(t, Connected, r.State())
}

func TestReceiverCloseReleasesImage(t *testing.T) {
	backend := newWSBackend(t)
	store := newTrackingStore()
	renderer := &renderRecorder{}
	status := &statusRecorder{ch: make(chan ControlMessage, 8)}

	r, err := NewReceiver(backend.url(), id.NewClientID(),
		WithStore(store), WithRenderer(renderer), WithStatusSink(status))
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background()))

	conn := backend.accept(t)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, binaryFrame(make([]byte, HeaderSize), encodePNG(t, 1, 1))))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"executed","data":{}}`)))
	waitStatus(t, status.ch, ControlExecuted)

	serverSawClose := make(chan struct{})
	go func() {
		defer close(serverSawClose)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Equal(t, Disconnected, r.State())
	assert.Nil(t, r.Current())
	_, _, live := store.counts()
	assert.Equal(t, 0, live)

	rendered, _ := renderer.last()
	assert.Nil(t, rendered)

	select {
	case <-serverSawClose:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe the close")
	}
	select {
	case <-r.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	assert.ErrorIs(t, r.Open(context.Background()), ErrClosed)
}

func TestReceiverCloseWithoutOpen(t *testing.T) {
	r, err := NewReceiver("ws://127.0.0.1:1/ws", id.NewClientID())
	require.NoError(t, err)
	assert.NoError(t, r.Close())
	assert.Equal(t, Disconnected, r.State())
}

func TestReceiverRemoteCloseAllowsReopen(t *testing.T) {
	backend := newWSBackend(t)
	store := newTrackingStore()
	status := &statusRecorder{ch: make(chan ControlMessage, 8)}

	r, err := NewReceiver(backend.url(), id.NewClientID(), WithStore(store), WithStatusSink(status))
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background()))
	defer r.Close()

	conn := backend.accept(t)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, binaryFrame(make([]byte, HeaderSize), encodePNG(t, 1, 1))))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","data":{}}`)))
	waitStatus(t, status.ch, ControlStatus)

	done := r.Done()
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not notice the remote close")
	}
	assert.Equal(t, Disconnected, r.State())
	// The last image stays on display
	assert.NotNil(t, r.Current())

	require.NoError(t, r.Open(context.Background()))
	backend.accept(t)
	assert.Equal(t, Connected, r.State())
}

func TestReceiverDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	r, err := NewReceiver(addr, id.NewClientID())
	require.NoError(t, err)

	assert.Error(t, r.Open(context.Background()))
	assert.Equal(t, Disconnected, r.State())
}
