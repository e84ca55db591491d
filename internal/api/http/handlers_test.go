package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GriffinCanCode/dreamstream/internal/api/middleware"
	"github.com/GriffinCanCode/dreamstream/internal/domain/preview"
	"github.com/GriffinCanCode/dreamstream/internal/domain/session"
	"github.com/GriffinCanCode/dreamstream/internal/domain/stream"
	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockController is a mock implementation of Controller for testing.
type MockController struct {
	mock.Mock
}

// HandleInput mocks the HandleInput method.
func (m *MockController) HandleInput(text string) error {
	return m.Called(text).Error(0)
}

// ToggleCapture mocks the ToggleCapture method.
func (m *MockController) ToggleCapture() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

// State mocks the State method.
func (m *MockController) State() session.State {
	return m.Called().Get(0).(session.State)
}

// ClientID mocks the ClientID method.
func (m *MockController) ClientID() id.ClientID {
	return m.Called().Get(0).(id.ClientID)
}

const testClientID = id.ClientID("2f1c2c3e-9a55-4c43-9f3e-2a7d1c0b8e11")

// newMockController creates a controller with default read-only behaviors.
func newMockController(t *testing.T, state session.State) *MockController {
	t.Helper()
	m := new(MockController)
	m.On("State").Return(state).Maybe()
	m.On("ClientID").Return(testClientID).Maybe()
	return m
}

type fixedStream stream.State

func (s fixedStream) State() stream.State { return stream.State(s) }

func setupRouter(ctrl Controller, view *preview.View, st StreamStatus) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(ctrl, view, st).Register(router)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := setupRouter(newMockController(t, session.State{}), preview.NewView(), fixedStream(stream.Connected))

	w := do(router, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["stream"])
	assert.Equal(t, testClientID.String(), body["client_id"])

	router = setupRouter(newMockController(t, session.State{}), preview.NewView(), nil)
	w = do(router, "GET", "/health", "")
	assert.Contains(t, w.Body.String(), `"stream":"detached"`)
}

func TestInput(t *testing.T) {
	ctrl := newMockController(t, session.State{Text: "a red fox"})
	ctrl.On("HandleInput", "a red fox").Return(nil).Once()
	ctrl.On("HandleInput", "").Return(nil).Once()
	router := setupRouter(ctrl, preview.NewView(), nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "text", body: `{"text":"a red fox"}`, wantStatus: http.StatusAccepted},
		{name: "empty text clears", body: `{"text":""}`, wantStatus: http.StatusAccepted},
		{name: "missing text", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "malformed json", body: `{"text":`, wantStatus: http.StatusBadRequest},
		{name: "wrong type", body: `{"text":42}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, "POST", "/input", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	ctrl.AssertExpectations(t)
	ctrl.AssertNumberOfCalls(t, "HandleInput", 2)
}

func TestInputTooLarge(t *testing.T) {
	ctrl := newMockController(t, session.State{})
	router := setupRouter(ctrl, preview.NewView(), nil)

	body := `{"text":"` + strings.Repeat("a", maxInputBytes) + `"}`
	w := do(router, "POST", "/input", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ctrl.AssertNotCalled(t, "HandleInput", mock.Anything)
}

func TestInputAfterClose(t *testing.T) {
	ctrl := newMockController(t, session.State{})
	ctrl.On("HandleInput", "late").Return(session.ErrClosed)
	router := setupRouter(ctrl, preview.NewView(), nil)

	w := do(router, "POST", "/input", `{"text":"late"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "session closed")
}

func TestToggleCapture(t *testing.T) {
	ctrl := newMockController(t, session.State{})
	ctrl.On("ToggleCapture").Return(true, nil).Once()
	ctrl.On("ToggleCapture").Return(false, nil).Once()
	router := setupRouter(ctrl, preview.NewView(), nil)

	w := do(router, "POST", "/capture/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"recording":true}`, w.Body.String())

	w = do(router, "POST", "/capture/toggle", "")
	assert.JSONEq(t, `{"recording":false}`, w.Body.String())
	ctrl.AssertExpectations(t)

	tests := []struct {
		err        error
		wantStatus int
	}{
		{err: session.ErrNoCaptureSource, wantStatus: http.StatusConflict},
		{err: session.ErrClosed, wantStatus: http.StatusServiceUnavailable},
		{err: errors.New("exec: not found"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ctrl := newMockController(t, session.State{})
			ctrl.On("ToggleCapture").Return(false, tt.err)
			router := setupRouter(ctrl, preview.NewView(), nil)

			w := do(router, "POST", "/capture/toggle", "")
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestImage(t *testing.T) {
	view := preview.NewView()
	router := setupRouter(newMockController(t, session.State{}), view, nil)

	w := do(router, "GET", "/image", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	view.Render(&stream.Image{ID: "img_01", MIME: "image/png", Data: []byte("\x89PNG-bytes")})

	w = do(router, "GET", "/image", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "img_01", w.Header().Get(middleware.ImageIDHeader))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "\x89PNG-bytes", w.Body.String())

	view.Render(nil)
	w = do(router, "GET", "/image", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestState(t *testing.T) {
	state := session.State{Text: "a red fox", Recording: true}
	ctrl := newMockController(t, state)
	view := preview.NewView()
	view.Render(&stream.Image{ID: "img_01", MIME: "image/png", Width: 512, Height: 512, Data: []byte{1}})
	router := setupRouter(ctrl, view, nil)

	w := do(router, "GET", "/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap preview.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, state, snap.State)
	require.NotNil(t, snap.Image)
	assert.Equal(t, "img_01", snap.Image.ID)
	assert.Equal(t, 512, snap.Image.Width)
}
