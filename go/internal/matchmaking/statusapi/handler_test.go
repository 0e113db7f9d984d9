package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/session"
)

type fakeController struct {
	view     session.View
	err      error
	calls    []string
	matchIDs []int64
}

func (f *fakeController) View() session.View { return f.view }

func (f *fakeController) JoinQueue(ctx context.Context) error {
	f.calls = append(f.calls, "join")
	return f.err
}

func (f *fakeController) LeaveQueue(ctx context.Context) error {
	f.calls = append(f.calls, "leave")
	return f.err
}

func (f *fakeController) SubmitSolution(ctx context.Context, matchID int64) error {
	f.calls = append(f.calls, "submit")
	f.matchIDs = append(f.matchIDs, matchID)
	return f.err
}

func (f *fakeController) ResignMatch(ctx context.Context, matchID int64) error {
	f.calls = append(f.calls, "resign")
	f.matchIDs = append(f.matchIDs, matchID)
	return f.err
}

func (f *fakeController) ClearError(ctx context.Context) error {
	f.calls = append(f.calls, "clear_error")
	return f.err
}

func serve(t *testing.T, ctrl SessionController, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(ctrl).RegisterRoutes(mux)

	req := httptest.NewRequest(method, path, http.NoBody)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestGetSession(t *testing.T) {
	ctrl := &fakeController{view: session.View{
		UserID:     42,
		Connection: session.Connected,
		Queue:      session.Queued,
		Telemetry:  &session.QueueTelemetry{QueueSize: 4, EloRange: 100, Message: "Searching..."},
	}}

	w := serve(t, ctrl, http.MethodGet, "/api/session")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(42), body["user_id"])
	assert.Equal(t, "connected", body["connection"])
	assert.Equal(t, "queued", body["queue"])
	assert.Equal(t, "none", body["match"])
	status, ok := body["queue_status"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(4), status["queue_size"])
}

func TestCommands(t *testing.T) {
	t.Run("queue commands are accepted", func(t *testing.T) {
		ctrl := &fakeController{}
		assert.Equal(t, http.StatusAccepted, serve(t, ctrl, http.MethodPost, "/api/queue/join").Code)
		assert.Equal(t, http.StatusAccepted, serve(t, ctrl, http.MethodPost, "/api/queue/leave").Code)
		assert.Equal(t, http.StatusAccepted, serve(t, ctrl, http.MethodDelete, "/api/session/error").Code)
		assert.Equal(t, []string{"join", "leave", "clear_error"}, ctrl.calls)
	})

	t.Run("match commands carry the path match ID", func(t *testing.T) {
		ctrl := &fakeController{}
		assert.Equal(t, http.StatusAccepted, serve(t, ctrl, http.MethodPost, "/api/matches/77/submit").Code)
		assert.Equal(t, http.StatusAccepted, serve(t, ctrl, http.MethodPost, "/api/matches/78/resign").Code)
		assert.Equal(t, []int64{77, 78}, ctrl.matchIDs)
	})

	t.Run("invalid match ID", func(t *testing.T) {
		ctrl := &fakeController{}
		w := serve(t, ctrl, http.MethodPost, "/api/matches/abc/submit")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, ctrl.calls)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := serve(t, &fakeController{}, http.MethodGet, "/api/queue/join")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"rejected by phase", fmt.Errorf("%w: join_queue", session.ErrCommandRejected), http.StatusConflict},
		{"not connected", fmt.Errorf("%w: join_queue while disconnected", session.ErrNotConnected), http.StatusServiceUnavailable},
		{"session closed", session.ErrClosed, http.StatusServiceUnavailable},
		{"transport failure", fmt.Errorf("failed to write join_queue: broken pipe"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, &fakeController{err: tt.err}, http.MethodPost, "/api/queue/join")
			assert.Equal(t, tt.status, w.Code)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestHealth(t *testing.T) {
	w := serve(t, &fakeController{view: session.View{Connection: session.Connected}}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, &fakeController{view: session.View{Connection: session.Connecting}}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"connection":"connecting"`)
}

func TestServerCORS(t *testing.T) {
	srv := NewServer("127.0.0.1:0", []string{"http://localhost:3000"}, &fakeController{})

	req := httptest.NewRequest(http.MethodOptions, "/api/queue/join", http.NoBody)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/session", http.NoBody)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
