package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/session"
)

// SessionController is the part of *session.Session exposed over HTTP
type SessionController interface {
	View() session.View
	JoinQueue(ctx context.Context) error
	LeaveQueue(ctx context.Context) error
	SubmitSolution(ctx context.Context, matchID int64) error
	ResignMatch(ctx context.Context, matchID int64) error
	ClearError(ctx context.Context) error
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler bridges a local UI to the session
type Handler struct {
	session SessionController
}

// NewHandler creates a new status handler
func NewHandler(s SessionController) *Handler {
	return &Handler{session: s}
}

// RegisterRoutes registers the status and command routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", h.HandleGetSession)
	mux.HandleFunc("DELETE /api/session/error", h.HandleClearError)
	mux.HandleFunc("POST /api/queue/join", h.HandleJoinQueue)
	mux.HandleFunc("POST /api/queue/leave", h.HandleLeaveQueue)
	mux.HandleFunc("POST /api/matches/{id}/submit", h.HandleSubmit)
	mux.HandleFunc("POST /api/matches/{id}/resign", h.HandleResign)
	mux.HandleFunc("GET /health", h.HandleHealth)
}

// HandleGetSession handles GET /api/session
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.View())
}

// HandleJoinQueue handles POST /api/queue/join
func (h *Handler) HandleJoinQueue(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "join_queue", h.session.JoinQueue(r.Context()))
}

// HandleLeaveQueue handles POST /api/queue/leave
func (h *Handler) HandleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "leave_queue", h.session.LeaveQueue(r.Context()))
}

// HandleSubmit handles POST /api/matches/{id}/submit
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	matchID, ok := matchIDFromPath(w, r)
	if !ok {
		return
	}
	h.respond(w, "submit_solution", h.session.SubmitSolution(r.Context(), matchID))
}

// HandleResign handles POST /api/matches/{id}/resign
func (h *Handler) HandleResign(w http.ResponseWriter, r *http.Request) {
	matchID, ok := matchIDFromPath(w, r)
	if !ok {
		return
	}
	h.respond(w, "resign_match", h.session.ResignMatch(r.Context(), matchID))
}

// HandleClearError handles DELETE /api/session/error
func (h *Handler) HandleClearError(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "clear_error", h.session.ClearError(r.Context()))
}

// HandleHealth reports whether the realtime channel is up
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	v := h.session.View()
	status := http.StatusOK
	if v.Connection != session.Connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"status":     http.StatusText(status),
		"connection": v.Connection.String(),
	})
}

func (h *Handler) respond(w http.ResponseWriter, command string, err error) {
	if err != nil {
		status := statusFor(err)
		log.Debug().Err(err).Str("command", command).Int("status", status).Msg("status api command failed")
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, h.session.View())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrCommandRejected):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func matchIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	matchID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || matchID <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid match ID"})
		return 0, false
	}
	return matchID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
