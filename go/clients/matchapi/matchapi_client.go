package matchapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/clients"
)

const (
	DefaultBaseURL     = "http://127.0.0.1:8000"
	MatchStateEndpoint = "/api/friends/%d/match-state"
)

// PendingRequest is an incoming friend match request awaiting an answer
type PendingRequest struct {
	RequestID int64  `json:"request_id"`
	SenderID  int64  `json:"sender_id"`
	ExpiresAt string `json:"expires_at"`
}

// MatchState is the server's view of what a user is currently engaged in
type MatchState struct {
	UserID                 int64            `json:"user_id"`
	InActiveMatch          bool             `json:"in_active_match"`
	ActiveMatchID          *int64           `json:"active_match_id,omitempty"`
	InQueue                bool             `json:"in_queue"`
	HasPendingSentRequest  bool             `json:"has_pending_sent_request"`
	PendingSentRequestID   *int64           `json:"pending_sent_request_id,omitempty"`
	PendingReceivedRequest []PendingRequest `json:"pending_received_requests"`
	CanSendMatchRequest    bool             `json:"can_send_match_request"`
	CanJoinQueue           bool             `json:"can_join_queue"`
}

// Client is the read-only match-state probe of the matchmaking REST API
type Client struct {
	*clients.BaseClient
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}

func (c *Client) GetMatchState(ctx context.Context, userID int64) (*MatchState, error) {
	body, err := c.Get(ctx, fmt.Sprintf(MatchStateEndpoint, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get match state: %w", err)
	}

	var state MatchState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return &state, nil
}

// InActiveMatch reports whether the server holds a running match for userID
func (c *Client) InActiveMatch(ctx context.Context, userID int64) (bool, error) {
	state, err := c.GetMatchState(ctx, userID)
	if err != nil {
		return false, err
	}

	log.Debug().
		Int64("user_id", userID).
		Bool("in_active_match", state.InActiveMatch).
		Bool("in_queue", state.InQueue).
		Msg("fetched match state")
	return state.InActiveMatch, nil
}
