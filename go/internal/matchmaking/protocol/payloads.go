package protocol

import (
	"bytes"
	"encoding/json"
)

// Notice carries the human-readable text of connected, match_retry, match_error,
// submission_invalid and error frames
type Notice struct {
	Message string `json:"message"`
}

// QueueStatus is the payload of a queue_status frame.
// QueueSize and EloRange are pointers so an absent field can be told apart from zero.
type QueueStatus struct {
	QueueSize        *int    `json:"queue_size"`
	WaitTime         float64 `json:"wait_time"`
	EloRange         *int    `json:"elo_range"`
	PotentialMatches int     `json:"potential_matches"`
	Message          string  `json:"message"`
}

// Problem describes the coding problem assigned to a match
type Problem struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Slug           string   `json:"slug"`
	Difficulty     string   `json:"difficulty"`
	Tags           []string `json:"tags"`
	AcceptanceRate string   `json:"acceptance_rate,omitempty"`
}

// Opponent describes the other participant of a match
type Opponent struct {
	Username          string  `json:"username"`
	Elo               int     `json:"elo"`
	ProfilePictureURL *string `json:"profile_picture_url,omitempty"`
}

// MatchFound is the payload of a match_found frame
type MatchFound struct {
	MatchID  int64    `json:"match_id"`
	Problem  Problem  `json:"problem"`
	Opponent Opponent `json:"opponent"`
}

// TimerPhase is the phase field of a timer_update frame
type TimerPhase string

const (
	TimerPhaseCountdown TimerPhase = "countdown"
	TimerPhaseStart     TimerPhase = "start"
	TimerPhaseActive    TimerPhase = "active"
)

// TimerUpdate is the payload of a timer_update frame.
// StartTimestamp is epoch seconds (fractional) issued by the server.
type TimerUpdate struct {
	Phase          TimerPhase `json:"phase"`
	MatchID        *int64     `json:"match_id,omitempty"`
	Countdown      *int       `json:"countdown,omitempty"`
	StartTimestamp *float64   `json:"start_timestamp,omitempty"`
}

// Achievement is an achievement unlocked by the finished match
type Achievement struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Target      int    `json:"target"`
	Difficulty  string `json:"difficulty"`
	Event       string `json:"event"`
	Unlocked    bool   `json:"unlocked"`
}

// MatchCompleted is the payload of a match_completed frame
type MatchCompleted struct {
	MatchID              int64         `json:"match_id"`
	Result               string        `json:"result"`
	EloChange            EloChange     `json:"elo_change,omitempty"`
	AchievementsUnlocked []Achievement `json:"achievements_unlocked,omitempty"`
}

// EloChange is the rating delta reported with a result. The server has sent it both
// as a JSON number and as a signed string ("+12"), so both are accepted verbatim.
type EloChange string

func (e *EloChange) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = EloChange(s)
		return nil
	}
	*e = EloChange(data)
	return nil
}
