package session

import "github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"

const (
	defaultEloRange      = 100
	defaultSearchMessage = "Searching..."
)

// QueueTelemetry is the latest queue_status seen while queued. It is advisory
// only and is dropped on queue_left, match_found and connection loss.
type QueueTelemetry struct {
	QueueSize        int     `json:"queue_size"`
	WaitTime         float64 `json:"wait_time"`
	EloRange         int     `json:"elo_range"`
	PotentialMatches int     `json:"potential_matches"`
	Message          string  `json:"message"`
}

// telemetryFrom projects a queue_status payload. ok is false when the payload
// has no queue size, which the server only omits on malformed updates.
func telemetryFrom(p protocol.QueueStatus) (t *QueueTelemetry, ok bool) {
	if p.QueueSize == nil {
		return nil, false
	}

	t = &QueueTelemetry{
		QueueSize:        *p.QueueSize,
		WaitTime:         p.WaitTime,
		EloRange:         defaultEloRange,
		PotentialMatches: p.PotentialMatches,
		Message:          p.Message,
	}
	if p.EloRange != nil && *p.EloRange != 0 {
		t.EloRange = *p.EloRange
	}
	if t.Message == "" {
		t.Message = defaultSearchMessage
	}
	return t, true
}
