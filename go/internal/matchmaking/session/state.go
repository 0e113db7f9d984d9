package session

import (
	"time"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

// ConnectionPhase tracks the realtime channel to the matchmaking server
type ConnectionPhase int

const (
	Disconnected ConnectionPhase = iota
	Connecting
	Connected
)

func (p ConnectionPhase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

func (p ConnectionPhase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// QueuePhase tracks queue membership as acknowledged by the server
type QueuePhase int

const (
	QueueIdle QueuePhase = iota
	Queued
)

func (p QueuePhase) String() string {
	if p == Queued {
		return "queued"
	}
	return "idle"
}

func (p QueuePhase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// MatchPhase tracks the lifecycle of the current match. It only moves forward
// for a given match; match_found starts over at MatchFound.
type MatchPhase int

const (
	MatchNone MatchPhase = iota
	MatchFound
	MatchCountdown
	MatchStarting
	MatchActive
	MatchCompleted
)

func (p MatchPhase) String() string {
	switch p {
	case MatchNone:
		return "none"
	case MatchFound:
		return "found"
	case MatchCountdown:
		return "countdown"
	case MatchStarting:
		return "starting"
	case MatchActive:
		return "active"
	case MatchCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func (p MatchPhase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// InProgress reports whether a match is underway and not yet completed
func (p MatchPhase) InProgress() bool {
	return p >= MatchFound && p < MatchCompleted
}

// Match is the match assigned by the server. It is never mutated after
// match_found; the next match_found replaces it.
type Match struct {
	ID       int64             `json:"match_id"`
	Problem  protocol.Problem  `json:"problem"`
	Opponent protocol.Opponent `json:"opponent"`
}

// MatchClock is the match-scoped timing state. Elapsed time and the display
// string are derived from it on read, see ClockAt.
type MatchClock struct {
	Countdown   int
	ServerStart time.Time // zero until timer_update(active)
	Final       *int      // elapsed seconds frozen at match_completed
}

func initialClock() MatchClock {
	return MatchClock{Countdown: initialCountdown}
}

// Notice is a short-lived advisory (match_retry, match_error)
type Notice struct {
	Kind    protocol.MessageType `json:"kind"`
	Title   string               `json:"title"`
	Message string               `json:"message"`
}

// MatchResult is kept after match_completed so terminal UI can read it
type MatchResult struct {
	MatchID      int64                  `json:"match_id"`
	Result       string                 `json:"result"`
	EloChange    protocol.EloChange     `json:"elo_change,omitempty"`
	Achievements []protocol.Achievement `json:"achievements_unlocked,omitempty"`
}

// State is the session aggregate. Only the session loop mutates it, and every
// change replaces the affected sub-state wholesale.
type State struct {
	UserID        int64
	Connection    ConnectionPhase
	ConnectionSeq uint64 // incremented each time the transport opens
	Queue         QueuePhase
	Match         MatchPhase
	CurrentMatch  *Match
	Clock         MatchClock
	Telemetry     *QueueTelemetry
	LastError     string
	Notice        *Notice
	Result        *MatchResult

	// generations used to ignore stale auto-clear timers
	errorGen         uint64
	noticeGen        uint64
	matchScopedError bool
}

// View is an immutable snapshot of State plus the derived clock, for consumers
type View struct {
	UserID        int64           `json:"user_id"`
	Connection    ConnectionPhase `json:"connection"`
	ConnectionSeq uint64          `json:"connection_seq"`
	Queue         QueuePhase      `json:"queue"`
	Match         MatchPhase      `json:"match"`
	CurrentMatch  *Match          `json:"current_match,omitempty"`
	Clock         ClockView       `json:"clock"`
	Telemetry     *QueueTelemetry `json:"queue_status,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Notice        *Notice         `json:"notice,omitempty"`
	Result        *MatchResult    `json:"result,omitempty"`
	At            time.Time       `json:"at"`
}

// ViewAt projects the state at the given wall-clock time
func (s State) ViewAt(now time.Time) View {
	return View{
		UserID:        s.UserID,
		Connection:    s.Connection,
		ConnectionSeq: s.ConnectionSeq,
		Queue:         s.Queue,
		Match:         s.Match,
		CurrentMatch:  s.CurrentMatch,
		Clock:         ClockAt(s, now),
		Telemetry:     s.Telemetry,
		LastError:     s.LastError,
		Notice:        s.Notice,
		Result:        s.Result,
		At:            now,
	}
}
