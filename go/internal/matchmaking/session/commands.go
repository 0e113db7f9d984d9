package session

import (
	"errors"
	"fmt"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

var (
	// ErrNotConnected rejects outbound commands while the transport is down
	ErrNotConnected = errors.New("not connected")
	// ErrCommandRejected rejects commands the current queue/match phase forbids
	ErrCommandRejected = errors.New("command not allowed in current phase")
	// ErrClosed is returned once the session has been torn down
	ErrClosed = errors.New("session closed")
)

type commandKind int

const (
	cmdJoinQueue commandKind = iota
	cmdLeaveQueue
	cmdSubmitSolution
	cmdResignMatch
)

func (k commandKind) String() string {
	switch k {
	case cmdJoinQueue:
		return "join_queue"
	case cmdLeaveQueue:
		return "leave_queue"
	case cmdSubmitSolution:
		return "submit_solution"
	case cmdResignMatch:
		return "resign_match"
	default:
		return "unknown"
	}
}

// buildCommand checks the command against the current phases and returns the
// frame to send. elapsed is the locally derived match time, sent as a hint only.
func buildCommand(s State, kind commandKind, matchID int64, elapsed int) (protocol.Command, error) {
	if s.Connection != Connected {
		return protocol.Command{}, fmt.Errorf("%w: %s while %s", ErrNotConnected, kind, s.Connection)
	}

	switch kind {
	case cmdJoinQueue:
		if s.Queue == Queued || s.Match.InProgress() {
			return protocol.Command{}, rejected(kind, s)
		}
		return protocol.JoinQueue(), nil

	case cmdLeaveQueue:
		if s.Queue != Queued {
			return protocol.Command{}, rejected(kind, s)
		}
		return protocol.LeaveQueue(), nil

	case cmdSubmitSolution:
		if s.Match != MatchActive || !isCurrentMatch(s, matchID) {
			return protocol.Command{}, rejected(kind, s)
		}
		return protocol.SubmitSolution(matchID, elapsed), nil

	case cmdResignMatch:
		if !s.Match.InProgress() || !isCurrentMatch(s, matchID) {
			return protocol.Command{}, rejected(kind, s)
		}
		return protocol.ResignMatch(matchID, elapsed), nil

	default:
		return protocol.Command{}, fmt.Errorf("%w: unknown command %d", ErrCommandRejected, kind)
	}
}

func isCurrentMatch(s State, matchID int64) bool {
	return s.CurrentMatch != nil && s.CurrentMatch.ID == matchID
}

func rejected(kind commandKind, s State) error {
	return fmt.Errorf("%w: %s (queue=%s match=%s)", ErrCommandRejected, kind, s.Queue, s.Match)
}
