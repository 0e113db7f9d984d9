package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

var (
	// ErrPhaseGuard means the message arrived in a phase that does not accept it
	ErrPhaseGuard = errors.New("message not accepted in current phase")
	// ErrStaleMatch means the message references a match other than the current one
	ErrStaleMatch = errors.New("message references a superseded match")
	// ErrBadPayload means the decoded payload does not fit the message type
	ErrBadPayload = errors.New("unexpected payload")
)

const (
	defaultErrorMessage      = "Unknown error"
	defaultInvalidSubmission = "Invalid submission"
	defaultRetryMessage      = "Retrying with broader criteria..."
	defaultMatchErrorMessage = "Match creation error, continuing search..."
	connectionErrorMessage   = "Connection error"
)

// Apply runs one inbound message through the protocol state machine. It is pure:
// the returned state replaces s and the effects are for the caller to carry out.
// A non-nil error means the message was ignored and s is returned unchanged.
func Apply(s State, msg protocol.Message, now time.Time) (State, []Effect, error) {
	switch msg.Type {
	case protocol.TypeQueueJoined:
		if s.Connection != Connected {
			return s, nil, guardErr(msg.Type, s)
		}
		s.Queue = Queued
		s.Telemetry = nil
		return s, nil, nil

	case protocol.TypeQueueLeft:
		s.Queue = QueueIdle
		s.Telemetry = nil
		return s, nil, nil

	case protocol.TypeQueueStatus:
		p, ok := msg.Payload.(protocol.QueueStatus)
		if !ok {
			return s, nil, payloadErr(msg)
		}
		if s.Queue != Queued {
			return s, nil, guardErr(msg.Type, s)
		}
		t, ok := telemetryFrom(p)
		if !ok {
			return s, nil, fmt.Errorf("%w: queue_status without queue_size", ErrBadPayload)
		}
		s.Telemetry = t
		return s, nil, nil

	case protocol.TypeMatchRetry, protocol.TypeMatchError:
		p, ok := msg.Payload.(protocol.Notice)
		if !ok {
			return s, nil, payloadErr(msg)
		}
		if s.Queue != Queued {
			return s, nil, guardErr(msg.Type, s)
		}
		return applyAdvisory(s, msg.Type, p.Message)

	case protocol.TypeMatchFound:
		p, ok := msg.Payload.(protocol.MatchFound)
		if !ok {
			return s, nil, payloadErr(msg)
		}
		return applyMatchFound(s, p), nil, nil

	case protocol.TypeTimerUpdate:
		p, ok := msg.Payload.(protocol.TimerUpdate)
		if !ok {
			return s, nil, payloadErr(msg)
		}
		return applyTimerUpdate(s, p, now)

	case protocol.TypeMatchCompleted:
		p, ok := msg.Payload.(protocol.MatchCompleted)
		if !ok {
			return s, nil, payloadErr(msg)
		}
		return applyMatchCompleted(s, p, now)

	case protocol.TypeSubmissionInvalid:
		p, ok := msg.Payload.(protocol.Notice)
		if !ok {
			return s, nil, payloadErr(msg)
		}
		if s.Match != MatchActive {
			return s, nil, guardErr(msg.Type, s)
		}
		s = setError(s, orDefault(p.Message, defaultInvalidSubmission))
		s.matchScopedError = true
		return s, []Effect{ClearErrorAfter{Delay: ErrorAutoClear, Gen: s.errorGen}}, nil

	case protocol.TypeError:
		p, ok := msg.Payload.(protocol.Notice)
		if !ok {
			return s, nil, payloadErr(msg)
		}
		return setError(s, orDefault(p.Message, defaultErrorMessage)), nil, nil

	case protocol.TypePong, protocol.TypeConnected:
		return s, nil, nil

	default:
		return s, nil, fmt.Errorf("%w: %s", protocol.ErrUnknownType, msg.Type)
	}
}

func applyAdvisory(s State, kind protocol.MessageType, message string) (State, []Effect, error) {
	n := Notice{Kind: kind}
	if kind == protocol.TypeMatchRetry {
		n.Title = "Retrying Match"
		n.Message = orDefault(message, defaultRetryMessage)
	} else {
		n.Title = "Match Error"
		n.Message = orDefault(message, defaultMatchErrorMessage)
	}

	s.noticeGen++
	s.Notice = &n
	return s, []Effect{
		ShowAdvisory{Notice: n, Display: NoticeAutoClear},
		ClearNoticeAfter{Delay: NoticeAutoClear, Gen: s.noticeGen},
	}, nil
}

func applyMatchFound(s State, p protocol.MatchFound) State {
	problem := p.Problem
	problem.Tags = append([]string(nil), p.Problem.Tags...)

	s.Queue = QueueIdle
	s.Telemetry = nil
	s.Match = MatchFound
	s.CurrentMatch = &Match{ID: p.MatchID, Problem: problem, Opponent: p.Opponent}
	s.Clock = initialClock()
	s.Result = nil

	// A submission error belongs to the previous match
	if s.matchScopedError {
		s = ClearError(s)
	}
	return s
}

func applyTimerUpdate(s State, p protocol.TimerUpdate, now time.Time) (State, []Effect, error) {
	if p.MatchID != nil && (s.CurrentMatch == nil || s.CurrentMatch.ID != *p.MatchID) {
		return s, nil, fmt.Errorf("%w: timer_update for match %d", ErrStaleMatch, *p.MatchID)
	}

	switch p.Phase {
	case protocol.TimerPhaseCountdown:
		if s.Match != MatchFound && s.Match != MatchCountdown {
			return s, nil, timerGuardErr(p.Phase, s)
		}
		s.Match = MatchCountdown
		s.Clock.Countdown = initialCountdown
		if p.Countdown != nil {
			s.Clock.Countdown = *p.Countdown
		}
		return s, nil, nil

	case protocol.TimerPhaseStart:
		if s.Match != MatchCountdown && s.Match != MatchStarting {
			return s, nil, timerGuardErr(p.Phase, s)
		}
		s.Match = MatchStarting
		return s, nil, nil

	case protocol.TimerPhaseActive:
		// Found/Countdown are accepted too: on rejoin the server replays
		// match_found followed directly by the running match's start time.
		if !s.Match.InProgress() {
			return s, nil, timerGuardErr(p.Phase, s)
		}
		s.Match = MatchActive
		if p.StartTimestamp != nil {
			s.Clock.ServerStart = EpochSeconds(*p.StartTimestamp)
		} else {
			s.Clock.ServerStart = now
		}
		return s, nil, nil

	default:
		return s, nil, fmt.Errorf("%w: timer phase %q", ErrBadPayload, p.Phase)
	}
}

func applyMatchCompleted(s State, p protocol.MatchCompleted, now time.Time) (State, []Effect, error) {
	if s.CurrentMatch == nil || s.CurrentMatch.ID != p.MatchID {
		return s, nil, fmt.Errorf("%w: match_completed for match %d", ErrStaleMatch, p.MatchID)
	}
	if s.Match != MatchActive {
		return s, nil, guardErr(protocol.TypeMatchCompleted, s)
	}

	final := elapsedSince(s.Clock.ServerStart, now)
	s.Match = MatchCompleted
	s.Clock.Final = &final

	result := MatchResult{
		MatchID:      p.MatchID,
		Result:       p.Result,
		EloChange:    p.EloChange,
		Achievements: append([]protocol.Achievement(nil), p.AchievementsUnlocked...),
	}
	s.Result = &result

	effects := []Effect{MatchFinished{Result: result}}
	if len(result.Achievements) > 0 {
		effects = append(effects, AnnounceAchievements{
			MatchID:      p.MatchID,
			Achievements: result.Achievements,
			Stagger:      AchievementStagger,
		})
	}
	effects = append(effects, NavigateToResult{
		MatchID: p.MatchID,
		Delay:   RedirectDelay(len(result.Achievements)),
	})
	return s, effects, nil
}

// OnConnecting marks a dial in progress
func OnConnecting(s State) State {
	s.Connection = Connecting
	return s
}

// OnOpened marks the transport as usable and drops a stale connection error
func OnOpened(s State) State {
	s.Connection = Connected
	s.ConnectionSeq++
	if s.LastError == connectionErrorMessage {
		s = ClearError(s)
	}
	return s
}

// OnClosed handles loss or shutdown of the transport. The server cannot honor a
// queue membership for a client it cannot see, so the queue is reset; the match
// and its clock are kept so the UI can keep showing them while reconnecting.
func OnClosed(s State) State {
	s.Connection = Disconnected
	s.Queue = QueueIdle
	s.Telemetry = nil
	return s
}

// OnTransportError surfaces a transport-level failure
func OnTransportError(s State) State {
	return setError(s, connectionErrorMessage)
}

// ClearError drops LastError
func ClearError(s State) State {
	if s.LastError == "" {
		return s
	}
	s.LastError = ""
	s.matchScopedError = false
	s.errorGen++
	return s
}

func setError(s State, message string) State {
	s.errorGen++
	s.LastError = message
	s.matchScopedError = false
	return s
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func guardErr(t protocol.MessageType, s State) error {
	return fmt.Errorf("%w: %s (connection=%s queue=%s match=%s)", ErrPhaseGuard, t, s.Connection, s.Queue, s.Match)
}

func timerGuardErr(phase protocol.TimerPhase, s State) error {
	return fmt.Errorf("%w: timer_update(%s) in match phase %s", ErrPhaseGuard, phase, s.Match)
}

func payloadErr(msg protocol.Message) error {
	return fmt.Errorf("%w: %s carried %T", ErrBadPayload, msg.Type, msg.Payload)
}
