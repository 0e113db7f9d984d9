package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// ActiveMatchChecker reports whether the server already holds a running match
// for a user. *matchapi.Client implements it.
type ActiveMatchChecker interface {
	InActiveMatch(ctx context.Context, userID int64) (bool, error)
}

// AutoJoiner joins the queue once per connection when the user is connected,
// idle and has no match. If the checker reports a running match the join is
// skipped and the server's replayed match_found is awaited instead.
type AutoJoiner struct {
	session *Session
	checker ActiveMatchChecker
}

// NewAutoJoiner creates an auto-joiner; checker may be nil
func NewAutoJoiner(s *Session, checker ActiveMatchChecker) *AutoJoiner {
	return &AutoJoiner{session: s, checker: checker}
}

// Run watches the session until ctx is cancelled or the session closes
func (a *AutoJoiner) Run(ctx context.Context) error {
	views, cancel := a.session.Subscribe()
	defer cancel()

	var attempted uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if v.Connection != Connected || v.ConnectionSeq == attempted {
				continue
			}
			if v.Queue == Queued || v.Match != MatchNone {
				continue
			}
			attempted = v.ConnectionSeq
			a.join(ctx, v.UserID)
		}
	}
}

func (a *AutoJoiner) join(ctx context.Context, userID int64) {
	if a.checker != nil {
		active, err := a.checker.InActiveMatch(ctx, userID)
		if err != nil {
			// the probe is advisory; fall through to joining
			log.Warn().Err(err).Int64("user_id", userID).Msg("failed to check existing match")
		} else if active {
			log.Info().Int64("user_id", userID).Msg("user already has an active match, waiting for match_found")
			return
		}
	}

	if err := a.session.JoinQueue(ctx); err != nil {
		if errors.Is(err, ErrCommandRejected) || errors.Is(err, ErrNotConnected) {
			log.Debug().Err(err).Int64("user_id", userID).Msg("auto-join skipped")
			return
		}
		log.Error().Err(err).Int64("user_id", userID).Msg("auto-join failed")
		return
	}
	log.Info().Int64("user_id", userID).Msg("auto-joined matchmaking queue")
}
