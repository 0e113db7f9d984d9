package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

// Advisory is a short, non-fatal message about matchmaking progress
type Advisory struct {
	Kind    string
	Title   string
	Message string
	Display time.Duration
}

// Notifier presents protocol events that are rendered outside the session:
// achievement unlocks, finished matches and queue advisories.
type Notifier interface {
	AchievementUnlocked(userID int64, matchID int64, a protocol.Achievement)
	MatchCompleted(userID int64, r protocol.MatchCompleted)
	Advisory(userID int64, a Advisory)
}

// Router navigates the consuming UI to the result view of a match
type Router interface {
	ShowResult(matchID int64)
}

// ResultPath is the route of a match's result view
func ResultPath(matchID int64) string {
	return fmt.Sprintf("/match-result/%d", matchID)
}

// Chain fans every notification out to each notifier in order
type Chain []Notifier

func (c Chain) AchievementUnlocked(userID, matchID int64, a protocol.Achievement) {
	for _, n := range c {
		n.AchievementUnlocked(userID, matchID, a)
	}
}

func (c Chain) MatchCompleted(userID int64, r protocol.MatchCompleted) {
	for _, n := range c {
		n.MatchCompleted(userID, r)
	}
}

func (c Chain) Advisory(userID int64, a Advisory) {
	for _, n := range c {
		n.Advisory(userID, a)
	}
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct{}

func (LogNotifier) AchievementUnlocked(userID, matchID int64, a protocol.Achievement) {
	log.Info().
		Int64("user_id", userID).
		Int64("match_id", matchID).
		Int64("achievement_id", a.ID).
		Str("difficulty", a.Difficulty).
		Msgf("achievement unlocked: %s", a.Description)
}

func (LogNotifier) MatchCompleted(userID int64, r protocol.MatchCompleted) {
	log.Info().
		Int64("user_id", userID).
		Int64("match_id", r.MatchID).
		Str("result", r.Result).
		Str("elo_change", string(r.EloChange)).
		Int("achievements", len(r.AchievementsUnlocked)).
		Msg("match completed")
}

func (LogNotifier) Advisory(userID int64, a Advisory) {
	log.Warn().
		Int64("user_id", userID).
		Str("kind", a.Kind).
		Dur("display", a.Display).
		Msgf("%s: %s", a.Title, a.Message)
}

// LogRouter logs navigation requests; a UI embeds its own Router instead
type LogRouter struct {
	BaseURL string
}

func (r LogRouter) ShowResult(matchID int64) {
	log.Info().
		Int64("match_id", matchID).
		Str("url", r.BaseURL+ResultPath(matchID)).
		Msg("navigating to match result")
}

// RouterFunc adapts a function to Router
type RouterFunc func(matchID int64)

func (f RouterFunc) ShowResult(matchID int64) { f(matchID) }
