package session

import (
	"time"

	"github.com/mcdev12/codeduel/go/internal/matchmaking/protocol"
)

const (
	// ErrorAutoClear is how long a submission_invalid message stays visible
	ErrorAutoClear = 5 * time.Second
	// NoticeAutoClear is how long a match_retry/match_error advisory stays visible
	NoticeAutoClear = 3 * time.Second

	// ResultRedirectDelay is the pause before showing the result of a match without unlocks
	ResultRedirectDelay = 2 * time.Second
	// AchievementRedirectBase and AchievementRedirectStep lengthen the pause when
	// achievements were unlocked so their notifications are not covered up
	AchievementRedirectBase = 3 * time.Second
	AchievementRedirectStep = time.Second
	// AchievementStagger separates consecutive achievement notifications
	AchievementStagger = time.Second
)

// Effect is a side-effect intent produced by Apply and carried out by the session loop
type Effect interface{ isEffect() }

// ClearErrorAfter clears LastError after Delay if it is still the error of generation Gen
type ClearErrorAfter struct {
	Delay time.Duration
	Gen   uint64
}

// ClearNoticeAfter clears Notice after Delay if it is still the notice of generation Gen
type ClearNoticeAfter struct {
	Delay time.Duration
	Gen   uint64
}

// ShowAdvisory hands an advisory to the external notifier
type ShowAdvisory struct {
	Notice  Notice
	Display time.Duration
}

// MatchFinished reports a completed match to the external notifier
type MatchFinished struct {
	Result MatchResult
}

// AnnounceAchievements hands unlocked achievements to the external notifier, Stagger apart
type AnnounceAchievements struct {
	MatchID      int64
	Achievements []protocol.Achievement
	Stagger      time.Duration
}

// NavigateToResult asks the external router to show the result of MatchID after Delay
type NavigateToResult struct {
	MatchID int64
	Delay   time.Duration
}

func (ClearErrorAfter) isEffect()      {}
func (ClearNoticeAfter) isEffect()     {}
func (ShowAdvisory) isEffect()         {}
func (MatchFinished) isEffect()        {}
func (AnnounceAchievements) isEffect() {}
func (NavigateToResult) isEffect()     {}

// RedirectDelay is the pause before navigating to the result view
func RedirectDelay(unlocked int) time.Duration {
	if unlocked <= 0 {
		return ResultRedirectDelay
	}
	return AchievementRedirectBase + time.Duration(unlocked)*AchievementRedirectStep
}
