package session

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	initialCountdown = 3
	readyDisplay     = "ready"
	zeroDisplay      = "00:00"
)

// ClockView is the display clock for the current match
type ClockView struct {
	Phase          MatchPhase `json:"phase"`
	Countdown      int        `json:"countdown"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	Display        string     `json:"display"`
	Ticking        bool       `json:"ticking"`
}

// ClockAt derives the match clock from state at wall-clock time now.
//
// Countdown values are pushed one by one by the server and shown verbatim.
// While active the elapsed time is always now minus the server-issued start,
// so a view computed after a reconnect or a stalled tick is already correct.
func ClockAt(s State, now time.Time) ClockView {
	v := ClockView{
		Phase:     s.Match,
		Countdown: s.Clock.Countdown,
		Display:   zeroDisplay,
	}

	switch s.Match {
	case MatchCountdown:
		v.Display = strconv.Itoa(s.Clock.Countdown)
	case MatchStarting:
		v.Display = readyDisplay
	case MatchActive:
		v.ElapsedSeconds = elapsedSince(s.Clock.ServerStart, now)
		v.Display = FormatElapsed(v.ElapsedSeconds)
		v.Ticking = true
	case MatchCompleted:
		if s.Clock.Final != nil {
			v.ElapsedSeconds = *s.Clock.Final
			v.Display = FormatElapsed(v.ElapsedSeconds)
		}
	}
	return v
}

// FormatElapsed renders whole seconds as zero-padded mm:ss
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func elapsedSince(start, now time.Time) int {
	if start.IsZero() {
		return 0
	}
	d := now.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// EpochSeconds converts a fractional unix timestamp from the wire into a time.Time
func EpochSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
