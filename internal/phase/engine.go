// Package phase computes phase durations, transitions and remaining time from
// a method and a timer snapshot. It performs no I/O.
package phase

import (
	"fmt"

	"github.com/jomardyan/FlexiFocus/internal/model"
)

const (
	minuteMs = int64(60000)

	// minFlowReferenceMinutes keeps the flow progress ring from filling up
	// quickly when the suggested break is short.
	minFlowReferenceMinutes = 30
)

type Transition struct {
	Phase       model.Phase
	IsLongBreak bool
}

// Duration returns the fixed length of phase in milliseconds, 0 for flexible
// methods.
func Duration(method model.Method, phase model.Phase) int64 {
	if method.Flexible {
		return 0
	}
	var minutes int
	switch phase {
	case model.PhaseLongBreak:
		minutes = method.LongBreakMinutes
	case model.PhaseBreak:
		minutes = method.ShortBreakMinutes
	default:
		minutes = method.WorkMinutes
	}
	return clamp(int64(minutes) * minuteMs)
}

// Next returns the phase that follows the timer's current phase.
func Next(timer model.Timer, method model.Method) Transition {
	if method.Flexible {
		return Transition{Phase: model.PhaseFlow}
	}
	if timer.Phase == model.PhaseWork {
		cycles := method.CyclesBeforeLongBreak
		if cycles <= 0 {
			cycles = model.DefaultCyclesBeforeLongBreak
		}
		if (timer.CycleCount+1)%cycles == 0 {
			return Transition{Phase: model.PhaseLongBreak, IsLongBreak: true}
		}
		return Transition{Phase: model.PhaseBreak}
	}
	return Transition{Phase: model.PhaseWork}
}

// Remaining returns the time left in the current phase, or for flexible
// methods the focus time elapsed so far. A non-nil override is returned as is.
func Remaining(timer model.Timer, method model.Method, now int64, override *int64) int64 {
	if override != nil {
		return clamp(*override)
	}
	if method.Flexible {
		if timer.IsRunning {
			return Elapsed(timer, now)
		}
		return clamp(timer.RemainingMs)
	}
	if timer.IsRunning && timer.EndTime > 0 {
		return clamp(timer.EndTime - now)
	}
	if !timer.IsRunning && timer.RemainingMs > 0 {
		return timer.RemainingMs
	}
	return Duration(method, timer.Phase)
}

// Elapsed is the time since the timer started, 0 when it has no start.
func Elapsed(timer model.Timer, now int64) int64 {
	if timer.StartTime == 0 {
		return 0
	}
	return clamp(now - timer.StartTime)
}

// Progress returns a ratio in [0,1] for the progress ring.
func Progress(timer model.Timer, method model.Method, now int64) float64 {
	if method.Flexible {
		reference := method.SuggestedBreakMinutes
		if reference < minFlowReferenceMinutes {
			reference = minFlowReferenceMinutes
		}
		return ratio(Remaining(timer, method, now, nil), int64(reference)*minuteMs)
	}
	return ratio(Remaining(timer, method, now, nil), Duration(method, timer.Phase))
}

func IsWorkPhase(p model.Phase) bool {
	return p == model.PhaseWork || p == model.PhaseFlow
}

func IsBreakPhase(p model.Phase) bool {
	return p == model.PhaseBreak || p == model.PhaseLongBreak
}

// BadgeText is the short badge label: minutes left for
// fixed phases, minutes elapsed for flow, empty when idle.
func BadgeText(timer model.Timer, method model.Method, now int64) string {
	if !timer.IsRunning {
		return ""
	}
	ms := Remaining(timer, method, now, nil)
	minutes := ms / minuteMs
	if !method.Flexible && ms%minuteMs != 0 {
		minutes++
	}
	if method.Flexible {
		return fmt.Sprintf("+%dm", minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	r := float64(part) / float64(total)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func clamp(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms
}
