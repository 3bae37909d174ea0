// Package lifecycle implements the timer state machine. Every operation takes
// the loaded aggregate and returns the next one together with the side
// effects to perform; nothing here touches storage or the clock.
package lifecycle

import (
	"errors"

	"github.com/google/uuid"

	"github.com/jomardyan/FlexiFocus/internal/methods"
	"github.com/jomardyan/FlexiFocus/internal/model"
	"github.com/jomardyan/FlexiFocus/internal/phase"
	"github.com/jomardyan/FlexiFocus/internal/store"
)

var (
	ErrLockedIn      = errors.New("lock-in is enabled: finish the current focus session first")
	ErrUnknownMethod = errors.New("unknown timing method")
)

// earlyWakeTolerance absorbs scheduler jitter; wake-ups arriving earlier than
// this before the phase end are re-armed instead of completing the phase.
const earlyWakeTolerance = int64(1000)

// Input is the aggregate an operation starts from.
type Input struct {
	State    model.AppState
	Settings model.Settings
	Now      int64
}

// Result is the aggregate after an operation. Changed is false for no-ops,
// which callers neither persist nor broadcast.
type Result struct {
	State    model.AppState
	Settings model.Settings
	Effects  []Effect
	Changed  bool
}

type Machine struct {
	newID func() string
}

func NewMachine() *Machine {
	return &Machine{newID: uuid.NewString}
}

// NewMachineWithIDs is used by tests that need predictable identifiers.
func NewMachineWithIDs(newID func() string) *Machine {
	return &Machine{newID: newID}
}

func (m *Machine) method(in Input, key string) model.Method {
	if key == "" {
		key = in.State.Timer.MethodKey
	}
	if key == "" {
		key = in.Settings.SelectedMethod
	}
	return methods.Resolve(key, in.Settings.Presets)
}

func unchanged(in Input) Result {
	return Result{State: in.State, Settings: in.Settings}
}

func changed(state model.AppState, settings model.Settings, effects ...Effect) Result {
	return Result{State: state, Settings: settings, Effects: effects, Changed: true}
}

// Start begins phaseKey (or the current phase) of methodKey (or the current
// method). Flexible methods always run the flow phase.
func (m *Machine) Start(in Input, methodKey string, phaseKey model.Phase) Result {
	state := in.State.Clone()
	method := m.method(in, methodKey)

	target := phaseKey
	if !target.Valid() {
		target = state.Timer.Phase
	}
	if !target.Valid() {
		target = model.PhaseWork
	}

	timer := &state.Timer
	timer.MethodKey = method.Key
	timer.IsRunning = true
	timer.StartTime = in.Now
	timer.RemainingMs = 0

	if method.Flexible {
		timer.Phase = model.PhaseFlow
		timer.EndTime = 0
		return changed(state, in.Settings,
			Effect{Kind: EffectClearCompletion},
			Effect{Kind: EffectStartBadge},
		)
	}

	if target == model.PhaseFlow {
		target = model.PhaseWork
	}
	timer.Phase = target
	timer.EndTime = in.Now + phase.Duration(method, target)
	return changed(state, in.Settings,
		scheduleCompletion(timer.EndTime),
		Effect{Kind: EffectStartBadge},
	)
}

func lockedIn(settings model.Settings, timer model.Timer, method model.Method) bool {
	return settings.LockIn && timer.IsRunning && timer.Phase == model.PhaseWork && !method.Flexible
}

// Pause freezes the remaining (or, for flow, elapsed) time.
func (m *Machine) Pause(in Input) (Result, error) {
	if !in.State.Timer.IsRunning {
		return unchanged(in), nil
	}
	method := m.method(in, "")
	if lockedIn(in.Settings, in.State.Timer, method) {
		return unchanged(in), ErrLockedIn
	}

	state := in.State.Clone()
	timer := &state.Timer
	if method.Flexible {
		timer.RemainingMs = phase.Elapsed(*timer, in.Now)
	} else {
		timer.RemainingMs = phase.Remaining(*timer, method, in.Now, nil)
	}
	timer.IsRunning = false
	timer.StartTime = 0
	timer.EndTime = 0
	return changed(state, in.Settings, clearTimers()...), nil
}

// Resume continues a paused timer from its frozen remaining time.
func (m *Machine) Resume(in Input) Result {
	if in.State.Timer.IsRunning {
		return unchanged(in)
	}
	method := m.method(in, "")
	state := in.State.Clone()
	timer := &state.Timer
	timer.MethodKey = method.Key
	timer.IsRunning = true

	if method.Flexible {
		timer.Phase = model.PhaseFlow
		timer.StartTime = in.Now - timer.RemainingMs
		timer.EndTime = 0
		timer.RemainingMs = 0
		return changed(state, in.Settings,
			Effect{Kind: EffectClearCompletion},
			Effect{Kind: EffectStartBadge},
		)
	}

	if timer.Phase == model.PhaseFlow {
		timer.Phase = model.PhaseWork
	}
	total := phase.Duration(method, timer.Phase)
	remaining := timer.RemainingMs
	if remaining <= 0 {
		remaining = total
	}
	// Back-date the start so EndTime-StartTime still spans the whole phase.
	timer.StartTime = in.Now
	if remaining < total {
		timer.StartTime = in.Now - (total - remaining)
	}
	timer.EndTime = in.Now + remaining
	timer.RemainingMs = 0
	return changed(state, in.Settings,
		scheduleCompletion(timer.EndTime),
		Effect{Kind: EffectStartBadge},
	)
}

// Reset returns the timer to an idle work phase of the current method. The
// lifetime session count and the active task survive.
func (m *Machine) Reset(in Input) (Result, error) {
	method := m.method(in, "")
	if lockedIn(in.Settings, in.State.Timer, method) {
		return unchanged(in), ErrLockedIn
	}

	state := in.State.Clone()
	state.Timer = resetTimer(state.Timer, method.Key)
	return changed(state, in.Settings, clearTimers()...), nil
}

// SetMethod switches the timing method and stops the timer on a work phase.
// Like Pause and Reset it fails with ErrLockedIn during a locked-in work
// phase, since switching would abandon the running session.
func (m *Machine) SetMethod(in Input, methodKey string) (Result, error) {
	method, ok := methods.Lookup(methodKey)
	if !ok {
		return unchanged(in), ErrUnknownMethod
	}
	if lockedIn(in.Settings, in.State.Timer, m.method(in, "")) {
		return unchanged(in), ErrLockedIn
	}

	state := in.State.Clone()
	settings := in.Settings.Clone()
	state.Timer = resetTimer(state.Timer, method.Key)
	settings.SelectedMethod = method.Key
	return changed(state, settings, clearTimers()...), nil
}

// resetTimer keeps the lifetime completedSessions count and the active task.
func resetTimer(previous model.Timer, methodKey string) model.Timer {
	timer := model.DefaultTimer(methodKey)
	timer.CompletedSessions = previous.CompletedSessions
	timer.ActiveTaskID = previous.ActiveTaskID
	return timer
}

// CompleteFlow ends a running flow session, logs it and moves to a break.
func (m *Machine) CompleteFlow(in Input) Result {
	method := m.method(in, "")
	if !method.Flexible || !in.State.Timer.IsRunning {
		return unchanged(in)
	}

	state := in.State.Clone()
	timer := &state.Timer
	elapsed := phase.Elapsed(*timer, in.Now)
	state.History = store.AppendHistory(state.History, m.historyEntry(*timer, method, elapsed, timer.StartTime, in.Now))
	state.Statistics = recordFocus(state.Statistics, elapsed, in.Now)

	timer.Phase = model.PhaseBreak
	timer.IsRunning = false
	timer.StartTime = 0
	timer.EndTime = 0
	timer.RemainingMs = 0

	effects := clearTimers()
	if in.Settings.Notifications {
		effects = append(effects, Effect{
			Kind:    EffectNotify,
			Title:   "Flow session complete",
			Message: flowMessage(elapsed, method),
		})
	}
	return changed(state, in.Settings, effects...)
}

// CompletePhase handles the phase-completion wake-up of a fixed method.
// Wake-ups for a timer that is no longer running are ignored.
func (m *Machine) CompletePhase(in Input) Result {
	timer := in.State.Timer
	method := m.method(in, "")
	if !timer.IsRunning || method.Flexible {
		return unchanged(in)
	}
	if timer.EndTime > in.Now+earlyWakeTolerance {
		result := unchanged(in)
		result.Effects = []Effect{scheduleCompletion(timer.EndTime)}
		return result
	}

	state := in.State.Clone()
	completing := timer.Phase
	duration := timer.EndTime - timer.StartTime
	if duration < 0 {
		duration = 0
	}
	endedAt := timer.EndTime
	if endedAt == 0 {
		endedAt = in.Now
	}
	state.History = store.AppendHistory(state.History, m.historyEntry(timer, method, duration, timer.StartTime, endedAt))

	next := phase.Next(timer, method)
	if completing == model.PhaseWork {
		state.Timer.CycleCount++
		state.Timer.CompletedSessions++
		state.Statistics = recordFocus(state.Statistics, duration, in.Now)
	}
	state.Timer.Phase = next.Phase
	state.Timer.IsRunning = false
	state.Timer.StartTime = 0
	state.Timer.EndTime = 0
	state.Timer.RemainingMs = 0

	if completing == model.PhaseWork && timer.ActiveTaskID != nil {
		applyTaskProgress(&state, *timer.ActiveTaskID)
	}

	effects := []Effect{{Kind: EffectClearBadge}}
	effects = append(effects, completionEffects(in.Settings, completing, next)...)
	result := changed(state, in.Settings, effects...)

	if autoStart(in.Settings, next.Phase) {
		started := m.Start(Input{State: result.State, Settings: in.Settings, Now: in.Now}, method.Key, next.Phase)
		started.Effects = append(result.Effects, started.Effects...)
		return started
	}
	return result
}

func autoStart(settings model.Settings, next model.Phase) bool {
	if phase.IsBreakPhase(next) {
		return settings.AutoStartBreak
	}
	return next == model.PhaseWork && settings.AutoStartWork
}

func completionEffects(settings model.Settings, completing model.Phase, next phase.Transition) []Effect {
	var effects []Effect
	if settings.Notifications {
		title, message := "Break over", "Ready to focus again?"
		if completing == model.PhaseWork {
			title, message = "Focus session complete", "Time for a short break."
			if next.IsLongBreak {
				message = "Time for a long break."
			}
		}
		effects = append(effects, Effect{Kind: EffectNotify, Title: title, Message: message})
	}
	if settings.Sound {
		effects = append(effects, Effect{Kind: EffectPlaySound})
	}
	if settings.BreakEnforcement && phase.IsBreakPhase(next.Phase) {
		effects = append(effects, Effect{Kind: EffectOpenBreakPage})
	}
	return effects
}

// Recover re-arms wake-ups after a restart and completes a fixed phase whose
// end passed while the process was down.
func (m *Machine) Recover(in Input) Result {
	timer := in.State.Timer
	if !timer.IsRunning {
		result := unchanged(in)
		result.Effects = clearTimers()
		return result
	}
	method := m.method(in, "")
	if method.Flexible {
		result := unchanged(in)
		result.Effects = []Effect{{Kind: EffectStartBadge}}
		return result
	}
	if timer.EndTime <= in.Now {
		return m.CompletePhase(in)
	}
	result := unchanged(in)
	result.Effects = []Effect{scheduleCompletion(timer.EndTime), {Kind: EffectStartBadge}}
	return result
}

func (m *Machine) historyEntry(timer model.Timer, method model.Method, duration, startedAt, endedAt int64) model.HistoryEntry {
	entry := model.HistoryEntry{
		ID:         m.newID(),
		MethodKey:  method.Key,
		Phase:      timer.Phase,
		DurationMs: duration,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
	}
	if phase.IsWorkPhase(timer.Phase) && timer.ActiveTaskID != nil {
		taskID := *timer.ActiveTaskID
		entry.TaskID = &taskID
	}
	return entry
}
