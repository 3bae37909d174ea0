package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jomardyan/FlexiFocus/internal/broadcast"
	"github.com/jomardyan/FlexiFocus/internal/effects"
	apperrors "github.com/jomardyan/FlexiFocus/internal/errors"
	"github.com/jomardyan/FlexiFocus/internal/lifecycle"
	"github.com/jomardyan/FlexiFocus/internal/methods"
	"github.com/jomardyan/FlexiFocus/internal/model"
	"github.com/jomardyan/FlexiFocus/internal/phase"
	"github.com/jomardyan/FlexiFocus/internal/repository"
	"github.com/jomardyan/FlexiFocus/internal/store"
)

// Alarm names handed to the scheduler.
const (
	AlarmPhaseComplete = "phaseComplete"
	AlarmBadgeRefresh  = "badgeRefresh"
)

const (
	DefaultBadgeSchedule       = "@every 1m"
	DefaultCollaboratorTimeout = 10 * time.Second
	saveAttempts               = 3
)

var errInvalidSettings = errors.New("invalid settings")

// Scheduler arms and cancels the named wake-ups the service reacts to.
type Scheduler interface {
	ScheduleAt(name string, at time.Time)
	SchedulePeriodic(name, schedule string) error
	Clear(name string)
}

type Publisher interface {
	Publish(event broadcast.Event) int
}

type TimerServiceDeps struct {
	Store         *store.Store
	Machine       *lifecycle.Machine
	Scheduler     Scheduler
	Publisher     Publisher
	Collaborators effects.Collaborators
	Logger        *slog.Logger
	Now           func() time.Time
	BadgeSchedule string
	BreakURL      string

	// CollaboratorTimeout bounds each notify, sound and open-tab call.
	CollaboratorTimeout time.Duration
}

// TimerService runs lifecycle transitions against the persisted aggregate
// one at a time: load, transition, save, arm wake-ups, broadcast. Notify,
// sound and open-tab calls run afterwards on their own goroutine so a slow
// collaborator never holds up the next operation.
type TimerService struct {
	mu                  sync.Mutex
	store               *store.Store
	machine             *lifecycle.Machine
	scheduler           Scheduler
	publisher           Publisher
	collaborators       effects.Collaborators
	collaboratorTimeout time.Duration
	collaborating       sync.WaitGroup
	logger              *slog.Logger
	now                 func() time.Time
	badgeSchedule       string
	breakURL            string
}

type clientKey struct{}

// WithClient records which client issued the operations run under ctx.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

func clientFrom(ctx context.Context) string {
	client, _ := ctx.Value(clientKey{}).(string)
	return client
}

// StateView is the payload of getState responses and stateUpdated events.
type StateView struct {
	State       model.AppState `json:"state"`
	Settings    model.Settings `json:"settings"`
	Methods     []model.Method `json:"methods"`
	RemainingMs int64          `json:"remainingMs"`
	Progress    float64        `json:"progress"`
	Badge       string         `json:"badge"`
	Version     int64          `json:"version"`
	ServerTime  int64          `json:"serverTime"`
}

func NewTimerService(deps TimerServiceDeps) *TimerService {
	if deps.Machine == nil {
		deps.Machine = lifecycle.NewMachine()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.BadgeSchedule == "" {
		deps.BadgeSchedule = DefaultBadgeSchedule
	}
	if deps.CollaboratorTimeout <= 0 {
		deps.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	return &TimerService{
		store:               deps.Store,
		machine:             deps.Machine,
		scheduler:           deps.Scheduler,
		publisher:           deps.Publisher,
		collaborators:       deps.Collaborators,
		collaboratorTimeout: deps.CollaboratorTimeout,
		logger:              deps.Logger,
		now:                 deps.Now,
		badgeSchedule:       deps.BadgeSchedule,
		breakURL:            deps.BreakURL,
	}
}

// Wait blocks until collaborator calls started by earlier operations return.
func (s *TimerService) Wait() {
	s.collaborating.Wait()
}

type transition func(in lifecycle.Input) (lifecycle.Result, error)

func infallible(fn func(lifecycle.Input) lifecycle.Result) transition {
	return func(in lifecycle.Input) (lifecycle.Result, error) {
		return fn(in), nil
	}
}

func (s *TimerService) GetState(ctx context.Context) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("load state", "error", err)
		return nil, apperrors.Internal("failed to load state")
	}
	view := s.toStateView(snap, s.now().UnixMilli())
	return &view, nil
}

func (s *TimerService) Start(ctx context.Context, methodKey string, phaseKey model.Phase) (*StateView, *apperrors.APIError) {
	if methodKey != "" {
		if _, ok := methods.Lookup(methodKey); !ok {
			return nil, apperrors.BadRequest("invalid_request", "unknown timing method")
		}
	}
	if phaseKey != "" && !phaseKey.Valid() {
		return nil, apperrors.BadRequest("invalid_request", "unknown phase")
	}
	return s.apply(ctx, "start", infallible(func(in lifecycle.Input) lifecycle.Result {
		return s.machine.Start(in, methodKey, phaseKey)
	}))
}

func (s *TimerService) Pause(ctx context.Context) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "pause", s.machine.Pause)
}

func (s *TimerService) Resume(ctx context.Context) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "resume", infallible(s.machine.Resume))
}

func (s *TimerService) Reset(ctx context.Context) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "reset", s.machine.Reset)
}

func (s *TimerService) CompleteFlow(ctx context.Context) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "completeFlow", infallible(s.machine.CompleteFlow))
}

// SetMethod switches the timing method. It is rejected with 423
// lock_in_active while a locked-in work phase is running, like Pause and
// Reset.
func (s *TimerService) SetMethod(ctx context.Context, methodKey string) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "setMethod", func(in lifecycle.Input) (lifecycle.Result, error) {
		return s.machine.SetMethod(in, methodKey)
	})
}

// UpdateSettings merges a partial settings document into the stored one.
func (s *TimerService) UpdateSettings(ctx context.Context, patch map[string]any) (*StateView, *apperrors.APIError) {
	if len(patch) == 0 {
		return nil, apperrors.BadRequest("invalid_settings", "settings patch is empty")
	}
	return s.apply(ctx, "updateSettings", func(in lifecycle.Input) (lifecycle.Result, error) {
		settings, err := store.MergeSettings(in.Settings, patch)
		if err != nil {
			return lifecycle.Result{}, fmt.Errorf("%w: %v", errInvalidSettings, err)
		}
		if _, ok := methods.Lookup(settings.SelectedMethod); !ok {
			return lifecycle.Result{}, fmt.Errorf("%w: unknown method %q", errInvalidSettings, settings.SelectedMethod)
		}

		result := lifecycle.Result{State: in.State, Settings: settings, Changed: true}
		switch {
		case !settings.ShowBadge:
			result.Effects = []lifecycle.Effect{{Kind: lifecycle.EffectClearBadge}}
		case in.State.Timer.IsRunning:
			result.Effects = []lifecycle.Effect{{Kind: lifecycle.EffectStartBadge}}
		}
		return result, nil
	})
}

func (s *TimerService) AddTask(ctx context.Context, title string, estimate int) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "addTask", func(in lifecycle.Input) (lifecycle.Result, error) {
		result, _, err := s.machine.AddTask(in, title, estimate)
		return result, err
	})
}

func (s *TimerService) UpdateTask(ctx context.Context, id string, patch lifecycle.TaskPatch) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "updateTask", func(in lifecycle.Input) (lifecycle.Result, error) {
		return s.machine.UpdateTask(in, id, patch)
	})
}

func (s *TimerService) DeleteTask(ctx context.Context, id string) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "deleteTask", func(in lifecycle.Input) (lifecycle.Result, error) {
		return s.machine.DeleteTask(in, id)
	})
}

func (s *TimerService) SetActiveTask(ctx context.Context, id string) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "setActiveTask", func(in lifecycle.Input) (lifecycle.Result, error) {
		return s.machine.SetActiveTask(in, id)
	})
}

// Recover re-arms wake-ups after a restart, completing phases that ended
// while the process was down, and writes defaults on first run.
func (s *TimerService) Recover(ctx context.Context) (*StateView, *apperrors.APIError) {
	return s.apply(ctx, "recover", func(in lifecycle.Input) (lifecycle.Result, error) {
		return s.machine.Recover(in), nil
	})
}

// HandleAlarm is the scheduler callback.
func (s *TimerService) HandleAlarm(name string) {
	ctx := WithClient(context.Background(), "scheduler")
	switch name {
	case AlarmPhaseComplete:
		if _, apiErr := s.apply(ctx, "phaseComplete", infallible(s.machine.CompletePhase)); apiErr != nil {
			s.logger.Error("phase completion failed", "code", apiErr.Code, "error", apiErr.Message)
		}
	case AlarmBadgeRefresh:
		s.refreshBadge(ctx)
	default:
		s.logger.Warn("ignoring unknown alarm", "name", name)
	}
}

func (s *TimerService) apply(ctx context.Context, op string, fn transition) (*StateView, *apperrors.APIError) {
	view, pending, apiErr := s.commit(ctx, op, fn)
	if apiErr != nil {
		return nil, apiErr
	}
	s.collaborate(ctx, pending, view.Settings.Volume)
	return view, nil
}

// commit returns the collaborator effects still to be run once s.mu is
// released.
func (s *TimerService) commit(ctx context.Context, op string, fn transition) (*StateView, []lifecycle.Effect, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		snap, err := s.store.Load(ctx)
		if err != nil {
			s.logger.Error("load state", "op", op, "error", err)
			return nil, nil, apperrors.Internal("failed to load state")
		}

		now := s.now().UnixMilli()
		firstRun := snap.StateVersion == 0 || snap.SettingsVersion == 0
		result, err := fn(lifecycle.Input{State: snap.State, Settings: snap.Settings, Now: now})
		if err != nil {
			return nil, nil, toAPIError(err)
		}

		if result.Changed || firstRun {
			snap.State = result.State
			snap.Settings = result.Settings
			err := s.store.Save(ctx, snap)
			if errors.Is(err, repository.ErrVersionConflict) {
				s.logger.Warn("state changed concurrently, retrying", "op", op, "attempt", attempt)
				lastErr = err
				continue
			}
			if err != nil {
				s.logger.Error("save state", "op", op, "error", err)
				return nil, nil, apperrors.Internal("failed to save state")
			}
		}

		pending := s.perform(ctx, result.Effects, snap)
		view := s.toStateView(snap, now)
		if result.Changed {
			s.logger.Info("timer updated", "op", op, "client", clientFrom(ctx), "phase", snap.State.Timer.Phase, "running", snap.State.Timer.IsRunning)
			s.publish(view)
		}
		return &view, pending, nil
	}

	s.logger.Error("giving up after repeated conflicts", "op", op, "error", lastErr)
	return nil, nil, apperrors.Conflict("state_conflict", "state was modified concurrently, retry the command", nil)
}

func toAPIError(err error) *apperrors.APIError {
	switch {
	case errors.Is(err, lifecycle.ErrLockedIn):
		return apperrors.Locked("lock_in_active", err.Error())
	case errors.Is(err, lifecycle.ErrUnknownMethod):
		return apperrors.BadRequest("invalid_request", err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTask):
		return apperrors.BadRequest("invalid_task", err.Error())
	case errors.Is(err, lifecycle.ErrTaskNotFound):
		return apperrors.NotFound("task_not_found", err.Error())
	case errors.Is(err, errInvalidSettings):
		return apperrors.BadRequest("invalid_settings", err.Error())
	}
	return apperrors.Internal("")
}

func (s *TimerService) publish(view StateView) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(broadcast.Event{Type: broadcast.EventStateUpdated, Payload: view})
}

// perform arms and clears wake-ups and updates the badge after a successful
// save. Notify, sound and open-tab effects are returned for collaborate.
func (s *TimerService) perform(ctx context.Context, list []lifecycle.Effect, snap *store.Snapshot) []lifecycle.Effect {
	var pending []lifecycle.Effect
	for _, effect := range list {
		var err error
		switch effect.Kind {
		case lifecycle.EffectScheduleCompletion:
			if s.scheduler != nil {
				s.scheduler.ScheduleAt(AlarmPhaseComplete, time.UnixMilli(effect.At))
			}
		case lifecycle.EffectClearCompletion:
			if s.scheduler != nil {
				s.scheduler.Clear(AlarmPhaseComplete)
			}
		case lifecycle.EffectStartBadge:
			if !snap.Settings.ShowBadge {
				continue
			}
			s.setBadge(ctx, snap)
			if s.scheduler != nil {
				err = s.scheduler.SchedulePeriodic(AlarmBadgeRefresh, s.badgeSchedule)
			}
		case lifecycle.EffectClearBadge:
			if s.scheduler != nil {
				s.scheduler.Clear(AlarmBadgeRefresh)
			}
			if s.collaborators.Badge != nil {
				err = s.collaborators.Badge.ClearBadge(ctx)
			}
		case lifecycle.EffectNotify, lifecycle.EffectPlaySound, lifecycle.EffectOpenBreakPage:
			pending = append(pending, effect)
		}
		if err != nil {
			s.logger.Warn("side effect failed", "effect", effect.Kind, "error", err)
		}
	}
	return pending
}

// collaborate runs notify, sound and open-tab effects in order on a separate
// goroutine, each bounded by the collaborator timeout. Failures are logged
// and never fail the command.
func (s *TimerService) collaborate(ctx context.Context, list []lifecycle.Effect, volume float64) {
	if len(list) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	c := s.collaborators

	s.collaborating.Add(1)
	go func() {
		defer s.collaborating.Done()
		for _, effect := range list {
			callCtx, cancel := context.WithTimeout(ctx, s.collaboratorTimeout)
			var err error
			switch effect.Kind {
			case lifecycle.EffectNotify:
				if c.Notifier != nil {
					err = c.Notifier.Notify(callCtx, effect.Title, effect.Message)
				}
			case lifecycle.EffectPlaySound:
				if c.Sound != nil {
					err = c.Sound.Play(callCtx, volume)
				}
			case lifecycle.EffectOpenBreakPage:
				if c.Opener != nil {
					err = c.Opener.OpenTab(callCtx, s.breakURL)
				}
			}
			cancel()
			if err != nil {
				s.logger.Warn("side effect failed", "effect", effect.Kind, "client", clientFrom(ctx), "error", err)
			}
		}
	}()
}

func (s *TimerService) refreshBadge(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("badge refresh: load state", "error", err)
		return
	}
	if !snap.State.Timer.IsRunning || !snap.Settings.ShowBadge {
		s.perform(ctx, []lifecycle.Effect{{Kind: lifecycle.EffectClearBadge}}, snap)
		return
	}
	s.setBadge(ctx, snap)
}

func (s *TimerService) setBadge(ctx context.Context, snap *store.Snapshot) {
	if s.collaborators.Badge == nil {
		return
	}
	method := methods.Resolve(snap.State.Timer.MethodKey, snap.Settings.Presets)
	text := phase.BadgeText(snap.State.Timer, method, s.now().UnixMilli())
	if err := s.collaborators.Badge.SetBadge(ctx, text); err != nil {
		s.logger.Warn("set badge", "error", err)
	}
}

func (s *TimerService) toStateView(snap *store.Snapshot, now int64) StateView {
	timer := snap.State.Timer
	method := methods.Resolve(timer.MethodKey, snap.Settings.Presets)

	view := StateView{
		State:       snap.State,
		Settings:    snap.Settings,
		Methods:     methods.WithPresets(snap.Settings.Presets),
		RemainingMs: phase.Remaining(timer, method, now, nil),
		Progress:    phase.Progress(timer, method, now),
		Version:     snap.StateVersion,
		ServerTime:  now,
	}
	if timer.IsRunning && snap.Settings.ShowBadge {
		view.Badge = phase.BadgeText(timer, method, now)
	}
	return view
}
