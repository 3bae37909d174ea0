package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jomardyan/FlexiFocus/internal/broadcast"
	"github.com/jomardyan/FlexiFocus/internal/effects"
	apperrors "github.com/jomardyan/FlexiFocus/internal/errors"
	"github.com/jomardyan/FlexiFocus/internal/lifecycle"
	"github.com/jomardyan/FlexiFocus/internal/methods"
	"github.com/jomardyan/FlexiFocus/internal/model"
	"github.com/jomardyan/FlexiFocus/internal/repository"
	"github.com/jomardyan/FlexiFocus/internal/store"
)

type fakeScheduler struct {
	mu       sync.Mutex
	at       map[string]time.Time
	periodic map[string]string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{at: map[string]time.Time{}, periodic: map[string]string{}}
}

func (f *fakeScheduler) ScheduleAt(name string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at[name] = at
}

func (f *fakeScheduler) SchedulePeriodic(name, schedule string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.periodic[name] = schedule
	return nil
}

func (f *fakeScheduler) Clear(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.at, name)
	delete(f.periodic, name)
}

type recorder struct {
	mu            sync.Mutex
	notifications []string
	tabs          []string
	sounds        []float64
	failNotify    bool
	// block, when set, holds Notify until it is closed or ctx ends.
	block chan struct{}
}

func (r *recorder) Notify(ctx context.Context, title, _ string) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, title)
	if r.failNotify {
		return errors.New("notification daemon unavailable")
	}
	return nil
}

func (r *recorder) OpenTab(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs = append(r.tabs, url)
	return nil
}

func (r *recorder) Play(_ context.Context, volume float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sounds = append(r.sounds, volume)
	return nil
}

type conflictingKV struct{ *repository.MemoryKV }

func (c conflictingKV) Put(context.Context, ...repository.Write) ([]int64, error) {
	return nil, repository.ErrVersionConflict
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	svc       *TimerService
	kv        *repository.MemoryKV
	scheduler *fakeScheduler
	recorder  *recorder
	badge     *effects.LogBadge
	hub       *broadcast.Hub
	clock     *testClock
}

func newHarness(t *testing.T, backend store.Backend) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := repository.NewMemoryKV()
	if backend == nil {
		backend = kv
	}
	h := &harness{
		kv:        kv,
		scheduler: newFakeScheduler(),
		recorder:  &recorder{},
		badge:     effects.NewLogBadge(logger),
		hub:       broadcast.NewHub(),
		clock:     &testClock{now: time.UnixMilli(1_700_000_000_000)},
	}
	h.svc = NewTimerService(TimerServiceDeps{
		Store:     store.New(backend, logger),
		Scheduler: h.scheduler,
		Publisher: h.hub,
		Collaborators: effects.Collaborators{
			Notifier: h.recorder,
			Opener:   h.recorder,
			Sound:    h.recorder,
			Badge:    h.badge,
		},
		Logger:   logger,
		Now:      h.clock.Now,
		BreakURL: "http://localhost:8080/break",
	})
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock.Set(h.clock.Now().Add(d))
}

func TestStartSchedulesAndBroadcasts(t *testing.T) {
	h := newHarness(t, nil)
	events, cancel := h.hub.Subscribe(4)
	defer cancel()

	view, apiErr := h.svc.Start(context.Background(), "", "")
	if apiErr != nil {
		t.Fatalf("start: %v", apiErr)
	}
	if !view.State.Timer.IsRunning || view.RemainingMs != 25*60000 {
		t.Fatalf("unexpected view: %+v", view.State.Timer)
	}
	if view.Badge != "25m" || h.badge.Text() != "25m" {
		t.Fatalf("badge = %q / %q, want 25m", view.Badge, h.badge.Text())
	}

	at, ok := h.scheduler.at[AlarmPhaseComplete]
	if !ok || at.UnixMilli() != view.State.Timer.EndTime {
		t.Fatalf("completion alarm = %v %v, want %d", at, ok, view.State.Timer.EndTime)
	}
	if h.scheduler.periodic[AlarmBadgeRefresh] != DefaultBadgeSchedule {
		t.Fatalf("badge refresh not scheduled: %+v", h.scheduler.periodic)
	}

	select {
	case event := <-events:
		payload, ok := event.Payload.(StateView)
		if event.Type != broadcast.EventStateUpdated || !ok || !payload.State.Timer.IsRunning {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatal("expected stateUpdated event")
	}
}

func TestStartRejectsUnknownMethod(t *testing.T) {
	h := newHarness(t, nil)
	if _, apiErr := h.svc.Start(context.Background(), "nope", ""); apiErr == nil || apiErr.Code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %v", apiErr)
	}
}

func TestPhaseCompletionAlarm(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, apiErr := h.svc.UpdateSettings(ctx, map[string]any{"breakEnforcement": true, "volume": 0.3}); apiErr != nil {
		t.Fatalf("update settings: %v", apiErr)
	}
	if _, apiErr := h.svc.Start(ctx, "", model.PhaseWork); apiErr != nil {
		t.Fatalf("start: %v", apiErr)
	}

	h.advance(25 * time.Minute)
	h.svc.HandleAlarm(AlarmPhaseComplete)
	h.svc.Wait()

	view, _ := h.svc.GetState(ctx)
	timer := view.State.Timer
	if timer.IsRunning || timer.Phase != model.PhaseBreak || timer.CompletedSessions != 1 {
		t.Fatalf("unexpected timer after completion: %+v", timer)
	}
	if len(view.State.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(view.State.History))
	}
	if len(h.recorder.notifications) != 1 || len(h.recorder.sounds) != 1 || h.recorder.sounds[0] != 0.3 {
		t.Fatalf("unexpected collaborator calls: %+v", h.recorder)
	}
	if len(h.recorder.tabs) != 1 || h.recorder.tabs[0] != "http://localhost:8080/break" {
		t.Fatalf("break page not opened: %+v", h.recorder.tabs)
	}
	if h.badge.Text() != "" {
		t.Fatalf("badge should be cleared, got %q", h.badge.Text())
	}
	if _, ok := h.scheduler.periodic[AlarmBadgeRefresh]; ok {
		t.Fatal("badge refresh should be cancelled")
	}
}

func TestStaleAlarmDoesNotBroadcast(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.svc.Start(ctx, "", "")
	h.svc.Pause(ctx)

	events, cancel := h.hub.Subscribe(4)
	defer cancel()
	h.advance(30 * time.Minute)
	h.svc.HandleAlarm(AlarmPhaseComplete)

	select {
	case event := <-events:
		t.Fatalf("stale alarm broadcast %+v", event)
	default:
	}
	view, _ := h.svc.GetState(ctx)
	if len(view.State.History) != 0 {
		t.Fatal("stale alarm must not log history")
	}
}

func TestLockInReturnsLocked(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.svc.UpdateSettings(ctx, map[string]any{"lockIn": true})
	started, _ := h.svc.Start(ctx, "", model.PhaseWork)

	for name, op := range map[string]func(context.Context) (*StateView, *apperrors.APIError){
		"pause": h.svc.Pause,
		"reset": h.svc.Reset,
		"setMethod": func(ctx context.Context) (*StateView, *apperrors.APIError) {
			return h.svc.SetMethod(ctx, methods.FlowtimeKey)
		},
	} {
		_, apiErr := op(ctx)
		if apiErr == nil || apiErr.Status != http.StatusLocked || apiErr.Code != "lock_in_active" {
			t.Fatalf("%s: expected 423 lock_in_active, got %v", name, apiErr)
		}
	}

	view, _ := h.svc.GetState(ctx)
	if view.Version != started.Version || !view.State.Timer.IsRunning {
		t.Fatalf("state changed under lock-in: version %d -> %d", started.Version, view.Version)
	}
}

func TestFlowSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, apiErr := h.svc.SetMethod(ctx, methods.FlowtimeKey); apiErr != nil {
		t.Fatalf("set method: %v", apiErr)
	}
	h.svc.Start(ctx, "", "")
	if _, ok := h.scheduler.at[AlarmPhaseComplete]; ok {
		t.Fatal("flow must not schedule a completion alarm")
	}

	h.advance(37 * time.Minute)
	h.svc.HandleAlarm(AlarmBadgeRefresh)
	if h.badge.Text() != "+37m" {
		t.Fatalf("badge = %q, want +37m", h.badge.Text())
	}

	view, apiErr := h.svc.CompleteFlow(ctx)
	if apiErr != nil {
		t.Fatalf("complete flow: %v", apiErr)
	}
	if view.State.History[0].DurationMs != 37*60000 || view.State.Timer.Phase != model.PhaseBreak {
		t.Fatalf("unexpected flow result: %+v", view.State)
	}
	if view.Settings.SelectedMethod != methods.FlowtimeKey {
		t.Fatalf("selected method = %q", view.Settings.SelectedMethod)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		patch map[string]any
	}{
		{name: "empty", patch: map[string]any{}},
		{name: "volume out of range", patch: map[string]any{"volume": 1.5}},
		{name: "unknown theme", patch: map[string]any{"theme": "neon"}},
		{name: "unknown method", patch: map[string]any{"selectedMethod": "nope"}},
		{name: "wrong type", patch: map[string]any{"lockIn": "yes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, apiErr := h.svc.UpdateSettings(ctx, tt.patch)
			if apiErr == nil || apiErr.Code != "invalid_settings" {
				t.Fatalf("expected invalid_settings, got %v", apiErr)
			}
		})
	}

	view, apiErr := h.svc.UpdateSettings(ctx, map[string]any{
		"presets": map[string]any{"pomodoro": map[string]any{"workMinutes": 30}},
	})
	if apiErr != nil {
		t.Fatalf("valid patch: %v", apiErr)
	}
	if view.Settings.Volume != 0.7 {
		t.Fatalf("untouched fields must keep their values, volume = %v", view.Settings.Volume)
	}
	for _, method := range view.Methods {
		if method.Key == "pomodoro" && method.WorkMinutes != 30 {
			t.Fatalf("preset not applied to methods: %+v", method)
		}
	}
}

func TestTaskCommands(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	view, apiErr := h.svc.AddTask(ctx, "Write report", 2)
	if apiErr != nil {
		t.Fatalf("add task: %v", apiErr)
	}
	id := view.State.Tasks[0].ID

	if _, apiErr := h.svc.AddTask(ctx, "", 1); apiErr == nil || apiErr.Code != "invalid_task" {
		t.Fatalf("expected invalid_task, got %v", apiErr)
	}
	if _, apiErr := h.svc.SetActiveTask(ctx, "missing"); apiErr == nil || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", apiErr)
	}

	h.svc.SetActiveTask(ctx, id)
	for i := 0; i < 2; i++ {
		h.svc.Start(ctx, "", model.PhaseWork)
		h.advance(25 * time.Minute)
		h.svc.HandleAlarm(AlarmPhaseComplete)
	}

	view, _ = h.svc.GetState(ctx)
	if task := view.State.Tasks[0]; task.CompletedSessions != 2 || !task.Done {
		t.Fatalf("task = %+v, want done after two sessions", task)
	}

	title := "Renamed"
	view, _ = h.svc.UpdateTask(ctx, id, lifecycle.TaskPatch{Title: &title})
	if view.State.Tasks[0].Title != title {
		t.Fatalf("title = %q", view.State.Tasks[0].Title)
	}

	view, _ = h.svc.DeleteTask(ctx, id)
	if len(view.State.Tasks) != 0 || view.State.Timer.ActiveTaskID != nil {
		t.Fatalf("delete left %+v", view.State)
	}
}

func TestRecoverCompletesOverduePhase(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.svc.Start(ctx, "", model.PhaseWork)

	// Simulate a restart well after the phase ended.
	restarted := newHarness(t, h.kv)
	restarted.clock.Set(h.clock.Now().Add(time.Hour))
	view, apiErr := restarted.svc.Recover(ctx)
	if apiErr != nil {
		t.Fatalf("recover: %v", apiErr)
	}
	if view.State.Timer.Phase != model.PhaseBreak || view.State.Timer.CompletedSessions != 1 {
		t.Fatalf("overdue phase not completed: %+v", view.State.Timer)
	}
}

func TestRecoverFirstRunWritesDefaults(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, apiErr := h.svc.Recover(ctx); apiErr != nil {
		t.Fatalf("recover: %v", apiErr)
	}
	for _, key := range []string{store.StateKey, store.SettingsKey} {
		if _, err := h.kv.Get(ctx, key); err != nil {
			t.Fatalf("%s not written: %v", key, err)
		}
	}
}

func TestRecoverRearmsPendingPhase(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	started, _ := h.svc.Start(ctx, "", model.PhaseWork)

	restarted := newHarness(t, h.kv)
	restarted.clock.Set(h.clock.Now().Add(5 * time.Minute))
	restarted.svc.Recover(ctx)

	at, ok := restarted.scheduler.at[AlarmPhaseComplete]
	if !ok || at.UnixMilli() != started.State.Timer.EndTime {
		t.Fatalf("completion alarm not re-armed: %v %v", at, ok)
	}
	if restarted.badge.Text() != "20m" {
		t.Fatalf("badge = %q, want 20m", restarted.badge.Text())
	}
}

func TestCollaboratorFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.recorder.failNotify = true
	ctx := context.Background()

	h.svc.Start(ctx, "", model.PhaseWork)
	h.advance(25 * time.Minute)
	h.svc.HandleAlarm(AlarmPhaseComplete)
	h.svc.Wait()

	view, _ := h.svc.GetState(ctx)
	if view.State.Timer.Phase != model.PhaseBreak {
		t.Fatalf("completion should persist despite notify failure: %+v", view.State.Timer)
	}
	if len(h.recorder.sounds) != 1 {
		t.Fatalf("sound should still play after a failed notification: %+v", h.recorder.sounds)
	}
}

func TestSlowCollaboratorDoesNotBlockOperations(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	h.recorder.block = release
	ctx := context.Background()

	h.svc.Start(ctx, "", model.PhaseWork)
	h.advance(25 * time.Minute)

	handled := make(chan struct{})
	go func() {
		h.svc.HandleAlarm(AlarmPhaseComplete)
		close(handled)
	}()
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("phase completion waited on the notifier")
	}

	start := time.Now()
	view, apiErr := h.svc.GetState(ctx)
	if apiErr != nil {
		t.Fatalf("get state: %v", apiErr)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("get state blocked for %s behind the notifier", elapsed)
	}
	if view.State.Timer.Phase != model.PhaseBreak {
		t.Fatalf("completion not saved while notifier hangs: %+v", view.State.Timer)
	}
	if _, apiErr := h.svc.Start(ctx, "", ""); apiErr != nil {
		t.Fatalf("start while notifier hangs: %v", apiErr)
	}

	close(release)
	h.svc.Wait()
	if len(h.recorder.notifications) != 1 {
		t.Fatalf("notifications = %v, want one", h.recorder.notifications)
	}
}

func TestHungCollaboratorIsCutOff(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.collaboratorTimeout = 50 * time.Millisecond
	h.recorder.block = make(chan struct{})
	ctx := context.Background()

	h.svc.Start(ctx, "", model.PhaseWork)
	h.advance(25 * time.Minute)
	h.svc.HandleAlarm(AlarmPhaseComplete)

	waited := make(chan struct{})
	go func() {
		h.svc.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("collaborator call was not bounded by its timeout")
	}
	if len(h.recorder.notifications) != 0 || len(h.recorder.sounds) != 1 {
		t.Fatalf("expected skipped notification and played sound, got %+v", h.recorder)
	}
}

func TestConflictAfterRetries(t *testing.T) {
	h := newHarness(t, conflictingKV{repository.NewMemoryKV()})

	_, apiErr := h.svc.Start(context.Background(), "", "")
	if apiErr == nil || apiErr.Status != http.StatusConflict || apiErr.Code != "state_conflict" {
		t.Fatalf("expected state_conflict, got %v", apiErr)
	}
	if _, ok := h.scheduler.at[AlarmPhaseComplete]; ok {
		t.Fatal("effects must not run when the save failed")
	}
}

func TestUpdateLogNamesClient(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	svc := NewTimerService(TimerServiceDeps{
		Store:  store.New(repository.NewMemoryKV(), logger),
		Logger: logger,
	})

	if _, apiErr := svc.Start(WithClient(context.Background(), "popup"), "", ""); apiErr != nil {
		t.Fatalf("start: %v", apiErr)
	}
	if !strings.Contains(logs.String(), `"client":"popup"`) {
		t.Fatalf("timer updated log does not name the client:\n%s", logs.String())
	}
}
