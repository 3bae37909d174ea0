package alarm

import (
	"testing"
	"time"
)

func recorder() (Handler, <-chan string) {
	fired := make(chan string, 16)
	return func(name string) { fired <- name }, fired
}

func expectFired(t *testing.T, fired <-chan string, want string, within time.Duration) {
	t.Helper()
	select {
	case got := <-fired:
		if got != want {
			t.Fatalf("fired %q, want %q", got, want)
		}
	case <-time.After(within):
		t.Fatalf("alarm %q did not fire within %s", want, within)
	}
}

func expectQuiet(t *testing.T, fired <-chan string, within time.Duration) {
	t.Helper()
	select {
	case got := <-fired:
		t.Fatalf("unexpected alarm %q", got)
	case <-time.After(within):
	}
}

func TestScheduleAtFiresOnce(t *testing.T) {
	handler, fired := recorder()
	scheduler := New(handler)
	defer scheduler.Stop()

	scheduler.ScheduleAt("phase", time.Now().Add(20*time.Millisecond))
	if _, ok := scheduler.Pending("phase"); !ok {
		t.Fatal("expected pending alarm")
	}

	expectFired(t, fired, "phase", time.Second)
	expectQuiet(t, fired, 50*time.Millisecond)
	if _, ok := scheduler.Pending("phase"); ok {
		t.Fatal("fired alarm should no longer be pending")
	}
}

func TestScheduleAtInPastFiresImmediately(t *testing.T) {
	handler, fired := recorder()
	scheduler := New(handler)
	defer scheduler.Stop()

	scheduler.ScheduleAt("phase", time.Now().Add(-time.Minute))
	expectFired(t, fired, "phase", time.Second)
}

func TestScheduleAtReplacesPrevious(t *testing.T) {
	handler, fired := recorder()
	scheduler := New(handler)
	defer scheduler.Stop()

	first := time.Now().Add(20 * time.Millisecond)
	scheduler.ScheduleAt("phase", first)
	scheduler.ScheduleAt("phase", first.Add(100*time.Millisecond))

	at, ok := scheduler.Pending("phase")
	if !ok || !at.After(first) {
		t.Fatalf("pending = %v %v, want replacement time", at, ok)
	}
	expectQuiet(t, fired, 60*time.Millisecond)
	expectFired(t, fired, "phase", time.Second)
}

func TestClearCancelsAlarm(t *testing.T) {
	handler, fired := recorder()
	scheduler := New(handler)
	defer scheduler.Stop()

	scheduler.ScheduleAt("phase", time.Now().Add(20*time.Millisecond))
	scheduler.Clear("phase")
	scheduler.Clear("missing")

	expectQuiet(t, fired, 80*time.Millisecond)
}

func TestSchedulePeriodic(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}
	handler, fired := recorder()
	scheduler := New(handler)
	scheduler.Start()
	defer scheduler.Stop()

	if err := scheduler.SchedulePeriodic("badge", "@every 1s"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, ok := scheduler.Pending("badge"); !ok {
		t.Fatal("expected pending periodic alarm")
	}
	expectFired(t, fired, "badge", 3*time.Second)

	scheduler.Clear("badge")
	if _, ok := scheduler.Pending("badge"); ok {
		t.Fatal("cleared periodic alarm still pending")
	}
}

func TestSchedulePeriodicRejectsBadSpec(t *testing.T) {
	handler, _ := recorder()
	scheduler := New(handler)
	defer scheduler.Stop()

	if err := scheduler.SchedulePeriodic("badge", "not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if _, ok := scheduler.Pending("badge"); ok {
		t.Fatal("invalid schedule must not leave a pending alarm")
	}
}

func TestStopIgnoresLaterSchedules(t *testing.T) {
	handler, fired := recorder()
	scheduler := New(handler)
	scheduler.Stop()

	scheduler.ScheduleAt("phase", time.Now())
	expectQuiet(t, fired, 50*time.Millisecond)
}

func TestStopWaitsForRunningHandler(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	scheduler := New(func(string) {
		close(started)
		<-release
	})

	scheduler.ScheduleAt("phase", time.Now())
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}

	stopped := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while the handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the handler finished")
	}
}
