// Package alarm delivers named wake-ups to a single handler: one-shot alarms
// at an absolute time and periodic alarms on a cron schedule.
package alarm

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Handler receives the name of the alarm that fired.
type Handler func(name string)

type oneShot struct {
	timer *time.Timer
	at    time.Time
}

type Scheduler struct {
	mu       sync.Mutex
	handler  Handler
	oneShots map[string]*oneShot
	cron     *cron.Cron
	periodic map[string]cron.EntryID
	stopped  bool
	firing   sync.WaitGroup
}

func New(handler Handler) *Scheduler {
	return &Scheduler{
		handler:  handler,
		oneShots: make(map[string]*oneShot),
		cron:     cron.New(),
		periodic: make(map[string]cron.EntryID),
	}
}

// Start runs the periodic schedule. One-shot alarms fire regardless.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels every pending alarm and waits for handlers already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, alarm := range s.oneShots {
		alarm.timer.Stop()
		delete(s.oneShots, name)
	}
	for name, id := range s.periodic {
		s.cron.Remove(id)
		delete(s.periodic, name)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.firing.Wait()
}

// ScheduleAt replaces any alarm called name with one firing at at. Times in
// the past fire immediately.
func (s *Scheduler) ScheduleAt(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.clearLocked(name)

	alarm := &oneShot{at: at}
	alarm.timer = time.AfterFunc(time.Until(at), func() {
		s.fire(name, alarm)
	})
	s.oneShots[name] = alarm
}

// SchedulePeriodic replaces any alarm called name with a cron job. schedule
// accepts the standard five fields and descriptors such as "@every 1m".
func (s *Scheduler) SchedulePeriodic(name, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.clearLocked(name)

	id, err := s.cron.AddFunc(schedule, func() { s.handler(name) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.periodic[name] = id
	return nil
}

func (s *Scheduler) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(name)
}

// Pending reports whether an alarm called name is scheduled and, for
// one-shots, when it fires.
func (s *Scheduler) Pending(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alarm, ok := s.oneShots[name]; ok {
		return alarm.at, true
	}
	if id, ok := s.periodic[name]; ok {
		return s.cron.Entry(id).Next, true
	}
	return time.Time{}, false
}

func (s *Scheduler) clearLocked(name string) {
	if alarm, ok := s.oneShots[name]; ok {
		alarm.timer.Stop()
		delete(s.oneShots, name)
	}
	if id, ok := s.periodic[name]; ok {
		s.cron.Remove(id)
		delete(s.periodic, name)
	}
}

func (s *Scheduler) fire(name string, alarm *oneShot) {
	s.mu.Lock()
	current, ok := s.oneShots[name]
	if !ok || current != alarm {
		s.mu.Unlock()
		return
	}
	delete(s.oneShots, name)
	s.firing.Add(1)
	s.mu.Unlock()

	defer s.firing.Done()
	s.handler(name)
}
