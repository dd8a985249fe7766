// Package clock exposes the small capability interface spec.md §9 asks
// for — now() / sleep_until(t) — so the scheduler and its tests can be
// driven by either a real or simulated clock without depending on
// common/mclock's full surface directly.
package clock

import (
	"time"

	"github.com/twine-protocol/beacon-in-a-box/common/mclock"
)

// Clock is the capability the scheduler needs: wall-clock time for slot
// identification, and a way to wait until a deadline using monotonic time
// for the actual interval (spec.md §4.1's clock drift policy).
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// SleepUntil returns a channel that is closed once wall-clock time t is
	// reached. It does not block, and the wait cannot be canceled; callers
	// needing cancellation select on this channel alongside their own.
	SleepUntil(t time.Time) <-chan struct{}
}

// System is the production Clock, backed by mclock.System and real
// wall-clock time.
type System struct {
	mc mclock.Clock
}

// NewSystem returns a System clock.
func NewSystem() *System {
	return &System{mc: mclock.System{}}
}

func (s *System) Now() time.Time {
	return time.Now()
}

func (s *System) SleepUntil(t time.Time) <-chan struct{} {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	ch := make(chan struct{})
	abs := s.mc.After(d)
	go func() {
		<-abs
		close(ch)
	}()
	return ch
}

// Simulated is a Clock backed by mclock.Simulated, letting tests drive
// slot sequences deterministically without wall-clock sleeps. Its Now()
// is anchored to an epoch plus the simulated clock's elapsed monotonic
// time, so wall-clock slot identification still works under simulation.
type Simulated struct {
	mc    *mclock.Simulated
	epoch time.Time
}

// NewSimulated returns a Simulated clock whose wall-clock Now() starts at
// epoch.
func NewSimulated(epoch time.Time) *Simulated {
	return &Simulated{mc: new(mclock.Simulated), epoch: epoch}
}

// Run advances the simulated clock by d, firing any due timers.
func (s *Simulated) Run(d time.Duration) {
	s.mc.Run(d)
}

// MC exposes the underlying mclock.Simulated for tests that want to wait
// for timers to register (WaitForTimers) before calling Run.
func (s *Simulated) MC() *mclock.Simulated {
	return s.mc
}

func (s *Simulated) Now() time.Time {
	return s.epoch.Add(time.Duration(s.mc.Now()))
}

func (s *Simulated) SleepUntil(t time.Time) <-chan struct{} {
	d := t.Sub(s.Now())
	if d < 0 {
		d = 0
	}
	ch := make(chan struct{})
	abs := s.mc.After(d)
	go func() {
		<-abs
		close(ch)
	}()
	return ch
}
