// Package mclock is a wrapper for a monotonic clock source.
package mclock

import (
	"time"
)

// startTime anchors AbsTime(0) so that durations computed via time.Since
// stay monotonic even though AbsTime is reported as nanoseconds since an
// arbitrary, process-local epoch rather than the wall clock.
var startTime = time.Now()

// AbsTime represents absolute monotonic time.
type AbsTime int64

// Now returns the current absolute monotonic time.
func Now() AbsTime {
	return AbsTime(time.Since(startTime))
}

// Add returns t + d.
func (t AbsTime) Add(d time.Duration) AbsTime {
	return t + AbsTime(d)
}

// Sub returns t - t2 as a duration.
func (t AbsTime) Sub(t2 AbsTime) time.Duration {
	return time.Duration(t - t2)
}

// A Clock interface makes it possible to replace the monotonic system clock with
// a simulated clock. Use Clock in place of time in production code.
type Clock interface {
	Now() AbsTime
	Sleep(time.Duration)
	NewTimer(time.Duration) ChanTimer
	After(time.Duration) <-chan AbsTime
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a cancellable event returned by AfterFunc.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer has already
	// expired or been stopped.
	Stop() bool
}

// ChanTimer is a cancellable event created by NewTimer.
type ChanTimer interface {
	Timer

	// C returns the timer's selectable channel.
	C() <-chan AbsTime

	// Reset reschedules the timer to a new deadline relative to Clock.Now().
	// It must be called only on stopped or expired timers with drained channels.
	Reset(time.Duration)
}

// System implements Clock using the system clock.
type System struct{}

// Now returns the current monotonic time.
func (System) Now() AbsTime {
	return Now()
}

// Sleep blocks for the given duration.
func (System) Sleep(d time.Duration) {
	time.Sleep(d)
}

// After returns a channel which receives the current time after d has elapsed.
func (System) After(d time.Duration) <-chan AbsTime {
	ch := make(chan AbsTime, 1)
	time.AfterFunc(d, func() { ch <- Now() })
	return ch
}

// AfterFunc runs f after d has elapsed, returning a Timer to cancel it.
func (System) AfterFunc(d time.Duration, f func()) Timer {
	return (*systemTimer)(time.AfterFunc(d, f))
}

// NewTimer creates a timer which can be rescheduled.
func (System) NewTimer(d time.Duration) ChanTimer {
	ch := make(chan AbsTime, 1)
	t := time.AfterFunc(d, func() {
		// This send is non-blocking because the channel is buffered.
		// Imitates the behavior of time.Timer in the std library.
		select {
		case ch <- Now():
		default:
		}
	})
	return &systemChanTimer{t, ch}
}

type systemTimer time.Timer

func (st *systemTimer) Stop() bool {
	return (*time.Timer)(st).Stop()
}

type systemChanTimer struct {
	*time.Timer
	ch <-chan AbsTime
}

func (st *systemChanTimer) C() <-chan AbsTime {
	return st.ch
}

func (st *systemChanTimer) Reset(d time.Duration) {
	st.Timer.Reset(d)
}
