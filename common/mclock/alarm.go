package mclock

// Alarm sends timed notifications on a channel. It waits for a deadline
// without busy polling and works with either the System or a Simulated
// clock.
type Alarm struct {
	clock    Clock
	timer    Timer
	ch       chan struct{}
	deadline AbsTime // only meaningful when set is true
	set      bool
}

// NewAlarm creates a new Alarm backed by the given clock.
func NewAlarm(clock Clock) *Alarm {
	if clock == nil {
		panic("nil clock given to mclock.NewAlarm")
	}
	return &Alarm{
		clock: clock,
		ch:    make(chan struct{}, 1),
	}
}

// C returns the channel on which notifications are delivered.
func (e *Alarm) C() <-chan struct{} {
	return e.ch
}

// Schedule arranges for a notification to be sent on e.C() at or after time t.
// Any previously scheduled alarm is rescheduled; only the earliest deadline
// ultimately fires.
func (e *Alarm) Schedule(t AbsTime) {
	now := e.clock.Now()
	d := t.Sub(now)
	if e.timer == nil {
		e.timer = e.clock.AfterFunc(d, e.fire)
		e.deadline, e.set = t, true
		return
	}
	if !e.set || e.deadline <= now || t < e.deadline {
		e.timer.Stop()
		e.timer = e.clock.AfterFunc(d, e.fire)
		e.deadline, e.set = t, true
	}
}

func (e *Alarm) fire() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Stop cancels the alarm. It is safe to call Schedule again afterwards.
func (e *Alarm) Stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.set = false
}
