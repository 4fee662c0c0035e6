package session

import "time"

// debouncer rate-limits capture passes. It has two states: idle and
// cooling. A scroll while idle starts a cooldown; scrolls while cooling are
// dropped. When the cooldown expires the loop captures whatever is visible
// at that moment, so intervening scrolls fold into one pass.
//
// Before the first pass a one-shot startup delay runs and scrolls are
// ignored. The debouncer is owned by the session loop and not locked.
type debouncer struct {
	cooldown time.Duration
	startup  time.Duration

	started bool // startup delay has fired
	cooling bool
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newDebouncer(cooldown, startup time.Duration) *debouncer {
	return &debouncer{cooldown: cooldown, startup: startup}
}

// arm schedules the startup pass.
func (d *debouncer) arm() {
	d.reset(d.startup)
}

// scroll reports a scroll event. It returns true if a cooldown was started.
func (d *debouncer) scroll() bool {
	if !d.started || d.cooling {
		return false
	}
	d.cooling = true
	d.reset(d.cooldown)
	return true
}

// fire is called when timerC delivers; the debouncer returns to idle.
func (d *debouncer) fire() {
	d.started = true
	d.cooling = false
	d.timer = nil
	d.timerCh = nil
}

// timerC returns the channel that fires when the pending delay expires, or
// nil when nothing is pending.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}

func (d *debouncer) reset(after time.Duration) {
	d.stop()
	d.timer = time.NewTimer(after)
	d.timerCh = d.timer.C
}
