package session

import (
	"testing"
	"time"
)

func TestDebouncer_IgnoresScrollBeforeStartup(t *testing.T) {
	d := newDebouncer(time.Hour, time.Hour)
	d.arm()
	defer d.stop()

	if d.scroll() {
		t.Fatal("scroll before startup fire started a cooldown")
	}
	if d.timerC() == nil {
		t.Fatal("startup timer not armed")
	}
}

func TestDebouncer_CoolingDropsScrolls(t *testing.T) {
	d := newDebouncer(time.Hour, time.Millisecond)
	d.arm()
	<-d.timerC()
	d.fire()

	if d.timerC() != nil {
		t.Fatal("timer still pending after fire")
	}
	if !d.scroll() {
		t.Fatal("scroll while idle did not start a cooldown")
	}
	pending := d.timerC()
	if d.scroll() {
		t.Fatal("scroll while cooling started another cooldown")
	}
	if d.timerC() != pending {
		t.Fatal("scroll while cooling re-armed the timer")
	}
	d.stop()
}

func TestDebouncer_CooldownExpires(t *testing.T) {
	d := newDebouncer(5*time.Millisecond, time.Millisecond)
	d.arm()
	<-d.timerC()
	d.fire()

	d.scroll()
	select {
	case <-d.timerC():
	case <-time.After(time.Second):
		t.Fatal("cooldown never expired")
	}
	d.fire()
	if !d.scroll() {
		t.Fatal("debouncer not idle after cooldown")
	}
	d.stop()
}
