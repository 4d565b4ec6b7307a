package room

import (
	"time"

	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

// manualTimers hands callbacks to the test instead of a clock so fire order is
// fully controlled.
type manualTimers struct {
	scheduled []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Chan() <-chan time.Time { return nil }

func (t *manualTimer) Reset(d time.Duration) bool {
	active := !t.stopped
	t.d = d
	t.stopped = false
	return active
}

func (t *manualTimer) Stop() bool {
	active := !t.stopped
	t.stopped = true
	return active
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	t := &manualTimer{d: d, f: f}
	m.scheduled = append(m.scheduled, t)
	return t
}

func (m *manualTimers) last() *manualTimer {
	if len(m.scheduled) == 0 {
		return nil
	}
	return m.scheduled[len(m.scheduled)-1]
}

type recorded struct {
	to    []string
	event Event
}

type recorder struct {
	events []recorded
}

func (r *recorder) Broadcast(to []string, event Event) {
	r.events = append(r.events, recorded{to: to, event: event})
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, e := range r.events {
		if e.event.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last() recorded {
	return r.events[len(r.events)-1]
}

func (r *recorder) lastOf(t EventType) (recorded, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event.Type == t {
			return r.events[i], true
		}
	}
	return recorded{}, false
}

type fixture struct {
	clock  *clockwork.FakeClock
	timers *manualTimers
	rec    *recorder
	opts   Options
}

func newFixture() *fixture {
	f := &fixture{
		clock:  clockwork.NewFakeClockAt(epoch),
		timers: &manualTimers{},
		rec:    &recorder{},
	}
	f.opts = Options{
		Clock:       f.clock,
		Timers:      f.timers,
		Broadcaster: f.rec,
	}
	return f
}

func (f *fixture) session(id string, members ...string) *Session {
	s := NewSession(id, f.opts)
	for _, m := range members {
		if err := s.Join(m, "user-"+m); err != nil {
			panic(err)
		}
	}
	return s
}
