package scheduler

import (
	"sync"
	"time"
)

// Scheduler runs a callback once after a delay. The engine keeps at most
// one live handle per lifecycle transition and cancel-and-replaces it on
// reschedule, so Handle.Cancel must be safe to call at any point.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Handle
}

// Handle is a cancellable scheduled callback. Cancel reports whether the
// callback was stopped before running.
type Handle interface {
	Cancel() bool
}

type timerScheduler struct{}

// New returns a Scheduler backed by time.AfterFunc.
func New() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) Schedule(delay time.Duration, fn func()) Handle {
	return timerHandle{t: time.AfterFunc(delay, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() bool {
	return h.t.Stop()
}

// Manual is a Scheduler for tests: callbacks never run on their own,
// the test fires them explicitly. Fire order is scheduling order.
type Manual struct {
	mu      sync.Mutex
	pending []*manualHandle
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Schedule(delay time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := &manualHandle{owner: m, fn: fn, delay: delay}
	m.pending = append(m.pending, h)
	return h
}

// Pending returns the number of callbacks not yet fired or cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// FireNext runs the oldest pending callback. Returns false when nothing
// is pending.
func (m *Manual) FireNext() bool {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	h := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()

	h.fn()
	return true
}

// FireAll drains the pending queue, including callbacks scheduled by the
// callbacks themselves, up to a sanity bound.
func (m *Manual) FireAll() int {
	fired := 0
	for fired < 1000 && m.FireNext() {
		fired++
	}
	return fired
}

type manualHandle struct {
	owner *Manual
	fn    func()
	delay time.Duration
}

func (h *manualHandle) Cancel() bool {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()

	for i, p := range h.owner.pending {
		if p == h {
			h.owner.pending = append(h.owner.pending[:i], h.owner.pending[i+1:]...)
			return true
		}
	}
	return false
}
