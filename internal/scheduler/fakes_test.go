package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shiwa/minions-cam/internal/refsync"
	"github.com/shiwa/minions-cam/internal/timer"
)

type timerCall struct {
	op       string
	role     timer.Role
	start    int64
	interval int64
}

// fakeTimers записывает вызовы и хранит расписание; failOn — "op:role" для ошибки
type fakeTimers struct {
	mu     sync.Mutex
	calls  []timerCall
	sched  map[timer.Role]timer.Schedule
	failOn string
	closed bool
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{sched: make(map[timer.Role]timer.Schedule)}
}

func (f *fakeTimers) factory() timer.Factory {
	return func(timer.DispatchFunc) (timer.Facility, error) { return f, nil }
}

func (f *fakeTimers) program(op string, role timer.Role, start, interval int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &timer.SetupError{Role: role, Op: op, Err: timer.ErrClosed}
	}
	if f.failOn == fmt.Sprintf("%s:%s", op, role) {
		return &timer.SetupError{Role: role, Op: op, Err: errors.New("EINVAL")}
	}
	f.calls = append(f.calls, timerCall{op, role, start, interval})
	f.sched[role] = timer.Schedule{StartNs: start, IntervalNs: interval}
	return nil
}

func (f *fakeTimers) Arm(role timer.Role, start, interval int64) error {
	return f.program("arm", role, start, interval)
}

func (f *fakeTimers) Rearm(role timer.Role, start, interval int64) error {
	return f.program("rearm", role, start, interval)
}

func (f *fakeTimers) Schedule(role timer.Role) (timer.Schedule, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sched[role]
	return s, ok
}

func (f *fakeTimers) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTimers) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTimers) last(role timer.Role) timerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].role == role {
			return f.calls[i]
		}
	}
	return timerCall{}
}

// fakeSyncer выдаёт состояния ресинхронизации и смещения по очереди (последнее повторяется)
type fakeSyncer struct {
	mu        sync.Mutex
	resyncs   []refsync.State
	drifts    []int64
	resyncErr error
	driftErr  error
	events    []string
	nResync   int
	nDrift    int
}

func (f *fakeSyncer) FullResync(ctx context.Context, st *refsync.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "resync")
	if f.resyncErr != nil {
		return &refsync.Error{Op: refsync.OpFullResync, Source: "fake", Err: f.resyncErr}
	}
	i := f.nResync
	if i >= len(f.resyncs) {
		i = len(f.resyncs) - 1
	}
	f.nResync++
	*st = f.resyncs[i]
	return nil
}

func (f *fakeSyncer) SampleDrift(ctx context.Context, st refsync.State) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("drift(prev=%d)", st.SkewNs))
	if f.driftErr != nil {
		return 0, &refsync.Error{Op: refsync.OpSampleDrift, Source: "fake", Err: f.driftErr}
	}
	i := f.nDrift
	if i >= len(f.drifts) {
		i = len(f.drifts) - 1
	}
	f.nDrift++
	return f.drifts[i], nil
}

type fakeAction struct {
	fired       atomic.Int64
	skew        atomic.Int64
	mu          sync.Mutex
	pressure    float64
	temperature float64
}

func (a *fakeAction) Fire()                   { a.fired.Add(1) }
func (a *fakeAction) SetReference(skew int64) { a.skew.Store(skew) }
func (a *fakeAction) SetEnvironment(p, t float64) {
	a.mu.Lock()
	a.pressure, a.temperature = p, t
	a.mu.Unlock()
}

type fakeSensor struct {
	reads atomic.Int64
	err   error
}

func (s *fakeSensor) Pressure() (float64, error) {
	s.reads.Add(1)
	return 12.5, s.err
}

func (s *fakeSensor) Temperature() (float64, error) { return 4.25, s.err }

// fakeClock — управляемые монотонные часы
type fakeClock struct{ ns atomic.Int64 }

func (c *fakeClock) now() int64   { return c.ns.Load() }
func (c *fakeClock) set(ns int64) { c.ns.Store(ns) }
func (c *fakeClock) add(ns int64) { c.ns.Add(ns) }
