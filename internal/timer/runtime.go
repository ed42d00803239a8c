package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shiwa/minions-cam/internal/clock"
)

// deliveryBuffer — ёмкость очереди срабатываний между таймерами runtime и горутиной доставки
const deliveryBuffer = 64

type runtimeTimer struct {
	t     *time.Timer
	sched Schedule
	next  int64  // следующее срабатывание (абсолютное)
	gen   uint64 // поколение расписания; устаревшие колбэки отбрасываются
	armed bool
}

// Runtime — переносимая реализация Facility на таймерах Go runtime.
// Абсолютное время пересчитывается в задержку от clock.Now; точность хуже timerfd
// (планировщик runtime), но поведение одинаковое.
type Runtime struct {
	mu       sync.Mutex
	timers   [numRoles]runtimeTimer
	now      clock.Func
	dispatch DispatchFunc
	queue    chan Role
	stop     chan struct{}
	wg       sync.WaitGroup
	closed   bool
	dropped  atomic.Uint64
}

// NewRuntime создаёт Facility на таймерах runtime с отдельной горутиной доставки.
func NewRuntime(dispatch DispatchFunc) (Facility, error) {
	return newRuntime(dispatch, clock.Now), nil
}

func newRuntime(dispatch DispatchFunc, now clock.Func) *Runtime {
	r := &Runtime{
		now:      now,
		dispatch: dispatch,
		queue:    make(chan Role, deliveryBuffer),
		stop:     make(chan struct{}),
	}
	r.wg.Add(1)
	go r.deliver()
	return r
}

func (r *Runtime) deliver() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case role := <-r.queue:
			r.dispatch(role)
		}
	}
}

// Arm программирует таймер роли
func (r *Runtime) Arm(role Role, startNs, intervalNs int64) error {
	return r.program(role, "arm", startNs, intervalNs, false)
}

// Rearm заменяет расписание таймера, созданного Arm
func (r *Runtime) Rearm(role Role, startNs, intervalNs int64) error {
	return r.program(role, "rearm", startNs, intervalNs, true)
}

func (r *Runtime) program(role Role, op string, startNs, intervalNs int64, requireArmed bool) error {
	if err := validate(role, op, startNs, intervalNs); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &SetupError{Role: role, Op: op, Err: ErrClosed}
	}
	rt := &r.timers[role]
	if requireArmed && !rt.armed {
		return &SetupError{Role: role, Op: op, Err: ErrNotArmed}
	}
	if rt.t != nil {
		rt.t.Stop()
	}
	rt.gen++
	rt.armed = true
	rt.sched = Schedule{StartNs: startNs, IntervalNs: intervalNs}
	rt.next = startNs
	gen := rt.gen
	rt.t = time.AfterFunc(r.delay(startNs), func() { r.fire(role, gen) })
	return nil
}

func (r *Runtime) delay(at int64) time.Duration {
	d := at - r.now()
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// fire выполняется в горутине таймера runtime: планирует следующее срабатывание
// и передаёт роль в горутину доставки (пропущенные периоды доставляются тоже).
func (r *Runtime) fire(role Role, gen uint64) {
	r.mu.Lock()
	rt := &r.timers[role]
	if r.closed || rt.gen != gen {
		r.mu.Unlock()
		return
	}
	expirations := int64(1)
	if iv := rt.sched.IntervalNs; iv > 0 {
		var missed int64
		rt.next, missed = nextExpiration(rt.next, iv, r.now())
		expirations += missed
		rt.t = time.AfterFunc(r.delay(rt.next), func() { r.fire(role, gen) })
	}
	r.mu.Unlock()
	for i := int64(0); i < expirations; i++ {
		select {
		case r.queue <- role:
		default:
			r.dropped.Add(1)
		}
	}
}

// nextExpiration возвращает следующее срабатывание после fired строго позже now
// и число пропущенных между ними периодов.
func nextExpiration(fired, intervalNs, now int64) (next, missed int64) {
	next = fired + intervalNs
	if next <= now {
		missed = (now-next)/intervalNs + 1
		next += missed * intervalNs
	}
	return next, missed
}

// Schedule возвращает последнее запрограммированное расписание роли
func (r *Runtime) Schedule(role Role) (Schedule, bool) {
	if !role.Valid() {
		return Schedule{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rt := r.timers[role]
	return rt.sched, rt.armed
}

// Dropped — число срабатываний, потерянных из-за переполнения очереди доставки
func (r *Runtime) Dropped() uint64 {
	return r.dropped.Load()
}

// Close останавливает таймеры и горутину доставки. Нельзя вызывать из DispatchFunc.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for i := range r.timers {
		if r.timers[i].t != nil {
			r.timers[i].t.Stop()
		}
	}
	r.mu.Unlock()
	close(r.stop)
	r.wg.Wait()
	return nil
}
