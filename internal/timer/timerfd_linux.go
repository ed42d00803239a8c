//go:build linux

package timer

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/shiwa/minions-cam/internal/clock"
	"github.com/shiwa/minions-cam/internal/logger"
)

const timerfdSupported = true

// timerfdFacility — три timerfd(CLOCK_MONOTONIC) в одном epoll; доставка из одной горутины.
// eventfd в том же epoll будит горутину при Close.
type timerfdFacility struct {
	mu       sync.Mutex
	epfd     int
	wakefd   int
	fds      [numRoles]atomic.Int32 // -1 — таймер ещё не создан
	sched    [numRoles]Schedule
	dispatch DispatchFunc
	closed   bool
	done     chan struct{}
}

func newTimerfd(dispatch DispatchFunc) (Facility, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl eventfd: %w", err)
	}
	f := &timerfdFacility{
		epfd:     epfd,
		wakefd:   wakefd,
		dispatch: dispatch,
		done:     make(chan struct{}),
	}
	for i := range f.fds {
		f.fds[i].Store(-1)
	}
	go f.deliver()
	return f, nil
}

// Arm программирует таймер роли; при первом вызове создаёт timerfd и регистрирует его в epoll
func (f *timerfdFacility) Arm(role Role, startNs, intervalNs int64) error {
	return f.program(role, "arm", startNs, intervalNs, false)
}

// Rearm заменяет расписание существующего timerfd; timerfd_settime сбрасывает
// непрочитанные срабатывания, поэтому двойного срабатывания нет.
func (f *timerfdFacility) Rearm(role Role, startNs, intervalNs int64) error {
	return f.program(role, "rearm", startNs, intervalNs, true)
}

func (f *timerfdFacility) program(role Role, op string, startNs, intervalNs int64, requireArmed bool) error {
	if err := validate(role, op, startNs, intervalNs); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &SetupError{Role: role, Op: op, Err: ErrClosed}
	}
	fd := int(f.fds[role].Load())
	if fd < 0 {
		if requireArmed {
			return &SetupError{Role: role, Op: op, Err: ErrNotArmed}
		}
		nfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
		if err != nil {
			return &SetupError{Role: role, Op: "timerfd_create", Err: err}
		}
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(nfd)}
		if err := unix.EpollCtl(f.epfd, unix.EPOLL_CTL_ADD, nfd, &ev); err != nil {
			unix.Close(nfd)
			return &SetupError{Role: role, Op: "epoll_ctl", Err: err}
		}
		f.fds[role].Store(int32(nfd))
		fd = nfd
	}
	spec := unix.ItimerSpec{
		Value:    clock.FromNanos(startNs).Unix(),
		Interval: clock.FromNanos(intervalNs).Unix(),
	}
	if err := unix.TimerfdSettime(fd, unix.TFD_TIMER_ABSTIME, &spec, nil); err != nil {
		return &SetupError{Role: role, Op: "timerfd_settime", Err: err}
	}
	f.sched[role] = Schedule{StartNs: startNs, IntervalNs: intervalNs}
	return nil
}

func (f *timerfdFacility) roleOf(fd int32) (Role, bool) {
	for i := range f.fds {
		if f.fds[i].Load() == fd {
			return Role(i), true
		}
	}
	return 0, false
}

// deliver — путь доставки: ждёт epoll, читает счётчик срабатываний timerfd
// и вызывает dispatch по разу на каждое срабатывание.
func (f *timerfdFacility) deliver() {
	defer close(f.done)
	events := make([]unix.EpollEvent, numRoles+1)
	var buf [8]byte
	for {
		n, err := unix.EpollWait(f.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.Error("timer: epoll_wait: %v", err)
			return
		}
		for i := 0; i < n; i++ {
			fd := events[i].Fd
			if int(fd) == f.wakefd {
				return
			}
			role, ok := f.roleOf(fd)
			if !ok {
				continue
			}
			// EAGAIN: таймер перевзведён между epoll_wait и read
			if _, err := unix.Read(int(fd), buf[:]); err != nil {
				continue
			}
			expirations := binary.NativeEndian.Uint64(buf[:])
			for j := uint64(0); j < expirations; j++ {
				f.dispatch(role)
			}
		}
	}
}

// Schedule возвращает последнее запрограммированное расписание роли
func (f *timerfdFacility) Schedule(role Role) (Schedule, bool) {
	if !role.Valid() {
		return Schedule{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sched[role], f.fds[role].Load() >= 0
}

// Close будит горутину доставки через eventfd, дожидается её и закрывает дескрипторы.
// Нельзя вызывать из DispatchFunc.
func (f *timerfdFacility) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(f.wakefd, one[:]); err != nil {
		return fmt.Errorf("eventfd write: %w", err)
	}
	<-f.done
	for i := range f.fds {
		if fd := f.fds[i].Load(); fd >= 0 {
			unix.Close(int(fd))
			f.fds[i].Store(-1)
		}
	}
	unix.Close(f.wakefd)
	return unix.Close(f.epfd)
}
