// Package timer — абсолютные периодические/однократные таймеры на монотонных часах
// с доставкой срабатываний по роли.
//
// Доставка идёт из одной горутины фасилити (аналог обработчика сигнала): DispatchFunc
// должна быть неблокирующей и не вызывать ничего, что может ждать сеть или порт.
package timer

import (
	"errors"
	"fmt"
)

// Schedule — последнее запрограммированное расписание таймера
type Schedule struct {
	StartNs    int64 // первое срабатывание, абсолютное монотонное время
	IntervalNs int64 // период; 0 — однократный
}

// DispatchFunc вызывается ровно один раз на каждое срабатывание
type DispatchFunc func(Role)

// Facility — набор из трёх таймеров с общим путём доставки
type Facility interface {
	// Arm программирует таймер роли (создаёт при первом вызове)
	Arm(role Role, startNs, intervalNs int64) error
	// Rearm атомарно заменяет расписание уже созданного таймера
	Rearm(role Role, startNs, intervalNs int64) error
	// Schedule возвращает последнее запрограммированное расписание
	Schedule(role Role) (Schedule, bool)
	// Close снимает таймеры и останавливает доставку
	Close() error
}

// Factory создаёт Facility с заданной функцией доставки
type Factory func(dispatch DispatchFunc) (Facility, error)

// Backend — реализация таймеров
type Backend string

const (
	BackendTimerfd Backend = "timerfd" // Linux: timerfd + epoll
	BackendRuntime Backend = "runtime" // таймеры Go runtime, переносимо
)

// ErrClosed — фасилити уже закрыта
var ErrClosed = errors.New("timer facility closed")

// ErrNotArmed — Rearm для таймера, который ещё не создан через Arm
var ErrNotArmed = errors.New("timer not armed")

// SetupError — ошибка установки таймера (TimerSetupError): система отвергла время,
// таймер не создан или путь доставки недоступен. Для планировщика всегда фатальна.
type SetupError struct {
	Role Role
	Op   string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("timer %s: %s: %v", e.Role, e.Op, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// NewFactory возвращает Factory для backend; пустая строка — timerfd на Linux, иначе runtime.
func NewFactory(backend Backend) (Factory, error) {
	switch backend {
	case "":
		if timerfdSupported {
			return newTimerfd, nil
		}
		return NewRuntime, nil
	case BackendTimerfd:
		if !timerfdSupported {
			return nil, fmt.Errorf("timer backend %q not supported on this platform", backend)
		}
		return newTimerfd, nil
	case BackendRuntime:
		return NewRuntime, nil
	default:
		return nil, fmt.Errorf("unknown timer backend: %s", backend)
	}
}

// validate проверяет аргументы Arm/Rearm
func validate(role Role, op string, startNs, intervalNs int64) error {
	if !role.Valid() {
		return &SetupError{Role: role, Op: op, Err: fmt.Errorf("invalid role %d", int(role))}
	}
	if startNs <= 0 {
		return &SetupError{Role: role, Op: op, Err: fmt.Errorf("start %d ns is not a positive absolute time", startNs)}
	}
	if intervalNs < 0 {
		return &SetupError{Role: role, Op: op, Err: fmt.Errorf("negative interval %d ns", intervalNs)}
	}
	return nil
}
