package refsync

import (
	"context"
	"errors"

	"github.com/shiwa/minions-cam/internal/logger"
)

// Election — выбор опорного источника: полная ресинхронизация пробует primary, затем
// secondary; замеры дрейфа идут только к источнику последней ресинхронизации
// (смещения разных источников несравнимы).
type Election struct {
	primary   []Reference
	secondary []Reference
	active    Reference
}

// NewElection создаёт выборщик из списков primary и secondary
func NewElection(primary, secondary []Reference) *Election {
	return &Election{
		primary:   primary,
		secondary: secondary,
	}
}

// Active возвращает источник последней успешной ресинхронизации (nil — ещё не было)
func (e *Election) Active() Reference {
	return e.active
}

// FullResync выполняет ресинхронизацию по первому ответившему источнику.
// st меняется только при успехе.
func (e *Election) FullResync(ctx context.Context, st *State) error {
	var errs []error
	for _, list := range [][]Reference{e.primary, e.secondary} {
		for _, r := range list {
			if err := ctx.Err(); err != nil {
				return &Error{Op: OpFullResync, Err: err}
			}
			next := *st
			err := r.FullResync(ctx, &next)
			if err == nil {
				if e.active != r {
					logger.Info("reference selected: %s", r.Name())
				}
				e.active = r
				*st = next
				return nil
			}
			logger.Warn("reference %s: %v", r.Name(), err)
			errs = append(errs, err)
		}
	}
	e.active = nil
	if len(errs) == 0 {
		return &Error{Op: OpFullResync, Err: ErrNoReference}
	}
	return &Error{Op: OpFullResync, Err: errors.Join(errs...)}
}

// SampleDrift измеряет смещение у активного источника
func (e *Election) SampleDrift(ctx context.Context, st State) (int64, error) {
	if e.active == nil {
		return 0, &Error{Op: OpSampleDrift, Err: ErrNoReference}
	}
	return e.active.SampleDrift(ctx, st)
}

// Close закрывает все источники
func (e *Election) Close() error {
	var errs []error
	for _, list := range [][]Reference{e.primary, e.secondary} {
		for _, r := range list {
			if err := r.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
