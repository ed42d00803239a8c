// Package refsync — синхронизация с опорными часами компаньона: замер смещения (skew)
// четырёхточечным обменом и выбор времени старта на границе опорной секунды.
package refsync

import (
	"context"
	"errors"
	"fmt"
)

// State — опорное состояние планировщика: смещение опорных часов относительно локальных
// и абсолютное локальное время старта (монотонные нс).
type State struct {
	SkewNs  int64
	StartNs int64
}

// Syncer — коллаборатор планировщика.
type Syncer interface {
	// FullResync заново измеряет смещение и выбирает время старта в будущем.
	FullResync(ctx context.Context, st *State) error
	// SampleDrift измеряет текущее смещение у того же источника; State не меняется.
	SampleDrift(ctx context.Context, st State) (int64, error)
}

// Операции для Error.Op
const (
	OpFullResync  = "full resync"
	OpSampleDrift = "drift sample"
)

var (
	// ErrNoSamples — ни один обмен не дал годного замера
	ErrNoSamples = errors.New("no usable samples")
	// ErrNoReference — нет активного опорного источника
	ErrNoReference = errors.New("no active reference")
)

// Error — ошибка синхронизации с опорными часами
type Error struct {
	Op     string
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("refsync %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("refsync %s via %s: %v", e.Op, e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sample — один обмен: Origin (t1) и Destination (t4) по локальным монотонным часам,
// Receive (t2) и Transmit (t3) по опорным.
type Sample struct {
	Origin      int64
	Receive     int64
	Transmit    int64
	Destination int64
}

// Offset — смещение опорных часов относительно локальных: ((t2−t1)+(t3−t4))/2
func (s Sample) Offset() int64 {
	return ((s.Receive - s.Origin) + (s.Transmit - s.Destination)) / 2
}

// Delay — время в пути туда и обратно без обработки на компаньоне: (t4−t1)−(t3−t2)
func (s Sample) Delay() int64 {
	return (s.Destination - s.Origin) - (s.Transmit - s.Receive)
}

// Prober выполняет один обмен с опорными часами
type Prober interface {
	Probe(ctx context.Context) (Sample, error)
	Name() string
	Close() error
}

// Reference — опорный источник для выбора primary → secondary
type Reference interface {
	Syncer
	Name() string
	Close() error
}
