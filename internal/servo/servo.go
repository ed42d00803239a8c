// Package servo — вывод «эффективной секунды» из дрейфа смещения относительно опорных часов.
//
// Если опорные часы за drift_period тиков ушли вперёд на Δskew, то одна их секунда
// длится (Δskew/drift_period + 1e9) нс по локальным часам; эффективная секунда —
// 1e18 / server_period, т.е. триггер подстраивается под темп опорных часов.
package servo

import (
	"errors"
	"fmt"
	"math"
)

// NominalSecondNs — номинальная секунда в наносекундах
const NominalSecondNs int64 = 1_000_000_000

// nominalSquared — NominalSecondNs², помещается в int64 (1e18 < 9.2e18)
const nominalSquared = NominalSecondNs * NominalSecondNs

var (
	// ErrInvalidPeriod — server_period не вычисляется или не положителен
	ErrInvalidPeriod = errors.New("invalid server period")
	// ErrOutOfBounds — эффективная секунда вне допуска относительно номинала
	ErrOutOfBounds = errors.New("effective second out of bounds")
	// ErrNotEnoughSamples — у оценщика меньше двух замеров смещения
	ErrNotEnoughSamples = errors.New("not enough skew samples")
)

// ServerPeriod возвращает длительность одной секунды опорных часов в локальных наносекундах:
// (skewNow − skewPrev) / driftPeriod + NominalSecondNs.
func ServerPeriod(skewPrev, skewNow, driftPeriod int64) (int64, error) {
	if driftPeriod <= 0 {
		return 0, fmt.Errorf("drift period %d: %w", driftPeriod, ErrInvalidPeriod)
	}
	return (skewNow-skewPrev)/driftPeriod + NominalSecondNs, nil
}

// EffectiveSecond возвращает NominalSecondNs² / ServerPeriod. Ошибка, если период ≤ 0
// или результат не положителен.
func EffectiveSecond(skewPrev, skewNow, driftPeriod int64) (int64, error) {
	period, err := ServerPeriod(skewPrev, skewNow, driftPeriod)
	if err != nil {
		return 0, err
	}
	return secondForPeriod(period)
}

func secondForPeriod(period int64) (int64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("server period %d ns: %w", period, ErrInvalidPeriod)
	}
	sec := nominalSquared / period
	if sec <= 0 {
		return 0, fmt.Errorf("server period %d ns gives zero second: %w", period, ErrInvalidPeriod)
	}
	return sec, nil
}

// Bounds — допуск эффективной секунды: |sec − 1e9| / 1e9 ≤ MaxDeviation.
type Bounds struct {
	MaxDeviation float64
}

// DefaultBounds — ±2 % (кварц поплавка уходит на десятки ppm, 2 % — заведомо сбой замера)
var DefaultBounds = Bounds{MaxDeviation: 0.02}

// Check возвращает ErrOutOfBounds для неположительной секунды или секунды вне допуска.
func (b Bounds) Check(sec int64) error {
	if sec <= 0 {
		return fmt.Errorf("%d ns: %w", sec, ErrOutOfBounds)
	}
	dev := math.Abs(float64(sec-NominalSecondNs)) / float64(NominalSecondNs)
	if b.MaxDeviation > 0 && dev > b.MaxDeviation {
		return fmt.Errorf("%d ns deviates %.4f%% from nominal (limit %.4f%%): %w",
			sec, dev*100, b.MaxDeviation*100, ErrOutOfBounds)
	}
	return nil
}

// Sample — замер смещения опорных часов в момент LocalNs (монотонные локальные нс)
type Sample struct {
	LocalNs int64
	SkewNs  int64
}

// Estimator — оценщик эффективной секунды по последовательности замеров смещения
type Estimator interface {
	Observe(s Sample)
	Estimate(driftPeriod int64) (int64, error)
	Reset()
}

// FirstOrder — поправка первого порядка по двум последним замерам (формула планировщика поплавка)
type FirstOrder struct {
	prev, last Sample
	n          int
}

// NewFirstOrder создаёт оценщик первого порядка
func NewFirstOrder() *FirstOrder {
	return &FirstOrder{}
}

// Observe добавляет замер; предыдущий последний становится skew_prev
func (f *FirstOrder) Observe(s Sample) {
	f.prev = f.last
	f.last = s
	if f.n < 2 {
		f.n++
	}
}

// Estimate возвращает EffectiveSecond(prev, last, driftPeriod)
func (f *FirstOrder) Estimate(driftPeriod int64) (int64, error) {
	if f.n < 2 {
		return 0, ErrNotEnoughSamples
	}
	return EffectiveSecond(f.prev.SkewNs, f.last.SkewNs, driftPeriod)
}

// Reset забывает замеры
func (f *FirstOrder) Reset() {
	*f = FirstOrder{}
}

// New возвращает оценщик по имени алгоритма: "first_order" (по умолчанию) или "linreg".
func New(algorithm string) (Estimator, error) {
	switch algorithm {
	case "", "first_order":
		return NewFirstOrder(), nil
	case "linreg":
		return NewLinReg(), nil
	default:
		return nil, fmt.Errorf("unknown servo algorithm: %s", algorithm)
	}
}
