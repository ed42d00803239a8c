// Package capture — действие по тику триггера: импульс камере и строб, метка времени, запись в журнал.
package capture

import (
	"math"
	"strconv"
	"sync/atomic"

	"github.com/shiwa/minions-cam/internal/clock"
	"github.com/shiwa/minions-cam/internal/peripheral"
)

// Sink — журнал срабатываний. Log не должен блокироваться.
type Sink interface {
	Log(monotonicNs int64, reference string, pressure, temperature float64)
}

// Action выполняется из контекста доставки таймера: только атомарные операции,
// ошибки считаются, а не логируются.
type Action struct {
	periph peripheral.Peripheral
	sink   Sink
	now    clock.Func

	skew        atomic.Int64
	pressure    atomic.Uint64 // math.Float64bits
	temperature atomic.Uint64

	fired  atomic.Uint64
	errors atomic.Uint64
}

// New создаёт действие; sink может быть nil
func New(p peripheral.Peripheral, sink Sink, now clock.Func) *Action {
	if now == nil {
		now = clock.Now
	}
	return &Action{periph: p, sink: sink, now: now}
}

// Fire — один тик: TriggerOn, метка, запись, TriggerOff
func (a *Action) Fire() {
	if err := a.periph.TriggerOn(); err != nil {
		a.errors.Add(1)
	}
	ts := a.now()
	if a.sink != nil {
		a.sink.Log(ts, Label(ts, a.skew.Load()),
			math.Float64frombits(a.pressure.Load()),
			math.Float64frombits(a.temperature.Load()))
	}
	if err := a.periph.TriggerOff(); err != nil {
		a.errors.Add(1)
	}
	a.fired.Add(1)
}

// Label — опорная метка кадра: локальное монотонное время плюс смещение, десятичные нс
func Label(monotonicNs, skewNs int64) string {
	return strconv.FormatInt(monotonicNs+skewNs, 10)
}

// SetReference публикует смещение после ресинхронизации
func (a *Action) SetReference(skewNs int64) {
	a.skew.Store(skewNs)
}

// Reference возвращает опубликованное смещение
func (a *Action) Reference() int64 {
	return a.skew.Load()
}

// SetEnvironment публикует последние давление и температуру
func (a *Action) SetEnvironment(pressure, temperature float64) {
	a.pressure.Store(math.Float64bits(pressure))
	a.temperature.Store(math.Float64bits(temperature))
}

// Fired — число выполненных тиков
func (a *Action) Fired() uint64 {
	return a.fired.Load()
}

// Errors — число ошибок периферии
func (a *Action) Errors() uint64 {
	return a.errors.Load()
}
