// Package peripheral — оборудование камеры: линии триггера и строба, датчик давления/температуры.
package peripheral

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shiwa/minions-cam/internal/config"
)

// ErrNoSensor — датчик давления не подключён
var ErrNoSensor = errors.New("no pressure sensor")

// Peripheral — коллаборатор действия триггера.
// TriggerOn/TriggerOff вызываются из контекста доставки таймера и не должны блокироваться надолго.
type Peripheral interface {
	TriggerOn() error
	TriggerOff() error
	// Pressure — давление, бар
	Pressure() (float64, error)
	// Temperature — температура, °C
	Temperature() (float64, error)
	Close() error
}

// New создаёт периферию по конфигу: "board" — GPIO + I2C через periph.io, "null" — без оборудования.
func New(cfg config.PeripheralConfig) (Peripheral, error) {
	switch cfg.Driver {
	case "", "null":
		return &Null{}, nil
	case "board":
		return OpenBoard(BoardConfig{
			TriggerPin:  cfg.TriggerPin,
			StrobePin:   cfg.StrobePin,
			I2CBus:      cfg.I2CBus,
			SensorAddr:  cfg.SensorAddr,
			PressureMin: cfg.PressureMin,
			PressureMax: cfg.PressureMax,
		})
	default:
		return nil, fmt.Errorf("unknown peripheral driver: %s", cfg.Driver)
	}
}

// Null — периферия без оборудования (стенд, тесты): считает импульсы.
type Null struct {
	pulses atomic.Uint64
	high   atomic.Bool
}

func (n *Null) TriggerOn() error {
	n.high.Store(true)
	n.pulses.Add(1)
	return nil
}

func (n *Null) TriggerOff() error {
	n.high.Store(false)
	return nil
}

func (n *Null) Pressure() (float64, error)    { return 0, ErrNoSensor }
func (n *Null) Temperature() (float64, error) { return 0, ErrNoSensor }
func (n *Null) Close() error                  { return nil }

// Pulses — число импульсов триггера
func (n *Null) Pulses() uint64 {
	return n.pulses.Load()
}

// High — текущее состояние линии триггера
func (n *Null) High() bool {
	return n.high.Load()
}
