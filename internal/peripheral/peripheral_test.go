package peripheral

import (
	"testing"
	"time"

	"github.com/shiwa/minions-cam/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestNew(t *testing.T) {
	p, err := New(config.PeripheralConfig{Driver: "null"})
	require.NoError(t, err)
	assert.IsType(t, &Null{}, p)

	_, err = New(config.PeripheralConfig{Driver: "spi"})
	assert.Error(t, err)
}

func TestNull(t *testing.T) {
	n := &Null{}
	require.NoError(t, n.TriggerOn())
	assert.True(t, n.High())
	require.NoError(t, n.TriggerOff())
	assert.False(t, n.High())
	assert.Equal(t, uint64(1), n.Pulses())

	_, err := n.Pressure()
	assert.ErrorIs(t, err, ErrNoSensor)
	_, err = n.Temperature()
	assert.ErrorIs(t, err, ErrNoSensor)
}

func TestDecodeKeller(t *testing.T) {
	// 16384 → Pmin; 16384+32768 → Pmax; raw T 24<<4 → −50 °C
	p, temp, err := decodeKeller([]byte{0x40, 0x40, 0x00, 0x01, 0x80}, 0, 200)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, p, 1e-9)
	assert.InDelta(t, -50.0, temp, 1e-9)

	p, temp, err = decodeKeller([]byte{0x40, 0xC0, 0x00, 0x4B, 0x00}, 0, 200)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, p, 1e-9)
	// 0x4B00>>4 = 1200 → (1200−24)·0.05 − 50 = 8.8
	assert.InDelta(t, 8.8, temp, 1e-9)

	_, _, err = decodeKeller([]byte{0x60, 0, 0, 0, 0}, 0, 200)
	assert.Error(t, err, "busy")
	_, _, err = decodeKeller([]byte{0x40}, 0, 200)
	assert.Error(t, err)
}

func TestBoard(t *testing.T) {
	trig := &gpiotest.Pin{N: "GPIO17"}
	strobe := &gpiotest.Pin{N: "GPIO27"}
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x40, W: []byte{kellerRequest}},
		{Addr: 0x40, R: []byte{0x40, 0x80, 0x00, 0x4B, 0x00}},
	}}
	b := newBoard(trig, strobe, &i2c.Dev{Addr: 0x40, Bus: bus}, 0, 200)
	var slept time.Duration
	b.sleep = func(d time.Duration) { slept += d }

	require.NoError(t, b.TriggerOn())
	assert.Equal(t, gpio.High, trig.L)
	assert.Equal(t, gpio.High, strobe.L)
	require.NoError(t, b.TriggerOff())
	assert.Equal(t, gpio.Low, trig.L)
	assert.Equal(t, gpio.Low, strobe.L)

	p, err := b.Pressure()
	require.NoError(t, err)
	assert.InDelta(t, 100.0, p, 1e-9)
	assert.Equal(t, kellerConversion, slept)

	// температура берётся из того же измерения, шина больше не трогается
	temp, err := b.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 8.8, temp, 1e-9)
	assert.NoError(t, bus.Close())
}

func TestBoard_NoSensor(t *testing.T) {
	b := newBoard(&gpiotest.Pin{N: "GPIO17"}, nil, nil, 0, 200)
	_, err := b.Pressure()
	assert.ErrorIs(t, err, ErrNoSensor)
	assert.NoError(t, b.Close())
}
