package peripheral

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Keller LD (серия 4LD..9LD): запрос измерения, ожидание преобразования, 5 байт ответа.
const (
	kellerRequest    = 0xAC
	kellerConversion = 8 * time.Millisecond
	kellerReplySize  = 5
	kellerBusy       = 0x20 // бит status: преобразование не закончено
	// температура из последнего измерения давления считается свежей столько
	sensorFresh = time.Second
)

// BoardConfig — параметры платы камеры
type BoardConfig struct {
	TriggerPin  string // имя GPIO, например "GPIO17"
	StrobePin   string // пусто — без строба
	I2CBus      string // пусто — первая шина; "-" — без датчика
	SensorAddr  uint16
	PressureMin float64
	PressureMax float64
}

// Board — линии триггера/строба через GPIO и датчик Keller по I2C
type Board struct {
	trigger gpio.PinOut
	strobe  gpio.PinOut
	sensor  *i2c.Dev
	bus     io.Closer
	pmin    float64
	pmax    float64
	sleep   func(time.Duration)

	mu       sync.Mutex
	lastT    float64
	lastTAt  time.Time
	haveLast bool
}

// OpenBoard инициализирует драйверы periph.io и открывает линии и шину
func OpenBoard(cfg BoardConfig) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	if cfg.TriggerPin == "" {
		return nil, errors.New("board: trigger pin required")
	}
	trigger := gpioreg.ByName(cfg.TriggerPin)
	if trigger == nil {
		return nil, fmt.Errorf("board: gpio %s not found", cfg.TriggerPin)
	}
	var strobe gpio.PinOut
	if cfg.StrobePin != "" {
		p := gpioreg.ByName(cfg.StrobePin)
		if p == nil {
			return nil, fmt.Errorf("board: gpio %s not found", cfg.StrobePin)
		}
		strobe = p
	}
	var (
		sensor *i2c.Dev
		bus    i2c.BusCloser
	)
	if cfg.I2CBus != "-" {
		var err error
		bus, err = i2creg.Open(cfg.I2CBus)
		if err != nil {
			return nil, fmt.Errorf("i2creg.Open %q: %w", cfg.I2CBus, err)
		}
		sensor = &i2c.Dev{Addr: cfg.SensorAddr, Bus: bus}
	}
	b := newBoard(trigger, strobe, sensor, cfg.PressureMin, cfg.PressureMax)
	if bus != nil {
		b.bus = bus
	}
	if err := b.TriggerOff(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func newBoard(trigger, strobe gpio.PinOut, sensor *i2c.Dev, pmin, pmax float64) *Board {
	return &Board{
		trigger: trigger,
		strobe:  strobe,
		sensor:  sensor,
		pmin:    pmin,
		pmax:    pmax,
		sleep:   time.Sleep,
	}
}

// TriggerOn поднимает строб и триггер
func (b *Board) TriggerOn() error {
	if b.strobe != nil {
		if err := b.strobe.Out(gpio.High); err != nil {
			return fmt.Errorf("strobe: %w", err)
		}
	}
	return b.trigger.Out(gpio.High)
}

// TriggerOff опускает триггер и строб
func (b *Board) TriggerOff() error {
	err := b.trigger.Out(gpio.Low)
	if b.strobe != nil {
		if serr := b.strobe.Out(gpio.Low); serr != nil && err == nil {
			err = fmt.Errorf("strobe: %w", serr)
		}
	}
	return err
}

// Pressure выполняет измерение; температура из того же измерения кэшируется
func (b *Board) Pressure() (float64, error) {
	p, t, err := b.measure()
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.lastT, b.lastTAt, b.haveLast = t, time.Now(), true
	b.mu.Unlock()
	return p, nil
}

// Temperature возвращает температуру последнего измерения, если она свежая, иначе измеряет
func (b *Board) Temperature() (float64, error) {
	b.mu.Lock()
	if b.haveLast && time.Since(b.lastTAt) < sensorFresh {
		t := b.lastT
		b.mu.Unlock()
		return t, nil
	}
	b.mu.Unlock()
	_, t, err := b.measure()
	return t, err
}

func (b *Board) measure() (pressure, temperature float64, err error) {
	if b.sensor == nil {
		return 0, 0, ErrNoSensor
	}
	if err := b.sensor.Tx([]byte{kellerRequest}, nil); err != nil {
		return 0, 0, fmt.Errorf("keller request: %w", err)
	}
	b.sleep(kellerConversion)
	reply := make([]byte, kellerReplySize)
	if err := b.sensor.Tx(nil, reply); err != nil {
		return 0, 0, fmt.Errorf("keller read: %w", err)
	}
	return decodeKeller(reply, b.pmin, b.pmax)
}

// decodeKeller разбирает ответ: status, P (16 бит), T (16 бит).
// P = (raw − 16384)·(Pmax − Pmin)/32768 + Pmin; T = ((raw >> 4) − 24)·0.05 − 50.
func decodeKeller(reply []byte, pmin, pmax float64) (pressure, temperature float64, err error) {
	if len(reply) < kellerReplySize {
		return 0, 0, fmt.Errorf("keller reply %d bytes", len(reply))
	}
	if reply[0]&kellerBusy != 0 {
		return 0, 0, errors.New("keller busy")
	}
	rawP := int(reply[1])<<8 | int(reply[2])
	rawT := int(reply[3])<<8 | int(reply[4])
	pressure = float64(rawP-16384)*(pmax-pmin)/32768 + pmin
	temperature = float64((rawT>>4)-24)*0.05 - 50
	return pressure, temperature, nil
}

// Close опускает линии и закрывает шину
func (b *Board) Close() error {
	err := b.TriggerOff()
	if b.bus != nil {
		if cerr := b.bus.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
