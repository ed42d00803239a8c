// Package config — YAML-конфигурация minions-cam (камера поплавка и компаньон).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shiwa/minions-cam/internal/helper"
	"gopkg.in/yaml.v3"
)

// Config — конфигурация minions-cam
type Config struct {
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Timer      TimerConfig      `yaml:"timer"`
	Reference  ReferenceConfig  `yaml:"reference"`
	Peripheral PeripheralConfig `yaml:"peripheral"`
	EventLog   EventLogConfig   `yaml:"eventlog"`
	Servo      ServoConfig      `yaml:"servo"`
	// Serve — сторона компаньона (minions-cam --serve)
	Serve   ServeConfig    `yaml:"serve"`
	Helpers []HelperConfig `yaml:"helpers"`
}

// ScheduleConfig — периоды планировщика в тиках (эффективных секундах)
type ScheduleConfig struct {
	DriftPeriod   int64  `yaml:"drift_period"`
	SyncPeriod    int64  `yaml:"sync_period"`
	OffsetDivisor int64  `yaml:"offset_divisor"` // таймеры drift/sync смещены на 1/N секунды от триггера
	PollInterval  string `yaml:"poll_interval"`
	// MaxSecondDeviation — допуск эффективной секунды относительно номинала (0.02 = ±2 %)
	MaxSecondDeviation float64 `yaml:"max_second_deviation"`
	// StartGuard — минимальный запас до абсолютного времени взвода
	StartGuard string `yaml:"start_guard"`
}

// TimerConfig — backend таймеров: timerfd (Linux) или runtime
type TimerConfig struct {
	Backend string `yaml:"backend"`
}

// ReferenceConfig — опорные часы компаньона (primary → secondary)
type ReferenceConfig struct {
	Samples     int               `yaml:"samples"`      // обменов на один замер, берётся с минимальной задержкой
	LeadSeconds int64             `yaml:"lead_seconds"` // старт через столько опорных секунд
	Timeout     string            `yaml:"timeout"`      // таймаут одного обмена
	Primary     []ReferenceSource `yaml:"primary"`
	Secondary   []ReferenceSource `yaml:"secondary"`
}

// ReferenceSource — один опорный источник (protocol: link, ntp)
type ReferenceSource struct {
	Protocol string `yaml:"protocol"`
	Disable  bool   `yaml:"disable"`
	// link: transport serial или udp
	Transport string `yaml:"transport"`
	Device    string `yaml:"device"`
	Baud      int    `yaml:"baud"`
	// udp / ntp: host:port
	Address string `yaml:"address"`
}

// PeripheralConfig — линии триггера/строба и датчик давления
type PeripheralConfig struct {
	Driver     string `yaml:"driver"` // board или null
	TriggerPin string `yaml:"trigger_pin"`
	StrobePin  string `yaml:"strobe_pin"`
	I2CBus     string `yaml:"i2c_bus"`
	SensorAddr uint16 `yaml:"sensor_addr"`
	// Диапазон датчика Keller, бар
	PressureMin    float64 `yaml:"pressure_min"`
	PressureMax    float64 `yaml:"pressure_max"`
	SensorInterval string  `yaml:"sensor_interval"`
}

// EventLogConfig — журнал срабатываний
type EventLogConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // csv или cbor
	Buffer int    `yaml:"buffer"`
}

// ServoConfig — оценщик эффективной секунды: first_order или linreg
type ServoConfig struct {
	Algorithm string `yaml:"algorithm"`
}

// ServeConfig — ответчик опорного времени на компаньоне
type ServeConfig struct {
	Transport string `yaml:"transport"` // serial или udp
	Device    string `yaml:"device"`
	Baud      int    `yaml:"baud"`
	Listen    string `yaml:"listen"`
}

// HelperConfig — вспомогательный процесс, запускаемый вместе с daemon
type HelperConfig struct {
	Name string   `yaml:"name"`
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// Default возвращает конфиг по умолчанию
func Default() *Config {
	return &Config{
		Schedule: ScheduleConfig{
			DriftPeriod:        61,
			SyncPeriod:         301,
			OffsetDivisor:      2,
			PollInterval:       "100ms",
			MaxSecondDeviation: 0.02,
			StartGuard:         "1ms",
		},
		Timer: TimerConfig{Backend: ""},
		Reference: ReferenceConfig{
			Samples:     8,
			LeadSeconds: 2,
			Timeout:     "500ms",
		},
		Peripheral: PeripheralConfig{
			Driver:         "null",
			I2CBus:         "",
			SensorAddr:     0x40,
			PressureMin:    0,
			PressureMax:    200,
			SensorInterval: "10s",
		},
		EventLog: EventLogConfig{
			Path:   "minions-cam.csv",
			Format: "csv",
			Buffer: 256,
		},
		Servo: ServoConfig{Algorithm: "first_order"},
		Serve: ServeConfig{
			Transport: "udp",
			Device:    "/dev/ttyS0",
			Baud:      115200,
			Listen:    ":12300",
		},
	}
}

// Load читает конфиг из YAML
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML и подставляет значения по умолчанию
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

// Validate проверяет согласованность периодов и источников
func (c *Config) Validate() error {
	var errs []error
	s := c.Schedule
	if s.DriftPeriod <= 0 {
		errs = append(errs, fmt.Errorf("schedule.drift_period must be > 0, got %d", s.DriftPeriod))
	}
	if s.SyncPeriod <= s.DriftPeriod {
		errs = append(errs, fmt.Errorf("schedule.sync_period (%d) must be > drift_period (%d)", s.SyncPeriod, s.DriftPeriod))
	}
	if s.OffsetDivisor < 2 {
		errs = append(errs, fmt.Errorf("schedule.offset_divisor must be >= 2, got %d", s.OffsetDivisor))
	}
	if d, err := time.ParseDuration(s.PollInterval); err != nil || d <= 0 || d > 500*time.Millisecond {
		errs = append(errs, fmt.Errorf("schedule.poll_interval %q must be in (0, 500ms]", s.PollInterval))
	}
	if s.MaxSecondDeviation <= 0 || s.MaxSecondDeviation >= 1 {
		errs = append(errs, fmt.Errorf("schedule.max_second_deviation must be in (0, 1), got %v", s.MaxSecondDeviation))
	}
	if _, err := time.ParseDuration(s.StartGuard); err != nil {
		errs = append(errs, fmt.Errorf("schedule.start_guard: %w", err))
	}
	switch c.Timer.Backend {
	case "", "timerfd", "runtime":
	default:
		errs = append(errs, fmt.Errorf("timer.backend: unknown %q", c.Timer.Backend))
	}
	if c.Reference.Samples <= 0 {
		errs = append(errs, fmt.Errorf("reference.samples must be > 0"))
	}
	if c.Reference.LeadSeconds <= 0 {
		errs = append(errs, fmt.Errorf("reference.lead_seconds must be > 0"))
	}
	if len(c.Reference.Enabled()) == 0 {
		errs = append(errs, errors.New("reference: no enabled primary or secondary source"))
	}
	for _, r := range c.Reference.Enabled() {
		if err := r.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Peripheral.Driver {
	case "null", "board":
	default:
		errs = append(errs, fmt.Errorf("peripheral.driver: unknown %q", c.Peripheral.Driver))
	}
	switch c.EventLog.Format {
	case "csv", "cbor":
	default:
		errs = append(errs, fmt.Errorf("eventlog.format: unknown %q", c.EventLog.Format))
	}
	switch c.Servo.Algorithm {
	case "first_order", "linreg":
	default:
		errs = append(errs, fmt.Errorf("servo.algorithm: unknown %q", c.Servo.Algorithm))
	}
	return errors.Join(errs...)
}

func (r ReferenceSource) validate() error {
	switch r.Protocol {
	case "link":
		switch r.Transport {
		case "serial":
			if r.Device == "" {
				return errors.New("reference link/serial: device required")
			}
		case "udp":
			if r.Address == "" {
				return errors.New("reference link/udp: address required")
			}
		default:
			return fmt.Errorf("reference link: unknown transport %q", r.Transport)
		}
	case "ntp":
		if r.Address == "" {
			return errors.New("reference ntp: address required")
		}
	default:
		return fmt.Errorf("reference: unknown protocol %q", r.Protocol)
	}
	return nil
}

// Enabled возвращает все включённые источники: сначала primary, затем secondary
func (r ReferenceConfig) Enabled() []ReferenceSource {
	var out []ReferenceSource
	for _, s := range r.Primary {
		if !s.Disable {
			out = append(out, s)
		}
	}
	for _, s := range r.Secondary {
		if !s.Disable {
			out = append(out, s)
		}
	}
	return out
}

// HelperJobs возвращает задания для вспомогательных процессов
func (c *Config) HelperJobs() []helper.Job {
	var jobs []helper.Job
	for _, h := range c.Helpers {
		if h.Path == "" {
			continue
		}
		jobs = append(jobs, helper.Job{Name: h.Name, Path: h.Path, Args: h.Args})
	}
	return jobs
}

// ParseDuration разбирает длительность вида "100ms"; при ошибке или пустой строке — def
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Schedule.DriftPeriod == 0 {
		c.Schedule.DriftPeriod = d.Schedule.DriftPeriod
	}
	if c.Schedule.SyncPeriod == 0 {
		c.Schedule.SyncPeriod = d.Schedule.SyncPeriod
	}
	if c.Schedule.OffsetDivisor == 0 {
		c.Schedule.OffsetDivisor = d.Schedule.OffsetDivisor
	}
	if c.Schedule.PollInterval == "" {
		c.Schedule.PollInterval = d.Schedule.PollInterval
	}
	if c.Schedule.MaxSecondDeviation == 0 {
		c.Schedule.MaxSecondDeviation = d.Schedule.MaxSecondDeviation
	}
	if c.Schedule.StartGuard == "" {
		c.Schedule.StartGuard = d.Schedule.StartGuard
	}
	if c.Reference.Samples == 0 {
		c.Reference.Samples = d.Reference.Samples
	}
	if c.Reference.LeadSeconds == 0 {
		c.Reference.LeadSeconds = d.Reference.LeadSeconds
	}
	if c.Reference.Timeout == "" {
		c.Reference.Timeout = d.Reference.Timeout
	}
	fill := func(list []ReferenceSource) {
		for i := range list {
			s := &list[i]
			if s.Protocol == "link" && s.Transport == "" {
				if s.Device != "" {
					s.Transport = "serial"
				} else {
					s.Transport = "udp"
				}
			}
			if s.Transport == "serial" && s.Baud == 0 {
				s.Baud = d.Serve.Baud
			}
		}
	}
	fill(c.Reference.Primary)
	fill(c.Reference.Secondary)
	if c.Peripheral.Driver == "" {
		c.Peripheral.Driver = d.Peripheral.Driver
	}
	if c.Peripheral.SensorAddr == 0 {
		c.Peripheral.SensorAddr = d.Peripheral.SensorAddr
	}
	if c.Peripheral.PressureMin == 0 && c.Peripheral.PressureMax == 0 {
		c.Peripheral.PressureMin, c.Peripheral.PressureMax = d.Peripheral.PressureMin, d.Peripheral.PressureMax
	}
	if c.Peripheral.SensorInterval == "" {
		c.Peripheral.SensorInterval = d.Peripheral.SensorInterval
	}
	if c.EventLog.Path == "" {
		c.EventLog.Path = d.EventLog.Path
	}
	if c.EventLog.Format == "" {
		c.EventLog.Format = d.EventLog.Format
	}
	if c.EventLog.Buffer == 0 {
		c.EventLog.Buffer = d.EventLog.Buffer
	}
	if c.Servo.Algorithm == "" {
		c.Servo.Algorithm = d.Servo.Algorithm
	}
	if c.Serve.Transport == "" {
		c.Serve.Transport = d.Serve.Transport
	}
	if c.Serve.Device == "" {
		c.Serve.Device = d.Serve.Device
	}
	if c.Serve.Baud == 0 {
		c.Serve.Baud = d.Serve.Baud
	}
	if c.Serve.Listen == "" {
		c.Serve.Listen = d.Serve.Listen
	}
}
