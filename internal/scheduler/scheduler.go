// Package scheduler — планировщик камеры с компенсацией дрейфа.
//
// Три таймера на монотонных часах: Trigger (кадр каждую эффективную секунду),
// DriftSample (замер смещения через drift_period тиков) и Resync (полная
// ресинхронизация через sync_period тиков). Срабатывания DriftSample/Resync только
// выставляют флаги; вся работа с опорными часами и перевзвод таймеров идут в
// цикле опроса (Poll), который однопоточен сам по отношению к себе.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shiwa/minions-cam/internal/clock"
	"github.com/shiwa/minions-cam/internal/config"
	"github.com/shiwa/minions-cam/internal/logger"
	"github.com/shiwa/minions-cam/internal/refsync"
	"github.com/shiwa/minions-cam/internal/servo"
	"github.com/shiwa/minions-cam/internal/timer"
)

// State — состояние планировщика
type State int

const (
	Idle State = iota
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrFailed — планировщик остановлен фатальной ошибкой
var ErrFailed = errors.New("scheduler failed")

// ErrNotStarted — Poll до Start
var ErrNotStarted = errors.New("scheduler not started")

// Action — действие по тику триггера (capture.Action). Fire выполняется в контексте доставки.
type Action interface {
	Fire()
	SetReference(skewNs int64)
	SetEnvironment(pressure, temperature float64)
}

// Sensor — датчик давления/температуры; опрашивается только из цикла опроса
type Sensor interface {
	Pressure() (float64, error)
	Temperature() (float64, error)
}

// Config — параметры расписания
type Config struct {
	DriftPeriod   int64
	SyncPeriod    int64
	OffsetDivisor int64
	PollInterval  time.Duration
	Bounds        servo.Bounds
	// StartGuard — запас до абсолютного времени взвода, нс
	StartGuard     int64
	SensorInterval time.Duration
}

// DefaultConfig — 61/301 тик, смещение на полсекунды, опрос 100 мс
func DefaultConfig() Config {
	return Config{
		DriftPeriod:    61,
		SyncPeriod:     301,
		OffsetDivisor:  2,
		PollInterval:   100 * time.Millisecond,
		Bounds:         servo.DefaultBounds,
		StartGuard:     int64(time.Millisecond),
		SensorInterval: 10 * time.Second,
	}
}

// FromConfig переводит YAML-конфиг в параметры планировщика
func FromConfig(c *config.Config) Config {
	d := DefaultConfig()
	s := c.Schedule
	return Config{
		DriftPeriod:    s.DriftPeriod,
		SyncPeriod:     s.SyncPeriod,
		OffsetDivisor:  s.OffsetDivisor,
		PollInterval:   config.ParseDuration(s.PollInterval, d.PollInterval),
		Bounds:         servo.Bounds{MaxDeviation: s.MaxSecondDeviation},
		StartGuard:     int64(config.ParseDuration(s.StartGuard, time.Duration(d.StartGuard))),
		SensorInterval: config.ParseDuration(c.Peripheral.SensorInterval, d.SensorInterval),
	}
}

func (c Config) validate() error {
	if c.DriftPeriod <= 0 {
		return fmt.Errorf("drift period %d must be > 0", c.DriftPeriod)
	}
	if c.SyncPeriod <= c.DriftPeriod {
		return fmt.Errorf("sync period %d must be > drift period %d", c.SyncPeriod, c.DriftPeriod)
	}
	if c.OffsetDivisor < 2 {
		return fmt.Errorf("offset divisor %d must be >= 2", c.OffsetDivisor)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval %v must be > 0", c.PollInterval)
	}
	if c.StartGuard < 0 {
		return fmt.Errorf("start guard %d must be >= 0", c.StartGuard)
	}
	return nil
}

// Deps — коллабораторы планировщика
type Deps struct {
	NewTimers timer.Factory
	Syncer    refsync.Syncer
	Action    Action
	Estimator servo.Estimator // nil — первый порядок
	Sensor    Sensor          // nil — без датчика
	Now       clock.Func      // nil — clock.Now
}

// Scheduler — планировщик. Поля под mu меняет только цикл опроса;
// доставка работает только с атомиками.
type Scheduler struct {
	cfg       Config
	timers    timer.Facility
	newTimers timer.Factory
	syncer    refsync.Syncer
	action    Action
	estimator servo.Estimator
	sensor    Sensor
	now       clock.Func

	// путь доставки
	syncDue  atomic.Bool
	driftDue atomic.Bool
	count    atomic.Int64
	wake     chan struct{}

	mu            sync.RWMutex
	state         State
	ref           refsync.State
	sec           int64
	lastGood      int64
	triggerAnchor int64
	syncAnchor    int64
	targets       [3]int64
	anomalies     uint64
	err           error

	lastSensor int64
	closeOnce  sync.Once
}

// New создаёт планировщик в состоянии Idle
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if deps.NewTimers == nil || deps.Syncer == nil || deps.Action == nil {
		return nil, errors.New("scheduler: timers, syncer and action are required")
	}
	if deps.Estimator == nil {
		deps.Estimator = servo.NewFirstOrder()
	}
	if deps.Now == nil {
		deps.Now = clock.Now
	}
	return &Scheduler{
		cfg:       cfg,
		newTimers: deps.NewTimers,
		syncer:    deps.Syncer,
		action:    deps.Action,
		estimator: deps.Estimator,
		sensor:    deps.Sensor,
		now:       deps.Now,
		wake:      make(chan struct{}, 1),
		state:     Idle,
		sec:       servo.NominalSecondNs,
		lastGood:  servo.NominalSecondNs,
	}, nil
}

// Dispatch — путь доставки срабатываний: никаких блокировок и вызовов опорных часов.
func (s *Scheduler) Dispatch(role timer.Role) {
	switch role {
	case timer.Trigger:
		s.action.Fire()
		s.count.Add(1)
	case timer.DriftSample:
		s.driftDue.Store(true)
		s.signal()
	case timer.Resync:
		s.syncDue.Store(true)
		s.signal()
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start — полная ресинхронизация и первичный взвод трёх таймеров
func (s *Scheduler) Start(ctx context.Context) error {
	if st := s.State(); st != Idle {
		return fmt.Errorf("scheduler: start in state %s", st)
	}
	timers, err := s.newTimers(s.Dispatch)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.timers = timers
	s.mu.Unlock()

	var ref refsync.State
	if err := s.syncer.FullResync(context.WithoutCancel(ctx), &ref); err != nil {
		return s.fail(err)
	}
	s.estimator.Observe(servo.Sample{LocalNs: s.now(), SkewNs: ref.SkewNs})
	s.action.SetReference(ref.SkewNs)

	sec := s.sec
	trig := s.periodicStart(ref.StartNs, sec)
	if err := s.timers.Arm(timer.Trigger, trig, sec); err != nil {
		return s.fail(err)
	}
	driftAt, resyncAt := s.maintenanceTargets(ref.StartNs, sec)
	if err := s.timers.Arm(timer.DriftSample, driftAt, 0); err != nil {
		return s.fail(err)
	}
	if err := s.timers.Arm(timer.Resync, resyncAt, 0); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.ref = ref
	s.triggerAnchor = trig
	s.syncAnchor = ref.StartNs
	s.targets = [3]int64{trig, driftAt, resyncAt}
	s.state = Running
	s.mu.Unlock()
	logger.Info("scheduler running: start=%d skew=%d sec=%d drift@%d resync@%d",
		ref.StartNs, ref.SkewNs, sec, driftAt, resyncAt)
	return nil
}

// Run — Start и цикл опроса до отмены ctx или фатальной ошибки
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.Close()
	if err := s.Start(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}
		if err := s.Poll(ctx); err != nil {
			return err
		}
	}
}

// Poll — одна итерация цикла опроса: сначала SyncDue, затем DriftDue.
// Начатый переход не прерывается отменой ctx.
func (s *Scheduler) Poll(ctx context.Context) error {
	switch st := s.State(); st {
	case Failed:
		return s.Err()
	case Idle:
		return ErrNotStarted
	}
	ctx = context.WithoutCancel(ctx)
	if s.syncDue.Load() {
		if err := s.resync(ctx); err != nil {
			return err
		}
	}
	if s.driftDue.Load() {
		if err := s.driftCycle(ctx); err != nil {
			return err
		}
	}
	s.sampleSensor()
	return nil
}

// resync — переход SyncDue
func (s *Scheduler) resync(ctx context.Context) error {
	ref := s.ref
	if err := s.syncer.FullResync(ctx, &ref); err != nil {
		return s.fail(err)
	}
	// темп триггера сохраняется, меняется только фаза
	sec := s.sec
	trig := s.periodicStart(ref.StartNs, sec)
	if err := s.timers.Rearm(timer.Trigger, trig, sec); err != nil {
		return s.fail(err)
	}
	ticks := s.count.Swap(0)
	driftAt, resyncAt := s.maintenanceTargets(ref.StartNs, sec)
	if err := s.timers.Rearm(timer.DriftSample, driftAt, 0); err != nil {
		return s.fail(err)
	}
	if err := s.timers.Rearm(timer.Resync, resyncAt, 0); err != nil {
		return s.fail(err)
	}
	s.estimator.Observe(servo.Sample{LocalNs: s.now(), SkewNs: ref.SkewNs})
	s.action.SetReference(ref.SkewNs)

	s.mu.Lock()
	s.ref = ref
	s.triggerAnchor = trig
	s.syncAnchor = ref.StartNs
	s.targets = [3]int64{trig, driftAt, resyncAt}
	s.mu.Unlock()
	s.syncDue.Store(false)
	logger.Info("resync: start=%d skew=%d sec=%d ticks=%d", ref.StartNs, ref.SkewNs, sec, ticks)
	return nil
}

// driftCycle — переход DriftDue
func (s *Scheduler) driftCycle(ctx context.Context) error {
	skew, err := s.syncer.SampleDrift(ctx, s.ref)
	if err != nil {
		return s.fail(err)
	}
	s.estimator.Observe(servo.Sample{LocalNs: s.now(), SkewNs: skew})

	anomalies := s.anomalies
	sec, err := s.estimator.Estimate(s.cfg.DriftPeriod)
	if err == nil {
		err = s.cfg.Bounds.Check(sec)
	}
	if err != nil {
		anomalies++
		logger.Warn("effective second rejected (%v), keeping %d ns", err, s.lastGood)
		sec = s.lastGood
	}

	anchor := s.periodicStart(s.triggerAnchor+(s.cfg.DriftPeriod+1)*sec, sec)
	if err := s.timers.Rearm(timer.Trigger, anchor, sec); err != nil {
		return s.fail(err)
	}
	resyncAt := s.oneShotStart(s.syncAnchor + s.cfg.SyncPeriod*sec + sec/s.cfg.OffsetDivisor)
	if err := s.timers.Rearm(timer.Resync, resyncAt, 0); err != nil {
		return s.fail(err)
	}
	ticks := s.count.Swap(0)
	s.action.SetReference(skew)

	s.mu.Lock()
	s.ref.SkewNs = skew
	s.sec = sec
	s.lastGood = sec
	s.triggerAnchor = anchor
	s.targets[timer.Trigger] = anchor
	s.targets[timer.Resync] = resyncAt
	s.anomalies = anomalies
	s.mu.Unlock()
	s.driftDue.Store(false)
	logger.Info("drift: skew=%d sec=%d anchor=%d resync@%d ticks=%d", skew, sec, anchor, resyncAt, ticks)
	return nil
}

// maintenanceTargets — однократные цели DriftSample и Resync от старта
func (s *Scheduler) maintenanceTargets(start, sec int64) (driftAt, resyncAt int64) {
	offset := sec / s.cfg.OffsetDivisor
	driftAt = s.oneShotStart(start + s.cfg.DriftPeriod*sec + offset)
	resyncAt = s.oneShotStart(start + s.cfg.SyncPeriod*sec + offset)
	return driftAt, resyncAt
}

// periodicStart сдвигает якорь в будущее на целое число периодов (фаза сохраняется)
func (s *Scheduler) periodicStart(anchor, interval int64) int64 {
	limit := s.now() + s.cfg.StartGuard
	if anchor > limit {
		return anchor
	}
	if interval < 1 {
		interval = 1
	}
	return anchor + ((limit-anchor)/interval+1)*interval
}

// oneShotStart переносит прошедшую цель на now + StartGuard
func (s *Scheduler) oneShotStart(target int64) int64 {
	if limit := s.now() + s.cfg.StartGuard; target < limit {
		return limit
	}
	return target
}

func (s *Scheduler) sampleSensor() {
	if s.sensor == nil || s.cfg.SensorInterval <= 0 {
		return
	}
	now := s.now()
	if s.lastSensor != 0 && now-s.lastSensor < int64(s.cfg.SensorInterval) {
		return
	}
	s.lastSensor = now
	p, err := s.sensor.Pressure()
	if err != nil {
		logger.Debug("pressure: %v", err)
		return
	}
	t, err := s.sensor.Temperature()
	if err != nil {
		logger.Debug("temperature: %v", err)
		return
	}
	s.action.SetEnvironment(p, t)
}

// fail переводит планировщик в Failed и снимает таймеры; больше ничего не взводится
func (s *Scheduler) fail(err error) error {
	wrapped := fmt.Errorf("%w: %w", ErrFailed, err)
	s.mu.Lock()
	s.state = Failed
	s.err = wrapped
	s.mu.Unlock()
	logger.Error("%v", err)
	s.Close()
	return wrapped
}

// Close снимает таймеры. Нельзя вызывать из контекста доставки.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		if s.timers != nil {
			if err := s.timers.Close(); err != nil {
				logger.Warn("timers close: %v", err)
			}
		}
	})
}

// State — текущее состояние
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err — фатальная ошибка (в состоянии Failed)
func (s *Scheduler) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Reference — опорное состояние после последнего перехода
func (s *Scheduler) Reference() refsync.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ref
}

// EffectiveSecond — текущая эффективная секунда, нс
func (s *Scheduler) EffectiveSecond() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sec
}

// Target — последнее запрограммированное абсолютное время роли (0 — не взводился)
func (s *Scheduler) Target(role timer.Role) int64 {
	if !role.Valid() {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targets[role]
}

// Schedule — расписание роли, прочитанное из таймеров
func (s *Scheduler) Schedule(role timer.Role) (timer.Schedule, bool) {
	s.mu.RLock()
	timers := s.timers
	s.mu.RUnlock()
	if timers == nil {
		return timer.Schedule{}, false
	}
	return timers.Schedule(role)
}

// Count — число тиков триггера с последнего перехода
func (s *Scheduler) Count() int64 {
	return s.count.Load()
}

// Anomalies — число отвергнутых значений эффективной секунды
func (s *Scheduler) Anomalies() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anomalies
}
