// Package camsync предоставляет запуск камеры поплавка (RunDaemon) и ответчика опорного
// времени компаньона (Serve) для встраивания в другие программы.
package camsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shiwa/minions-cam/internal/capture"
	"github.com/shiwa/minions-cam/internal/clock"
	"github.com/shiwa/minions-cam/internal/config"
	"github.com/shiwa/minions-cam/internal/eventlog"
	"github.com/shiwa/minions-cam/internal/helper"
	"github.com/shiwa/minions-cam/internal/link"
	"github.com/shiwa/minions-cam/internal/logger"
	"github.com/shiwa/minions-cam/internal/peripheral"
	"github.com/shiwa/minions-cam/internal/refsync"
	"github.com/shiwa/minions-cam/internal/scheduler"
	"github.com/shiwa/minions-cam/internal/servo"
	"github.com/shiwa/minions-cam/internal/timer"
	"golang.org/x/sync/errgroup"
)

// StatusInterval — период строки состояния в логе
const StatusInterval = time.Minute

// RunDaemon запускает планировщик камеры до отмены ctx или фатальной ошибки.
// Фатальная ошибка (опорные часы, таймеры) возвращается как есть; перезапуск — дело супервизора.
func RunDaemon(ctx context.Context, cfg *config.Config, quiet bool) error {
	if cfg == nil {
		return errors.New("camsync: nil config")
	}
	logger.SetQuiet(quiet)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	stopHelpers := helper.Start(cfg.HelperJobs(), quiet)
	defer stopHelpers()

	logger.Info("monotonic clock resolution %d ns", clock.Resolution())

	election, errs := refsync.NewElectionFromConfig(cfg.Reference, clock.Now)
	for _, err := range errs {
		logger.Warn("reference: %v", err)
	}
	defer func() {
		if err := election.Close(); err != nil {
			logger.Warn("reference close: %v", err)
		}
	}()

	periph, err := peripheral.New(cfg.Peripheral)
	if err != nil {
		return err
	}
	defer periph.Close()

	elog, err := eventlog.Open(cfg.EventLog.Path, cfg.EventLog.Format, cfg.EventLog.Buffer)
	if err != nil {
		return err
	}
	defer func() {
		if err := elog.Close(); err != nil {
			logger.Warn("eventlog: %v", err)
		}
	}()
	logger.Info("eventlog %s (%s), run %s", cfg.EventLog.Path, cfg.EventLog.Format, elog.RunID())

	est, err := servo.New(cfg.Servo.Algorithm)
	if err != nil {
		return err
	}
	factory, err := timer.NewFactory(timer.Backend(cfg.Timer.Backend))
	if err != nil {
		return err
	}
	action := capture.New(periph, elog, clock.Now)
	sched, err := scheduler.New(scheduler.FromConfig(cfg), scheduler.Deps{
		NewTimers: factory,
		Syncer:    election,
		Action:    action,
		Estimator: est,
		Sensor:    periph,
		Now:       clock.Now,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return report(gctx, sched, action, elog)
	})
	return g.Wait()
}

// report периодически пишет строку состояния и предупреждает о потерях
func report(ctx context.Context, sched *scheduler.Scheduler, action *capture.Action, elog *eventlog.Logger) error {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()
	var lastErrors, lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		logger.Info("status: state=%s sec=%d ticks=%d fired=%d anomalies=%d",
			sched.State(), sched.EffectiveSecond(), sched.Count(), action.Fired(), sched.Anomalies())
		if n := action.Errors(); n != lastErrors {
			logger.Warn("trigger line errors: %d", n)
			lastErrors = n
		}
		if n := elog.Dropped(); n != lastDropped {
			logger.Warn("eventlog dropped %d records", n)
			lastDropped = n
		}
	}
}

// Serve запускает ответчик опорного времени на компаньоне: serial, udp или both.
func Serve(ctx context.Context, cfg *config.Config, quiet bool) error {
	if cfg == nil {
		return errors.New("camsync: nil config")
	}
	logger.SetQuiet(quiet)
	stopHelpers := helper.Start(cfg.HelperJobs(), quiet)
	defer stopHelpers()

	sc := cfg.Serve
	resp := refsync.NewResponder(clock.Now)
	g, gctx := errgroup.WithContext(ctx)
	serial := sc.Transport == "serial" || sc.Transport == "both"
	udp := sc.Transport == "udp" || sc.Transport == "both"
	if !serial && !udp {
		return fmt.Errorf("serve: unknown transport %q", sc.Transport)
	}
	if serial {
		port, err := link.OpenSerial(sc.Device, sc.Baud, link.DefaultSerialReadTimeout)
		if err != nil {
			return err
		}
		defer port.Close()
		logger.Info("serving reference time on %s", port.Name())
		g.Go(func() error {
			return resp.ServeStream(gctx, port)
		})
	}
	if udp {
		conn, err := net.ListenPacket("udp", sc.Listen)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		defer conn.Close()
		logger.Info("serving reference time on udp:%s", conn.LocalAddr())
		g.Go(func() error {
			return resp.ServePacket(gctx, conn)
		})
	}
	err := g.Wait()
	logger.Info("served %d requests (%d ignored)", resp.Served(), resp.Ignored())
	return err
}
