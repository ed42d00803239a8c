// minions-cam — планировщик стереокамеры океанографического поплавка.
//
// Триггер камеры и строб с эффективной секундой, подстроенной под опорные часы
// компаньона; периодическая полная ресинхронизация и замер дрейфа.
//
// Использование:
//
//	minions-cam --run --config minions-cam.yml    — камера (по умолчанию)
//	minions-cam --serve --config minions-cam.yml  — ответчик опорного времени на компаньоне
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shiwa/minions-cam/internal/config"
	"github.com/shiwa/minions-cam/internal/logger"
	"github.com/shiwa/minions-cam/pkg/camsync"
	flag "github.com/spf13/pflag"
)

func main() {
	run := flag.Bool("run", false, "запуск камеры: ресинхронизация, дрейф, триггер")
	serve := flag.Bool("serve", false, "ответчик опорного времени (сторона компаньона)")
	configPath := flag.StringP("config", "c", "", "путь к YAML конфигу (по умолчанию minions-cam.yml)")
	port := flag.String("port", "", "последовательный порт первичной опоры или ответчика (переопределяет config)")
	backend := flag.String("timer-backend", "", "таймеры: timerfd или runtime (переопределяет config)")
	eventlogPath := flag.String("eventlog", "", "файл журнала срабатываний (переопределяет config)")
	quiet := flag.BoolP("quiet", "q", false, "меньше вывода")
	verbose := flag.BoolP("verbose", "v", false, "отладочный вывод")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if *port != "" {
		if *serve {
			cfg.Serve.Device = *port
		} else if len(cfg.Reference.Primary) > 0 {
			cfg.Reference.Primary[0].Device = *port
			cfg.Reference.Primary[0].Transport = "serial"
		}
	}
	if *backend != "" {
		cfg.Timer.Backend = *backend
	}
	if *eventlogPath != "" {
		cfg.EventLog.Path = *eventlogPath
	}
	logger.SetQuiet(*quiet)
	logger.SetVerbose(*verbose)

	if *run && *serve {
		log.Fatal("--run и --serve взаимоисключающие")
	}
	os.Exit(runWithShutdown(cfg, *serve, *quiet))
}

func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		path = "minions-cam.yml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, nil
	}
	return config.Load(path)
}

// runWithShutdown запускает камеру или ответчик с контекстом; по SIGINT/SIGTERM контекст
// отменяется. Код выхода 1 — фатальная ошибка (супервизор перезапустит процесс).
func runWithShutdown(cfg *config.Config, serve, quiet bool) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("получен сигнал %v, завершение...", sig)
		cancel()
	}()

	var err error
	if serve {
		err = camsync.Serve(ctx, cfg, quiet)
	} else {
		err = camsync.RunDaemon(ctx, cfg, quiet)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("%v", err)
		return 1
	}
	return 0
}
