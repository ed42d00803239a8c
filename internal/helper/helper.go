// Package helper запускает вспомогательные процессы (поднятие канала с компаньоном:
// stty, ip link, socat и т.п.) как дочерние и останавливает их при выходе.
package helper

import (
	"log"
	"os/exec"
	"sync"

	"github.com/shiwa/minions-cam/internal/logger"
)

// Job — один вспомогательный процесс.
type Job struct {
	Name string   // имя для логов и отбрасывания дубликатов
	Path string   // путь к исполняемому файлу
	Args []string // аргументы
}

// Start запускает процесс для каждого job. Одно имя — один процесс (дубликаты отбрасываются).
// Возвращает функцию stop(), которую нужно вызвать при выходе (останавливает все процессы).
func Start(jobs []Job, quiet bool) (stop func()) {
	if len(jobs) == 0 {
		return func() {}
	}
	seen := make(map[string]bool)
	var cmds []*exec.Cmd
	for _, j := range jobs {
		name := j.Name
		if name == "" {
			name = j.Path
		}
		if j.Path == "" || seen[name] {
			continue
		}
		seen[name] = true
		cmd := exec.Command(j.Path, j.Args...)
		if !quiet {
			cmd.Stdout = log.Writer()
			cmd.Stderr = log.Writer()
		}
		if err := cmd.Start(); err != nil {
			logger.Warn("helper %s start: %v", name, err)
			continue
		}
		cmds = append(cmds, cmd)
		logger.Info("helper started: %s (pid %d)", name, cmd.Process.Pid)
	}
	var once sync.Once
	stop = func() {
		once.Do(func() {
			for _, cmd := range cmds {
				if cmd.Process == nil {
					continue
				}
				_ = cmd.Process.Kill()
				// забираем статус, чтобы не оставлять зомби
				_ = cmd.Wait()
			}
		})
	}
	return stop
}
