// Package logger — единый вывод логов minions-cam с префиксом и учётом quiet/verbose.
package logger

import (
	"log"
	"sync/atomic"
)

const prefix = "minions-cam: "

var (
	quiet   atomic.Bool
	verbose atomic.Bool
)

// SetQuiet при true отключает информационные сообщения (Info, Debug); Warn и Error выводятся всегда.
func SetQuiet(q bool) { quiet.Store(q) }

// SetVerbose включает отладочные сообщения (Debug).
func SetVerbose(v bool) { verbose.Store(v) }

// Debug выводит отладочное сообщение, только если включён verbose и не включён quiet.
func Debug(format string, args ...interface{}) {
	if quiet.Load() || !verbose.Load() {
		return
	}
	log.Printf(prefix+"debug: "+format, args...)
}

// Info выводит сообщение с префиксом "minions-cam: ", если не включён quiet.
func Info(format string, args ...interface{}) {
	if quiet.Load() {
		return
	}
	log.Printf(prefix+format, args...)
}

// Warn выводит предупреждение всегда.
func Warn(format string, args ...interface{}) {
	log.Printf(prefix+"warning: "+format, args...)
}

// Error выводит сообщение об ошибке всегда.
func Error(format string, args ...interface{}) {
	log.Printf(prefix+"error: "+format, args...)
}
