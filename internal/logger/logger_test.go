package logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	out, flags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(out)
		log.SetFlags(flags)
		SetQuiet(false)
		SetVerbose(false)
	})
	return &buf
}

func TestLevels(t *testing.T) {
	buf := capture(t)

	Info("resync %d", 1)
	Debug("hidden")
	assert.Equal(t, "minions-cam: resync 1\n", buf.String())

	buf.Reset()
	SetVerbose(true)
	Debug("drift %s", "ok")
	assert.Equal(t, "minions-cam: debug: drift ok\n", buf.String())

	buf.Reset()
	SetQuiet(true)
	Info("hidden")
	Debug("hidden")
	Warn("clamped")
	Error("failed")
	assert.Equal(t, "minions-cam: warning: clamped\nminions-cam: error: failed\n", buf.String())
}
