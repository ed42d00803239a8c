package helper

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStart_Empty(t *testing.T) {
	stop := Start(nil, true)
	assert.NotPanics(t, stop)
}

func TestStart_StopsProcesses(t *testing.T) {
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	stop := Start([]Job{
		{Name: "s", Path: path, Args: []string{"30"}},
		{Name: "s", Path: path, Args: []string{"30"}}, // дубликат
		{Name: "missing", Path: "/nonexistent/helper"},
		{Name: "nopath"},
	}, true)
	stop()
	// повторный вызов безопасен
	assert.NotPanics(t, stop)
}
