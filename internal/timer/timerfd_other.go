//go:build !linux

package timer

import "errors"

const timerfdSupported = false

// newTimerfd — заглушка на не-Linux (timerfd отсутствует).
func newTimerfd(dispatch DispatchFunc) (Facility, error) {
	_ = dispatch
	return nil, errors.New("timerfd is only available on linux")
}
