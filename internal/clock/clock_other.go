//go:build !linux

package clock

import "time"

// base — точка отсчёта; time.Since использует монотонные показания runtime.
var base = time.Now()

// Now — монотонное время процесса в наносекундах (на не-Linux нет общего CLOCK_MONOTONIC).
// Отсчёт смещён на одну секунду, чтобы абсолютные времена были строго положительными.
func Now() int64 {
	return int64(time.Since(base)) + NanosPerSecond
}
