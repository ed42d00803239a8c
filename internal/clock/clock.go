// Package clock — монотонное время поплавка и преобразование timestamp ↔ наносекунды.
//
// Все абсолютные времена в планировщике — наносекунды CLOCK_MONOTONIC (не realtime),
// поэтому ручная установка системных часов оператором на расписание не влияет.
package clock

// NanosPerSecond — число наносекунд в номинальной секунде
const NanosPerSecond = 1_000_000_000

// Timestamp — абсолютная метка монотонных часов (аналог struct timespec).
// Nsec всегда нормализован в [0, NanosPerSecond).
type Timestamp struct {
	Sec  int64
	Nsec int64
}

// ToNanos переводит Timestamp в наносекунды. Точное преобразование без округлений
// (int64 покрывает ~292 года).
func ToNanos(ts Timestamp) int64 {
	return ts.Sec*NanosPerSecond + ts.Nsec
}

// FromNanos переводит наносекунды в Timestamp; для отрицательных значений
// секунды округляются вниз, чтобы Nsec оставался неотрицательным.
func FromNanos(ns int64) Timestamp {
	sec := ns / NanosPerSecond
	nsec := ns % NanosPerSecond
	if nsec < 0 {
		sec--
		nsec += NanosPerSecond
	}
	return Timestamp{Sec: sec, Nsec: nsec}
}

// Func — источник текущего монотонного времени в наносекундах (подменяется в тестах)
type Func func() int64

// Resolution измеряет гранулярность монотонных часов: минимальный ненулевой
// интервал между соседними чтениями Now, 0 если измерить не удалось.
func Resolution() int64 {
	const rounds = 20
	var minDt int64 = NanosPerSecond
	for i := 0; i < rounds; i++ {
		t1 := Now()
		t2 := Now()
		if dt := t2 - t1; dt > 0 && dt < minDt {
			minDt = dt
		}
	}
	if minDt == NanosPerSecond {
		return 0
	}
	return minDt
}
