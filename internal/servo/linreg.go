package servo

import "math"

// LinRegWindow — размер окна линейной регрессии
const LinRegWindow = 64

// LinRegJumpNs — скачок смещения относительно прогноза, после которого окно сбрасывается
// (смена опорного источника, перезагрузка компаньона)
const LinRegJumpNs = 10_000_000

// LinReg — оценщик по регрессии смещения от локального времени в окне замеров.
// x = секунды от первого замера окна, y = skew − skew первого замера (нс);
// наклон ns/s → server_period = 1e9 + slope. В отличие от FirstOrder использует фактически
// прошедшее локальное время, а не число тиков.
type LinReg struct {
	xs     [LinRegWindow]float64
	ys     [LinRegWindow]float64
	n      int
	idx    int
	base   Sample // начало отсчёта окна
	jumpNs float64
}

// NewLinReg создаёт LinReg оценщик
func NewLinReg() *LinReg {
	return &LinReg{jumpNs: LinRegJumpNs}
}

// Observe добавляет замер в окно; при скачке относительно прогноза окно начинается заново
func (l *LinReg) Observe(s Sample) {
	if l.n >= 2 {
		if slope, intercept, ok := l.fit(); ok {
			x := float64(s.LocalNs-l.base.LocalNs) / 1e9
			y := float64(s.SkewNs - l.base.SkewNs)
			if math.Abs(y-(intercept+slope*x)) > l.jumpNs {
				l.Reset()
			}
		}
	}
	if l.n == 0 {
		l.base = s
	}
	l.xs[l.idx] = float64(s.LocalNs-l.base.LocalNs) / 1e9
	l.ys[l.idx] = float64(s.SkewNs - l.base.SkewNs)
	l.idx = (l.idx + 1) % LinRegWindow
	if l.n < LinRegWindow {
		l.n++
	}
}

// fit — МНК по окну: y = intercept + slope·x
func (l *LinReg) fit() (slope, intercept float64, ok bool) {
	n := float64(l.n)
	var sumX, sumY, sumXY, sumX2 float64
	for i := 0; i < l.n; i++ {
		sumX += l.xs[i]
		sumY += l.ys[i]
		sumXY += l.xs[i] * l.ys[i]
		sumX2 += l.xs[i] * l.xs[i]
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, true
}

// Estimate возвращает 1e18 / (1e9 + slope); driftPeriod только проверяется
func (l *LinReg) Estimate(driftPeriod int64) (int64, error) {
	if driftPeriod <= 0 {
		_, err := ServerPeriod(0, 0, driftPeriod)
		return 0, err
	}
	if l.n < 2 {
		return 0, ErrNotEnoughSamples
	}
	slope, _, ok := l.fit()
	if !ok {
		return 0, ErrNotEnoughSamples
	}
	period := float64(NominalSecondNs) + slope
	if period <= 0 || math.IsNaN(period) || math.IsInf(period, 0) {
		return secondForPeriod(0)
	}
	return secondForPeriod(int64(math.Round(period)))
}

// Reset сбрасывает окно
func (l *LinReg) Reset() {
	jump := l.jumpNs
	*l = LinReg{jumpNs: jump}
}
