package refsync

import (
	"context"
	"fmt"

	"github.com/shiwa/minions-cam/internal/clock"
	"github.com/shiwa/minions-cam/internal/logger"
)

// Client — Syncer поверх одного Prober.
// Из нескольких обменов берётся замер с минимальной задержкой: у него меньше всего
// асимметрии канала.
type Client struct {
	prober      Prober
	samples     int
	leadSeconds int64
	now         clock.Func
}

// NewClient создаёт клиент; samples и leadSeconds меньше 1 заменяются на 1.
func NewClient(p Prober, samples int, leadSeconds int64, now clock.Func) *Client {
	if samples < 1 {
		samples = 1
	}
	if leadSeconds < 1 {
		leadSeconds = 1
	}
	if now == nil {
		now = clock.Now
	}
	return &Client{prober: p, samples: samples, leadSeconds: leadSeconds, now: now}
}

// Name возвращает имя источника
func (c *Client) Name() string {
	return c.prober.Name()
}

// Close закрывает канал
func (c *Client) Close() error {
	return c.prober.Close()
}

// FullResync измеряет смещение и выбирает старт: граница опорной секунды через
// leadSeconds, переведённая в локальное время и строго позже текущего момента.
func (c *Client) FullResync(ctx context.Context, st *State) error {
	best, err := c.best(ctx)
	if err != nil {
		return &Error{Op: OpFullResync, Source: c.Name(), Err: err}
	}
	skew := best.Offset()
	now := c.now()
	refNow := now + skew
	boundary := floorDiv(refNow, clock.NanosPerSecond)*clock.NanosPerSecond + c.leadSeconds*clock.NanosPerSecond
	start := boundary - skew
	for start <= now {
		start += clock.NanosPerSecond
	}
	st.SkewNs = skew
	st.StartNs = start
	logger.Debug("%s: skew=%d ns delay=%d ns start=%d", c.Name(), skew, best.Delay(), start)
	return nil
}

// SampleDrift измеряет текущее смещение
func (c *Client) SampleDrift(ctx context.Context, _ State) (int64, error) {
	best, err := c.best(ctx)
	if err != nil {
		return 0, &Error{Op: OpSampleDrift, Source: c.Name(), Err: err}
	}
	return best.Offset(), nil
}

func (c *Client) best(ctx context.Context) (Sample, error) {
	var (
		best    Sample
		found   bool
		lastErr error
	)
	for i := 0; i < c.samples; i++ {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		s, err := c.prober.Probe(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if s.Delay() < 0 || s.Destination < s.Origin {
			lastErr = fmt.Errorf("inconsistent sample: delay %d ns", s.Delay())
			continue
		}
		if !found || s.Delay() < best.Delay() {
			best, found = s, true
		}
	}
	if !found {
		if lastErr != nil {
			return Sample{}, fmt.Errorf("%w: %v", ErrNoSamples, lastErr)
		}
		return Sample{}, ErrNoSamples
	}
	return best, nil
}

// floorDiv — деление с округлением к −∞ (опорное время может быть отрицательным)
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
