package refsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shiwa/minions-cam/internal/clock"
	"github.com/shiwa/minions-cam/internal/link"
)

// DefaultTimeout — таймаут одного обмена
const DefaultTimeout = 500 * time.Millisecond

// LinkProber — обмен TIM-REQ/TIM-RESP по кадровому каналу (serial или UDP)
type LinkProber struct {
	port    *link.Port
	timeout time.Duration
	now     clock.Func
	seq     uint32
}

// NewLinkProber создаёт prober поверх открытого порта
func NewLinkProber(port *link.Port, timeout time.Duration, now clock.Func) *LinkProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = clock.Now
	}
	return &LinkProber{port: port, timeout: timeout, now: now}
}

// Name возвращает имя канала
func (p *LinkProber) Name() string {
	return "link:" + p.port.Name()
}

// Probe отправляет запрос и ждёт ответ с тем же seq и origin; опоздавшие ответы
// на прошлые запросы пропускаются.
func (p *LinkProber) Probe(ctx context.Context) (Sample, error) {
	p.seq++
	seq := p.seq
	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t1 := p.now()
	if err := p.port.WriteFrame(link.TimeRequest{Seq: seq, Origin: t1}.Frame()); err != nil {
		return Sample{}, fmt.Errorf("write request: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		f, err := p.port.ReadFrame(deadline)
		if err != nil {
			if errors.Is(err, link.ErrTimeout) {
				p.port.Discard()
				return Sample{}, fmt.Errorf("seq %d: %w", seq, err)
			}
			return Sample{}, fmt.Errorf("read response: %w", err)
		}
		t4 := p.now()
		if !f.IsTimeResponse() {
			continue
		}
		resp, err := link.ParseTimeResponse(f.Payload)
		if err != nil || resp.Seq != seq || resp.Origin != t1 {
			continue
		}
		return Sample{Origin: t1, Receive: resp.Receive, Transmit: resp.Transmit, Destination: t4}, nil
	}
}

// Close закрывает порт
func (p *LinkProber) Close() error {
	return p.port.Close()
}
