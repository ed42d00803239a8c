package refsync

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/shiwa/minions-cam/internal/clock"
	"github.com/shiwa/minions-cam/internal/link"
	"github.com/shiwa/minions-cam/internal/logger"
)

// responderPoll — как часто обслуживающий цикл проверяет отмену контекста
const responderPoll = 200 * time.Millisecond

// Responder — сторона компаньона: отвечает на TIM-REQ своим монотонным временем.
type Responder struct {
	now     clock.Func
	served  atomic.Uint64
	ignored atomic.Uint64
}

// NewResponder создаёт ответчик
func NewResponder(now clock.Func) *Responder {
	if now == nil {
		now = clock.Now
	}
	return &Responder{now: now}
}

// Served — число отправленных ответов
func (r *Responder) Served() uint64 {
	return r.served.Load()
}

// Ignored — число принятых кадров, не являющихся запросом времени
func (r *Responder) Ignored() uint64 {
	return r.ignored.Load()
}

// answer строит ответ на кадр; receive — момент приёма (t2)
func (r *Responder) answer(f link.Frame, receive int64) ([]byte, bool) {
	if !f.IsTimeRequest() {
		r.ignored.Add(1)
		return nil, false
	}
	req, err := link.ParseTimeRequest(f.Payload)
	if err != nil {
		r.ignored.Add(1)
		return nil, false
	}
	resp := link.TimeResponse{
		Seq:      req.Seq,
		Origin:   req.Origin,
		Receive:  receive,
		Transmit: r.now(),
	}
	return resp.Frame(), true
}

// ServeStream обслуживает потоковый канал (последовательный порт) до отмены ctx
func (r *Responder) ServeStream(ctx context.Context, port *link.Port) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := port.ReadFrame(time.Now().Add(responderPoll))
		if err != nil {
			if errors.Is(err, link.ErrTimeout) {
				continue
			}
			return err
		}
		t2 := r.now()
		out, ok := r.answer(f, t2)
		if !ok {
			continue
		}
		if err := port.WriteFrame(out); err != nil {
			return err
		}
		r.served.Add(1)
	}
}

// ServePacket обслуживает UDP: один запрос — одна датаграмма
func (r *Responder) ServePacket(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, 512)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(responderPoll)); err != nil {
			return err
		}
		n, addr, err := conn.ReadFrom(buf)
		t2 := r.now()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		f, _, err := link.Decode(buf[:n])
		if err != nil {
			logger.Debug("responder: %s: %v", addr, err)
			r.ignored.Add(1)
			continue
		}
		out, ok := r.answer(f, t2)
		if !ok {
			continue
		}
		if _, err := conn.WriteTo(out, addr); err != nil {
			logger.Warn("responder: reply to %s: %v", addr, err)
			continue
		}
		r.served.Add(1)
	}
}
