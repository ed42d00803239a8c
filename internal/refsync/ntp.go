package refsync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shiwa/minions-cam/internal/clock"
)

// ntpEpochOffset — секунд между 1900-01-01 и 1970-01-01
const ntpEpochOffset = 2208988800

const ntpPacketSize = 48

// NTPProber — опорное время компаньона по SNTP (UTC). Смещение получается порядка
// Unix-времени, метка кадра тогда — UTC в нс.
type NTPProber struct {
	addr    string
	timeout time.Duration
	now     clock.Func
}

// NewNTPProber создаёт prober; порт по умолчанию 123
func NewNTPProber(address string, timeout time.Duration, now clock.Func) *NTPProber {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, "123")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = clock.Now
	}
	return &NTPProber{addr: address, timeout: timeout, now: now}
}

// Name возвращает имя источника
func (n *NTPProber) Name() string {
	return fmt.Sprintf("ntp:%s", n.addr)
}

// Probe выполняет один SNTP-обмен (RFC 4330).
func (n *NTPProber) Probe(ctx context.Context) (Sample, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", n.addr)
	if err != nil {
		return Sample{}, err
	}
	defer conn.Close()
	deadline := time.Now().Add(n.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Sample{}, err
	}

	// version 3, mode 3 (client); transmit timestamp — метка запроса, сервер вернёт её в originate
	req := make([]byte, ntpPacketSize)
	req[0] = 0x1b
	t1 := n.now()
	cookie := uint64(t1)
	binary.BigEndian.PutUint64(req[40:48], cookie)
	if _, err := conn.Write(req); err != nil {
		return Sample{}, err
	}
	resp := make([]byte, ntpPacketSize)
	for {
		m, err := conn.Read(resp)
		if err != nil {
			return Sample{}, err
		}
		t4 := n.now()
		if m < ntpPacketSize || binary.BigEndian.Uint64(resp[24:32]) != cookie {
			// чужой или опоздавший ответ
			continue
		}
		if mode := resp[0] & 0x07; mode != 4 {
			return Sample{}, fmt.Errorf("unexpected ntp mode %d", mode)
		}
		if resp[1] == 0 {
			return Sample{}, errors.New("ntp kiss-o'-death (stratum 0)")
		}
		return Sample{
			Origin:      t1,
			Receive:     ntpToUnixNanos(binary.BigEndian.Uint64(resp[32:40])),
			Transmit:    ntpToUnixNanos(binary.BigEndian.Uint64(resp[40:48])),
			Destination: t4,
		}, nil
	}
}

// Close не требует освобождения ресурсов
func (n *NTPProber) Close() error {
	return nil
}

// ntpToUnixNanos переводит 64-битную метку NTP (32.32) в Unix нс
func ntpToUnixNanos(ts uint64) int64 {
	sec := int64(ts>>32) - ntpEpochOffset
	frac := ts & 0xffffffff
	return sec*clock.NanosPerSecond + int64((frac*clock.NanosPerSecond)>>32)
}
