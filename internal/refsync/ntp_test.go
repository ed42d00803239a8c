package refsync

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refUnixNs = 1_700_000_000 * 1_000_000_000

func unixNanosToNTP(ns int64) uint64 {
	sec := ns / 1_000_000_000
	rem := ns % 1_000_000_000
	frac := (uint64(rem) << 32) / 1_000_000_000
	return uint64(sec+ntpEpochOffset)<<32 | frac
}

// serveNTP отвечает на один запрос
func serveNTP(t *testing.T, conn net.PacketConn, stratum byte) {
	t.Helper()
	go func() {
		req := make([]byte, ntpPacketSize)
		n, addr, err := conn.ReadFrom(req)
		if err != nil || n < ntpPacketSize {
			return
		}
		resp := make([]byte, ntpPacketSize)
		resp[0] = 0x1c // v3, server
		resp[1] = stratum
		copy(resp[24:32], req[40:48])
		binary.BigEndian.PutUint64(resp[32:40], unixNanosToNTP(refUnixNs))
		binary.BigEndian.PutUint64(resp[40:48], unixNanosToNTP(refUnixNs))
		_, _ = conn.WriteTo(resp, addr)
	}()
}

func TestNTPProber(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	serveNTP(t, conn, 2)

	p := NewNTPProber(conn.LocalAddr().String(), time.Second, stepNow(1_000_000_000, 1_000))
	s, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(refUnixNs), s.Receive)
	assert.Equal(t, int64(refUnixNs-1_000_000_000-500), s.Offset())
	assert.Equal(t, int64(1_000), s.Delay())
}

func TestNTPProber_KissOfDeath(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	serveNTP(t, conn, 0)

	p := NewNTPProber(conn.LocalAddr().String(), time.Second, nil)
	_, err = p.Probe(context.Background())
	assert.Error(t, err)
}

func TestNTPProber_DefaultPort(t *testing.T) {
	assert.Equal(t, "ntp:192.168.2.1:123", NewNTPProber("192.168.2.1", 0, nil).Name())
}

func TestNTPTimestamp(t *testing.T) {
	ns := int64(refUnixNs + 123_456_789)
	assert.InDelta(t, ns, ntpToUnixNanos(unixNanosToNTP(ns)), 1)
}
