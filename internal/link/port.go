package link

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/tarm/serial"
)

// DefaultSerialReadTimeout — таймаут одного read на последовательном порту;
// tarm/serial по истечении возвращает io.EOF, ReadFrame продолжает ждать до дедлайна.
const DefaultSerialReadTimeout = 100 * time.Millisecond

// ErrTimeout — кадр не пришёл до дедлайна
var ErrTimeout = errors.New("link: timeout")

// readerWithDeadline — есть у net.Conn и *os.File, нет у tarm/serial.
type readerWithDeadline interface {
	SetReadDeadline(t time.Time) error
}

// Port — кадровый канал поверх последовательного порта или UDP
type Port struct {
	rw   io.ReadWriteCloser
	name string
	dec  Decoder
	buf  []byte
}

// NewPort оборачивает произвольный io.ReadWriteCloser (тесты, net.Pipe)
func NewPort(name string, rw io.ReadWriteCloser) *Port {
	return &Port{rw: rw, name: name, buf: make([]byte, 512)}
}

// OpenSerial открывает последовательный порт
func OpenSerial(device string, baud int, readTimeout time.Duration) (*Port, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultSerialReadTimeout
	}
	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	}
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", device, err)
	}
	return NewPort(fmt.Sprintf("serial:%s", device), p), nil
}

// DialUDP открывает UDP «соединение» с компаньоном (каждый кадр — отдельная датаграмма)
func DialUDP(addr string) (*Port, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp dial %s: %w", addr, err)
	}
	return NewPort(fmt.Sprintf("udp:%s", addr), conn), nil
}

// Name возвращает имя канала для логов
func (p *Port) Name() string {
	return p.name
}

// WriteFrame отправляет готовый кадр
func (p *Port) WriteFrame(frame []byte) error {
	_, err := p.rw.Write(frame)
	return err
}

// ReadFrame ждёт следующий целый кадр до deadline
func (p *Port) ReadFrame(deadline time.Time) (Frame, error) {
	for {
		if f, ok := p.dec.Next(); ok {
			return f, nil
		}
		if !time.Now().Before(deadline) {
			return Frame{}, ErrTimeout
		}
		rd, hasDeadline := p.rw.(readerWithDeadline)
		if hasDeadline {
			if err := rd.SetReadDeadline(deadline); err != nil {
				return Frame{}, err
			}
		}
		n, err := p.rw.Read(p.buf)
		if n > 0 {
			p.dec.Feed(p.buf[:n])
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF) && !hasDeadline:
				// tarm/serial: истёк ReadTimeout без данных
				continue
			case errors.Is(err, os.ErrDeadlineExceeded):
				return Frame{}, ErrTimeout
			default:
				return Frame{}, err
			}
		}
	}
}

// Discard сбрасывает недочитанные байты (после таймаута старые ответы не нужны)
func (p *Port) Discard() {
	p.dec.Reset()
}

// Close закрывает канал
func (p *Port) Close() error {
	if p.rw == nil {
		return nil
	}
	return p.rw.Close()
}
