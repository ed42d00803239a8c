// Package eventlog — журнал срабатываний триггера (CSV или CBOR), запись в отдельной горутине.
//
// Log вызывается из контекста доставки таймера: запись только ставится в буферизованный
// канал, при переполнении запись отбрасывается и учитывается в Dropped.
package eventlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Форматы журнала
const (
	FormatCSV  = "csv"
	FormatCBOR = "cbor"
)

// DefaultBuffer — ёмкость очереди записей
const DefaultBuffer = 256

// Header — заголовок CSV
var Header = []string{"run_id", "seq", "monotonic_ns", "reference", "pressure_bar", "temperature_c"}

// Record — одна запись журнала; в CBOR ключи целочисленные
type Record struct {
	RunID       string  `cbor:"1,keyasint"`
	Seq         uint64  `cbor:"2,keyasint"`
	MonotonicNs int64   `cbor:"3,keyasint"`
	Reference   string  `cbor:"4,keyasint"`
	Pressure    float64 `cbor:"5,keyasint"`
	Temperature float64 `cbor:"6,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("eventlog: cbor encoder mode: %v", err))
	}
}

type recordWriter interface {
	write(r Record) error
	flush() error
}

type csvWriter struct {
	w *csv.Writer
}

func (c *csvWriter) write(r Record) error {
	return c.w.Write([]string{
		r.RunID,
		strconv.FormatUint(r.Seq, 10),
		strconv.FormatInt(r.MonotonicNs, 10),
		r.Reference,
		strconv.FormatFloat(r.Pressure, 'f', -1, 64),
		strconv.FormatFloat(r.Temperature, 'f', -1, 64),
	})
}

func (c *csvWriter) flush() error {
	c.w.Flush()
	return c.w.Error()
}

type cborWriter struct {
	enc *cbor.Encoder
}

func (c *cborWriter) write(r Record) error { return c.enc.Encode(r) }
func (c *cborWriter) flush() error         { return nil }

// Logger — асинхронный журнал
type Logger struct {
	runID string
	out   io.WriteCloser
	w     recordWriter
	ch    chan Record

	seq      atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
	closed   atomic.Bool

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open открывает (или создаёт) файл журнала для дозаписи
func Open(path, format string, buffer int) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	l, err := newLogger(f, format, buffer, st.Size() == 0)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// New пишет журнал в произвольный writer (CSV — с заголовком)
func New(w io.WriteCloser, format string, buffer int) (*Logger, error) {
	return newLogger(w, format, buffer, true)
}

func newLogger(out io.WriteCloser, format string, buffer int, header bool) (*Logger, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	var w recordWriter
	switch format {
	case "", FormatCSV:
		cw := &csvWriter{w: csv.NewWriter(out)}
		if header {
			if err := cw.w.Write(Header); err != nil {
				return nil, err
			}
			if err := cw.flush(); err != nil {
				return nil, fmt.Errorf("eventlog: header: %w", err)
			}
		}
		w = cw
	case FormatCBOR:
		w = &cborWriter{enc: encMode.NewEncoder(out)}
	default:
		return nil, fmt.Errorf("eventlog: unknown format %q", format)
	}
	l := &Logger{
		runID: uuid.NewString(),
		out:   out,
		w:     w,
		ch:    make(chan Record, buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.loop()
	return l, nil
}

// RunID — идентификатор запуска, общий для всех записей
func (l *Logger) RunID() string {
	return l.runID
}

// Log ставит запись в очередь; никогда не блокируется
func (l *Logger) Log(monotonicNs int64, reference string, pressure, temperature float64) {
	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}
	r := Record{
		RunID:       l.runID,
		Seq:         l.seq.Add(1),
		MonotonicNs: monotonicNs,
		Reference:   reference,
		Pressure:    pressure,
		Temperature: temperature,
	}
	select {
	case l.ch <- r:
	default:
		l.dropped.Add(1)
	}
}

// Dropped — число записей, не попавших в очередь
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Failures — число ошибок записи в файл
func (l *Logger) Failures() uint64 {
	return l.failures.Load()
}

func (l *Logger) loop() {
	defer close(l.done)
	for {
		select {
		case r := <-l.ch:
			l.write(r)
			l.drain()
		case <-l.quit:
			l.drain()
			return
		}
	}
}

// drain дописывает всё, что уже в очереди, и сбрасывает буфер
func (l *Logger) drain() {
	for {
		select {
		case r := <-l.ch:
			l.write(r)
		default:
			if err := l.w.flush(); err != nil {
				l.failures.Add(1)
			}
			return
		}
	}
}

func (l *Logger) write(r Record) {
	if err := l.w.write(r); err != nil {
		l.failures.Add(1)
	}
}

// Close дописывает очередь и закрывает файл. Повторный вызов безопасен.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.quit)
		<-l.done
		var errs []error
		if n := l.failures.Load(); n > 0 {
			errs = append(errs, fmt.Errorf("eventlog: %d write failures", n))
		}
		if err := l.out.Close(); err != nil {
			errs = append(errs, err)
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}

// ReadCBOR читает все записи CBOR-журнала
func ReadCBOR(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
}
