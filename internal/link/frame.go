// Package link — кадровый бинарный протокол канала с компаньоном (второй камерой поплавка).
//
// Кадр в стиле UBX: sync(2) + class + id + length(LE16) + payload + ck_a + ck_b,
// 8-битный Флетчер по class..payload.
package link

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sync bytes кадра
const (
	Sync1 = 0xB5
	Sync2 = 0x62
)

// Размеры служебных частей кадра
const (
	HeaderSize   = 6 // sync(2) + class + id + length(2)
	ChecksumSize = 2
	// MaxPayload — ограничение длины, чтобы мусор в канале не заставлял ждать 64 КБ
	MaxPayload = 256
)

var (
	// ErrChecksum — контрольная сумма кадра не сошлась
	ErrChecksum = errors.New("link: checksum mismatch")
	// ErrShortFrame — буфер короче заявленного кадра
	ErrShortFrame = errors.New("link: short frame")
)

// Frame — декодированный кадр
type Frame struct {
	Class   uint8
	ID      uint8
	Payload []byte
}

// Checksum вычисляет контрольную сумму (без sync bytes)
func Checksum(data []byte) (ckA, ckB uint8) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// Encode собирает полный кадр: header + payload + checksum
func Encode(class, id uint8, payload []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(payload)+ChecksumSize)
	buf = append(buf, Sync1, Sync2, class, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	ckA, ckB := Checksum(buf[2:])
	return append(buf, ckA, ckB)
}

// Decode разбирает один кадр с начала buf (buf должен начинаться с sync).
// Возвращает кадр и число использованных байт.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, ErrShortFrame
	}
	if buf[0] != Sync1 || buf[1] != Sync2 {
		return Frame{}, 0, fmt.Errorf("link: bad sync %#02x %#02x", buf[0], buf[1])
	}
	length := int(binary.LittleEndian.Uint16(buf[4:6]))
	if length > MaxPayload {
		return Frame{}, 0, fmt.Errorf("link: payload length %d exceeds %d", length, MaxPayload)
	}
	total := HeaderSize + length + ChecksumSize
	if len(buf) < total {
		return Frame{}, 0, ErrShortFrame
	}
	ckA, ckB := Checksum(buf[2 : total-ChecksumSize])
	if buf[total-2] != ckA || buf[total-1] != ckB {
		return Frame{}, total, ErrChecksum
	}
	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:HeaderSize+length])
	return Frame{Class: buf[2], ID: buf[3], Payload: payload}, total, nil
}

// Decoder накапливает байты из потока или датаграмм и выделяет из них кадры,
// пропуская мусор до sync и кадры с неверной контрольной суммой.
type Decoder struct {
	buf     []byte
	corrupt uint64
}

// Feed добавляет принятые байты
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next возвращает следующий целый кадр; ok=false — нужно больше данных.
func (d *Decoder) Next() (f Frame, ok bool) {
	for {
		i := d.syncIndex()
		if i < 0 {
			// последний байт может быть началом sync
			if n := len(d.buf); n > 0 && d.buf[n-1] == Sync1 {
				d.buf = d.buf[n-1:]
			} else {
				d.buf = d.buf[:0]
			}
			return Frame{}, false
		}
		d.buf = d.buf[i:]
		frame, n, err := Decode(d.buf)
		switch {
		case err == nil:
			d.buf = d.buf[n:]
			return frame, true
		case errors.Is(err, ErrShortFrame):
			return Frame{}, false
		default:
			// битый кадр или мусор, похожий на sync: сдвигаемся на байт и ищем дальше
			d.corrupt++
			d.buf = d.buf[1:]
		}
	}
}

// Corrupt — число отброшенных битых кадров
func (d *Decoder) Corrupt() uint64 {
	return d.corrupt
}

// Reset очищает буфер (например, после таймаута обмена)
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *Decoder) syncIndex() int {
	for i := 0; i+1 < len(d.buf); i++ {
		if d.buf[i] == Sync1 && d.buf[i+1] == Sync2 {
			return i
		}
	}
	return -1
}
