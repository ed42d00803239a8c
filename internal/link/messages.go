package link

import (
	"encoding/binary"
	"fmt"
)

// Класс и ID сообщений времени
const (
	ClassTIM   = 0x0D
	IDTimeReq  = 0x01 // запрос времени: seq + origin
	IDTimeResp = 0x02 // ответ: seq + origin + receive + transmit
)

// Размеры payload
const (
	TimeRequestSize  = 12
	TimeResponseSize = 28
)

// TimeRequest — запрос к опорным часам. Origin — локальное монотонное время отправки (t1),
// компаньон возвращает его без изменений.
type TimeRequest struct {
	Seq    uint32
	Origin int64
}

// TimeResponse — ответ опорных часов: Receive (t2) и Transmit (t3) по часам компаньона.
type TimeResponse struct {
	Seq      uint32
	Origin   int64
	Receive  int64
	Transmit int64
}

// Marshal сериализует запрос в 12-байтный payload
func (r TimeRequest) Marshal() []byte {
	p := make([]byte, TimeRequestSize)
	binary.LittleEndian.PutUint32(p[0:4], r.Seq)
	binary.LittleEndian.PutUint64(p[4:12], uint64(r.Origin))
	return p
}

// Frame собирает полный кадр TIM-REQ
func (r TimeRequest) Frame() []byte {
	return Encode(ClassTIM, IDTimeReq, r.Marshal())
}

// ParseTimeRequest разбирает payload TIM-REQ
func ParseTimeRequest(p []byte) (TimeRequest, error) {
	if len(p) < TimeRequestSize {
		return TimeRequest{}, fmt.Errorf("link: time request payload %d bytes, want %d", len(p), TimeRequestSize)
	}
	return TimeRequest{
		Seq:    binary.LittleEndian.Uint32(p[0:4]),
		Origin: int64(binary.LittleEndian.Uint64(p[4:12])),
	}, nil
}

// Marshal сериализует ответ в 28-байтный payload
func (r TimeResponse) Marshal() []byte {
	p := make([]byte, TimeResponseSize)
	binary.LittleEndian.PutUint32(p[0:4], r.Seq)
	binary.LittleEndian.PutUint64(p[4:12], uint64(r.Origin))
	binary.LittleEndian.PutUint64(p[12:20], uint64(r.Receive))
	binary.LittleEndian.PutUint64(p[20:28], uint64(r.Transmit))
	return p
}

// Frame собирает полный кадр TIM-RESP
func (r TimeResponse) Frame() []byte {
	return Encode(ClassTIM, IDTimeResp, r.Marshal())
}

// ParseTimeResponse разбирает payload TIM-RESP
func ParseTimeResponse(p []byte) (TimeResponse, error) {
	if len(p) < TimeResponseSize {
		return TimeResponse{}, fmt.Errorf("link: time response payload %d bytes, want %d", len(p), TimeResponseSize)
	}
	return TimeResponse{
		Seq:      binary.LittleEndian.Uint32(p[0:4]),
		Origin:   int64(binary.LittleEndian.Uint64(p[4:12])),
		Receive:  int64(binary.LittleEndian.Uint64(p[12:20])),
		Transmit: int64(binary.LittleEndian.Uint64(p[20:28])),
	}, nil
}

// IsTimeRequest / IsTimeResponse проверяют class/id кадра
func (f Frame) IsTimeRequest() bool  { return f.Class == ClassTIM && f.ID == IDTimeReq }
func (f Frame) IsTimeResponse() bool { return f.Class == ClassTIM && f.ID == IDTimeResp }
