package frame68

import (
	"errors"
	"fmt"

	"harnscabinet/pkg/utils/crcutil"
)

const (
	Start byte = 0x68
	End   byte = 0x16
)

var (
	ErrPayloadTooLong = errors.New("frame68 payload longer than 255 bytes")
	ErrFieldOverflow  = errors.New("frame68 field does not fit layout")
)

// Layout gives the widths of the address and control fields.
type Layout struct {
	AddressSize int
	ControlSize int
}

var (
	// DefaultLayout: START | ADDR(2) | CTRL(2) | LEN | DATA | CS | END
	DefaultLayout = Layout{AddressSize: 2, ControlSize: 2}
	// CompactLayout is the single byte address and control variant sent
	// by the voice panel firmware.
	CompactLayout = Layout{AddressSize: 1, ControlSize: 1}
)

// Message is one decoded frame.
type Message struct {
	Address  uint16 `json:"address"`
	Control  uint16 `json:"control"`
	Length   int    `json:"length"`
	Payload  []byte `json:"payload"`
	Checksum byte   `json:"checksum"`
	Raw      []byte `json:"-"`
}

func (m Message) String() string {
	return fmt.Sprintf("addr=%04X ctrl=%04X len=%d data=% X", m.Address, m.Control, m.Length, m.Payload)
}

// headerSize counts START, address, control and LEN.
func (l Layout) headerSize() int {
	return 1 + l.AddressSize + l.ControlSize + 1
}

// Encode builds a frame. The checksum covers START through DATA.
func (l Layout) Encode(address, control uint16, payload []byte) ([]byte, error) {
	if len(payload) > 0xFF {
		return nil, ErrPayloadTooLong
	}
	if !fits(address, l.AddressSize) || !fits(control, l.ControlSize) {
		return nil, ErrFieldOverflow
	}
	frame := make([]byte, 0, l.headerSize()+len(payload)+2)
	frame = append(frame, Start)
	frame = appendField(frame, address, l.AddressSize)
	frame = appendField(frame, control, l.ControlSize)
	frame = append(frame, byte(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, crcutil.Sum8(frame), End)
	return frame, nil
}

func (l Layout) decode(frame []byte) Message {
	h := l.headerSize()
	m := Message{
		Address:  readField(frame[1:], l.AddressSize),
		Control:  readField(frame[1+l.AddressSize:], l.ControlSize),
		Length:   int(frame[h-1]),
		Checksum: frame[len(frame)-2],
		Raw:      append([]byte(nil), frame...),
	}
	m.Payload = append([]byte{}, frame[h:len(frame)-2]...)
	return m
}

// Encode builds a frame with DefaultLayout.
func Encode(address, control uint16, payload []byte) ([]byte, error) {
	return DefaultLayout.Encode(address, control, payload)
}

func fits(v uint16, size int) bool {
	return size >= 2 || v <= 0xFF
}

func appendField(b []byte, v uint16, size int) []byte {
	if size == 1 {
		return append(b, byte(v))
	}
	return append(b, byte(v>>8), byte(v))
}

func readField(b []byte, size int) uint16 {
	if size == 1 {
		return uint16(b[0])
	}
	return uint16(b[0])<<8 | uint16(b[1])
}
