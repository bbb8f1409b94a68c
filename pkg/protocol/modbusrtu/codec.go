package modbusrtu

import (
	"harnscabinet/pkg/protocol/modbusrtu/runtime"
	"harnscabinet/pkg/utils/binutil"
	"harnscabinet/pkg/utils/crcutil"
)

/**
modbus 协议 ADU = 地址(1) + pdu(253) + 16位校验(2) = 256
*/

const (
	MaxADUSize = 256
	crcSize    = 2
	// 地址 + 功能码 + 异常码 + crc
	exceptionSize = 5
	// 06/10 应答: 地址 + 功能码 + 地址(2) + 值/数量(2) + crc
	echoSize = 8
)

// Frame is one validated reply.
type Frame struct {
	Slave        byte
	FunctionCode byte
	// Data is the PDU body after the function code, or the register bytes
	// for a read reply.
	Data []byte
	// Values is set for read replies after the parse policy is applied.
	Values []int
	// WideCount marks a read reply that carried a two byte count field.
	WideCount bool
	Raw       []byte
}

// Encode appends the CRC16 to slave, function code and payload.
func Encode(slave, functionCode byte, payload []byte) []byte {
	message := make([]byte, 2, 2+len(payload)+crcSize)
	message[0] = slave
	message[1] = functionCode
	message = append(message, payload...)
	return appendCrc(message)
}

// EncodeHex takes a hex command without CRC, e.g. "010630000001", and
// returns the wire bytes.
func EncodeHex(command string) ([]byte, error) {
	b, err := binutil.DecodeHex(command)
	if err != nil {
		return nil, err
	}
	if len(b) < 2 {
		return nil, runtime.ErrFrameTooShort
	}
	return appendCrc(b), nil
}

// ReadHoldingRegisters 01 03 00 00 00 0A C5 CD
// 01  设备地址
// 03  功能码
// 00 00  起始地址
// 00 0A  寄存器数量
// C5 CD  crc16检验码
func ReadHoldingRegisters(slave byte, start, count uint16) []byte {
	payload := make([]byte, 4)
	binutil.WriteUint16(payload[0:], start)
	binutil.WriteUint16(payload[2:], count)
	return Encode(slave, runtime.FunctionCodeReadHoldingRegisters, payload)
}

func WriteSingleRegister(slave byte, address, value uint16) []byte {
	payload := make([]byte, 4)
	binutil.WriteUint16(payload[0:], address)
	binutil.WriteUint16(payload[2:], value)
	return Encode(slave, runtime.FunctionCodeWriteSingleRegister, payload)
}

// Header returns slave and function code of an encoded request.
func Header(adu []byte) (slave, functionCode byte, err error) {
	if len(adu) < 2+crcSize {
		return 0, 0, runtime.ErrFrameTooShort
	}
	return adu[0], adu[1], nil
}

// ValidCrc reports whether the trailing two bytes match the CRC of the rest.
func ValidCrc(adu []byte) bool {
	if len(adu) < 2+crcSize {
		return false
	}
	n := len(adu) - crcSize
	return crcutil.CheckCrc16sum(adu[:n]) == binutil.ParseUint16BigEndian(adu[n:])
}

// Decode validates a complete reply and parses its registers with policy.
func Decode(adu []byte, policy ParsePolicy) (*Frame, error) {
	if len(adu) < 2+crcSize {
		return nil, runtime.ErrFrameTooShort
	}
	if adu[1] == runtime.FunctionCodeReadHoldingRegisters && len(adu) < 3+int(adu[2])+crcSize {
		return nil, runtime.ErrIncomplete
	}
	if !ValidCrc(adu) {
		return nil, runtime.ErrCRC16Error
	}

	frame := &Frame{
		Slave:        adu[0],
		FunctionCode: adu[1],
		Raw:          binutil.Dup(adu),
	}
	body := adu[2 : len(adu)-crcSize]

	if frame.FunctionCode&runtime.ExceptionBit != 0 {
		if len(adu) != exceptionSize {
			return nil, runtime.ErrDataLengthMismatch
		}
		return frame, &runtime.ExceptionError{
			FunctionCode: frame.FunctionCode &^ runtime.ExceptionBit,
			Code:         body[0],
		}
	}

	switch frame.FunctionCode {
	case runtime.FunctionCodeReadHoldingRegisters:
		data, wide, err := registerBytes(adu)
		if err != nil {
			return nil, err
		}
		frame.Data = binutil.Dup(data)
		frame.WideCount = wide
		words := make([]uint16, len(data)/2)
		for i := range words {
			words[i] = binutil.ParseUint16BigEndian(data[2*i:])
		}
		frame.Values = policy.Apply(words)
	case runtime.FunctionCodeWriteSingleRegister, runtime.FunctionCodeWriteMultipleRegisters:
		if len(adu) != echoSize {
			return nil, runtime.ErrDataLengthMismatch
		}
		frame.Data = binutil.Dup(body)
	default:
		frame.Data = binutil.Dup(body)
	}
	return frame, nil
}

// registerBytes checks the byte count of a 0x03 reply. Some slaves send
// a two byte count; that form has an even ADU length.
func registerBytes(adu []byte) ([]byte, bool, error) {
	if len(adu) < 3+crcSize {
		return nil, false, runtime.ErrFrameTooShort
	}
	if count := int(adu[2]); len(adu) == 3+count+crcSize {
		if count%2 != 0 {
			return nil, false, runtime.ErrDataLengthMismatch
		}
		return adu[3 : 3+count], false, nil
	}
	if len(adu)%2 == 0 && len(adu) >= 4+crcSize {
		count := int(binutil.ParseUint16BigEndian(adu[2:4]))
		if len(adu) == 4+count+crcSize && count%2 == 0 {
			return adu[4 : 4+count], true, nil
		}
	}
	return nil, false, runtime.ErrDataLengthMismatch
}

// expectedLength returns the complete ADU length implied by the first
// bytes of buf, or 0 when the length cannot be known from a header.
func expectedLength(buf []byte) int {
	if len(buf) < 3 {
		return 0
	}
	fc := buf[1]
	switch {
	case fc&runtime.ExceptionBit != 0:
		return exceptionSize
	case fc == runtime.FunctionCodeReadHoldingRegisters:
		return 3 + int(buf[2]) + crcSize
	case fc == runtime.FunctionCodeWriteSingleRegister, fc == runtime.FunctionCodeWriteMultipleRegisters:
		return echoSize
	}
	return 0
}

func appendCrc(message []byte) []byte {
	crc := make([]byte, crcSize)
	binutil.WriteUint16(crc, crcutil.CheckCrc16sum(message))
	return append(message, crc...)
}
