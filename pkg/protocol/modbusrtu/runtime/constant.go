package runtime

import (
	"errors"
	"fmt"
)

const (
	FunctionCodeReadHoldingRegisters   byte = 0x03
	FunctionCodeWriteSingleRegister    byte = 0x06
	FunctionCodeWriteMultipleRegisters byte = 0x10

	ExceptionBit byte = 0x80
)

// MaxBufferSize bounds the receive buffer, about 1050 bytes.
const MaxBufferSize = 1050

var ErrCRC16Error = errors.New("rtu message crc16 error")
var ErrFrameTooShort = errors.New("rtu message too short")
var ErrDataLengthMismatch = errors.New("rtu message declared length does not match data")

// ErrIncomplete reports a read reply shorter than its byte count; more
// bytes may still arrive.
var ErrIncomplete = errors.New("rtu message incomplete")
var ErrException = errors.New("rtu exception response")

// ExceptionError carries the exception code returned by a slave.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("rtu exception response: function 0x%02X code 0x%02X", e.FunctionCode, e.Code)
}

func (e *ExceptionError) Unwrap() error {
	return ErrException
}
