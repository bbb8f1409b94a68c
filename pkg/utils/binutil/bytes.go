package binutil

import (
	"encoding/hex"
	"strings"
)

// ParseUint16BigEndian reads a register, high byte first.
func ParseUint16BigEndian(buf []byte) uint16 {
	return uint16(buf[0])<<8 + uint16(buf[1])
}

// WriteUint16 writes value high byte first.
func WriteUint16(buf []byte, value uint16) {
	buf[0] = byte(value >> 8)
	buf[1] = byte(value)
}

// ToSigned16 interprets a register as two's complement.
func ToSigned16(value uint16) int {
	if value > 32767 {
		return int(value) - 65536
	}
	return int(value)
}

// Dup returns a copy of b that does not share its backing array.
func Dup(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// DecodeHex accepts upper or lower case and ignores spaces.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(s, " ", ""))
}

// EncodeHex renders b as upper case hex, the form used in logs.
func EncodeHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
