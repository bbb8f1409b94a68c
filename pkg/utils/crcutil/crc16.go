package crcutil

// Modbus CRC16, reflected polynomial 0xA001 seeded with 0xFFFF.
const (
	crc16Poly = 0xA001
	crc16Init = 0xFFFF
)

var crc16Table = makeCrc16Table()

func makeCrc16Table() [256]uint16 {
	var table [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc16Poly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// Crc16 returns the register value after feeding data.
func Crc16(data []byte) uint16 {
	crc := uint16(crc16Init)
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[byte(crc)^b]
	}
	return crc
}

// CheckCrc16sum returns the CRC with its bytes swapped, so writing it
// big-endian puts the low byte on the wire first.
func CheckCrc16sum(data []byte) uint16 {
	crc := Crc16(data)
	return crc<<8 | crc>>8
}

// Sum8 is the additive checksum used by 0x68 framed messages.
func Sum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}
