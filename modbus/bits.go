package modbus

import (
	"encoding/binary"
)

// Coil values as encoded by WriteSingleCoil requests and responses.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// bitBytes returns the number of bytes needed to hold n bits.
func bitBytes(n int) int {
	return (n + 7) / 8
}

// appendBits appends values to dst, eight to a byte, with lower indices
// corresponding to less significant bits. Unused bits of the last byte are
// zero.
func appendBits(dst []byte, values []bool) []byte {
	start := len(dst)
	for i := bitBytes(len(values)); i > 0; i-- {
		dst = append(dst, 0)
	}
	for i, v := range values {
		if v {
			dst[start+i/8] |= 1 << (i % 8)
		}
	}
	return dst
}

// bits unpacks the first n bits from data. data must hold at least n bits.
func bits(data []byte, n int) []bool {
	values := make([]bool, n)
	for i := range values {
		values[i] = data[i/8]>>(i%8)&1 != 0
	}
	return values
}

// appendWords appends values to dst as big endian 16-bit words.
func appendWords(dst []byte, values []uint16) []byte {
	for _, v := range values {
		dst = binary.BigEndian.AppendUint16(dst, v)
	}
	return dst
}

// words decodes data as big endian 16-bit words. len(data) must be even.
func words(data []byte) []uint16 {
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return values
}

// coilWord returns the wire encoding of a single coil value.
func coilWord(v bool) uint16 {
	if v {
		return coilOn
	}
	return coilOff
}

// parseCoilWord decodes the wire encoding of a single coil value. Any value
// other than 0xFF00 or 0x0000 is rejected.
func parseCoilWord(w uint16) (bool, error) {
	switch w {
	case coilOn:
		return true, nil
	case coilOff:
		return false, nil
	default:
		return false, ExceptionIllegalDataValue
	}
}
