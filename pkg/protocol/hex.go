package protocol

import (
	"strconv"
	"strings"
)

// ParseHex converts a hexadecimal field as the device always has : no 0x prefix,
// case-insensitive digits, anything that is not entirely hex digits gives 0.
// Values wider than bitSize keep their low bits.
func ParseHex(s string, bitSize int) uint64 {
	if s == "" || !isHex(s) {
		return 0
	}
	if len(s) > 16 {
		s = s[len(s)-16:]
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	if bitSize < 64 {
		v &= 1<<uint(bitSize) - 1
	}
	return v
}

// ParseHexByte is ParseHex for one payload byte
func ParseHexByte(s string) byte {
	return byte(ParseHex(s, 8))
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// FormatHex prints uppercase hex without leading zeros
func FormatHex(v uint64) string {
	return strings.ToUpper(strconv.FormatUint(v, 16))
}
