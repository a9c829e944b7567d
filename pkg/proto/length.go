package proto

// EncodeLength encodes a word's byte length as a MikroTik API
// variable-length prefix: 1 byte for lengths up to 0x7F, 2 bytes (with
// a 0x80 leading-bit marker) up to 0x3FFF, 3 bytes (0xC0) up to
// 0x1FFFFF, 4 bytes (0xE0) up to 0xFFFFFFF, and a 5-byte form (a
// literal 0xF0 byte followed by the raw 4-byte length) for anything
// larger.
func EncodeLength(n uint32) []byte {
	switch {
	case n <= 0x7F:
		return []byte{byte(n)}
	case n <= 0x3FFF:
		l := n | 0x8000
		return []byte{byte(l >> 8), byte(l)}
	case n <= 0x1FFFFF:
		l := n | 0xC00000
		return []byte{byte(l >> 16), byte(l >> 8), byte(l)}
	case n <= 0xFFFFFFF:
		l := n | 0xE0000000
		return []byte{byte(l >> 24), byte(l >> 16), byte(l >> 8), byte(l)}
	default:
		return []byte{0xF0, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

// DecodeLength decodes a variable-length prefix at the start of b,
// returning the decoded length and the number of prefix bytes
// consumed. It returns (0, 0, nil) if b doesn't yet hold enough bytes
// to determine the prefix width; callers should buffer more data and
// retry. It returns a non-nil *[Error] (kind [KindInvalidPrefix]) if
// the leading byte uses the reserved 0xF8 bit pattern.
func DecodeLength(b []byte) (length uint32, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, nil
	}

	c := uint32(b[0])
	switch {
	case c&0x80 == 0x00:
		return c, 1, nil
	case c&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, nil
		}
		c &^= 0xC0
		c = c<<8 | uint32(b[1])
		return c, 2, nil
	case c&0xE0 == 0xC0:
		if len(b) < 3 {
			return 0, 0, nil
		}
		c &^= 0xE0
		c = c<<8 | uint32(b[1])
		c = c<<8 | uint32(b[2])
		return c, 3, nil
	case c&0xF0 == 0xE0:
		if len(b) < 4 {
			return 0, 0, nil
		}
		c &^= 0xF0
		c = c<<8 | uint32(b[1])
		c = c<<8 | uint32(b[2])
		c = c<<8 | uint32(b[3])
		return c, 4, nil
	case c&0xF8 == 0xF0:
		if len(b) < 5 {
			return 0, 0, nil
		}
		c = uint32(b[1])
		c = c<<8 | uint32(b[2])
		c = c<<8 | uint32(b[3])
		c = c<<8 | uint32(b[4])
		return c, 5, nil
	default:
		return 0, 0, newError(KindInvalidPrefix, "leading byte uses reserved 0xF8 bit pattern")
	}
}
