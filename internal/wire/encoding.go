package wire

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/tallerdist/sentinela/internal/er"
)

// encodeRemainingLength encodes length as the MQTT variable-length
// integer: 7 bits per byte, continuation bit in the high bit.
func encodeRemainingLength(length int) []byte {
	var out []byte
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		out = append(out, b)
		if length == 0 {
			break
		}
	}
	return out
}

// putString appends a 16-bit-length-prefixed UTF-8 string.
func putString(buf []byte, s string) []byte {
	l := make([]byte, 2)
	binary.BigEndian.PutUint16(l, uint16(len(s)))
	buf = append(buf, l...)
	return append(buf, s...)
}

// readString reads a 16-bit-length-prefixed UTF-8 string from data,
// returning the string and the number of bytes consumed.
func readString(data []byte, context string) (string, int, error) {
	if len(data) < 2 {
		return "", 0, &er.Err{Context: context, Message: er.ErrShortBuffer}
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+n {
		return "", 0, &er.Err{Context: context, Message: er.ErrShortBuffer}
	}
	s := string(data[2 : 2+n])
	if !utf8.ValidString(s) {
		return "", 0, &er.Err{Context: context, Message: er.ErrInvalidUTF8String}
	}
	return s, 2 + n, nil
}
