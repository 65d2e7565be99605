package osc

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Encode serializes a message into a datagram payload.
//
// Wire format: address (null-terminated, padded to a multiple of 4), type-tag
// string starting with ',' (null-terminated, padded), then each argument in
// declaration order with 4-byte alignment. Integers and floats are big-endian.
func Encode(m Message) ([]byte, error) {
	if !strings.HasPrefix(m.Address, "/") {
		return nil, fmt.Errorf("osc: address %q does not start with '/'", m.Address)
	}
	if strings.ContainsRune(m.Address, 0) {
		return nil, fmt.Errorf("osc: address contains null byte")
	}

	size := paddedLen(len(m.Address)) + paddedLen(1+len(m.Args))
	for _, a := range m.Args {
		switch a.Kind {
		case KindInt32, KindFloat32:
			size += 4
		case KindString:
			size += paddedLen(len(a.Str))
		case KindBlob:
			size += 4 + (len(a.Blob)+3)&^3
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, a.Kind)
		}
	}

	buf := make([]byte, 0, size)
	buf = appendPaddedString(buf, m.Address)
	buf = appendPaddedString(buf, m.TypeTag())

	for _, a := range m.Args {
		switch a.Kind {
		case KindInt32:
			buf = binary.BigEndian.AppendUint32(buf, uint32(a.Int))
		case KindFloat32:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(a.Float))
		case KindString:
			buf = appendPaddedString(buf, a.Str)
		case KindBlob:
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.Blob)))
			buf = append(buf, a.Blob...)
			for len(buf)%4 != 0 {
				buf = append(buf, 0)
			}
		}
	}

	return buf, nil
}

// appendPaddedString appends s, its null terminator, and zero padding up to
// the next 4-byte boundary.
func appendPaddedString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	buf = append(buf, 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}
