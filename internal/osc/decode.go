package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// bundleMarker is the padded address of an OSC bundle, including terminator.
var bundleMarker = []byte("#bundle\x00")

// Decode parses a datagram payload into one or more messages.
//
// A plain message decodes to a single-element slice. A bundle is recursively
// decoded and flattened to the sequence of its contained messages in order.
func Decode(data []byte) ([]Message, error) {
	if bytes.HasPrefix(data, bundleMarker) {
		return decodeBundle(data)
	}
	msg, err := decodeMessage(data)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}

// decodeBundle parses "#bundle" + 8-byte timetag + size-prefixed elements.
// The timetag is ignored; the console does not schedule messages.
func decodeBundle(data []byte) ([]Message, error) {
	rest := data[len(bundleMarker):]
	if len(rest) < 8 {
		return nil, fmt.Errorf("%w: bundle truncated before timetag", ErrMalformedPacket)
	}
	rest = rest[8:]

	var out []Message
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: bundle element size truncated", ErrMalformedPacket)
		}
		size := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < size {
			return nil, fmt.Errorf("%w: bundle element overruns buffer", ErrMalformedPacket)
		}
		msgs, err := Decode(rest[:size])
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
		rest = rest[size:]
	}
	return out, nil
}

func decodeMessage(data []byte) (Message, error) {
	address, rest, err := readPaddedString(data)
	if err != nil {
		return Message{}, fmt.Errorf("address: %w", err)
	}
	if len(address) == 0 || address[0] != '/' {
		return Message{}, fmt.Errorf("%w: address %q", ErrMalformedPacket, address)
	}

	// A message with no arguments may legally omit the type-tag string.
	if len(rest) == 0 {
		return Message{Address: address}, nil
	}

	tag, rest, err := readPaddedString(rest)
	if err != nil {
		return Message{}, fmt.Errorf("type tag: %w", err)
	}
	if len(tag) == 0 || tag[0] != ',' {
		return Message{}, fmt.Errorf("%w: type tag %q", ErrMalformedPacket, tag)
	}

	args := make([]Value, 0, len(tag)-1)
	for _, c := range tag[1:] {
		switch Kind(c) {
		case KindInt32:
			if len(rest) < 4 {
				return Message{}, fmt.Errorf("%w: int32 overruns buffer", ErrMalformedPacket)
			}
			args = append(args, Int(int32(binary.BigEndian.Uint32(rest[:4]))))
			rest = rest[4:]
		case KindFloat32:
			if len(rest) < 4 {
				return Message{}, fmt.Errorf("%w: float32 overruns buffer", ErrMalformedPacket)
			}
			args = append(args, Float(math.Float32frombits(binary.BigEndian.Uint32(rest[:4]))))
			rest = rest[4:]
		case KindString:
			var s string
			s, rest, err = readPaddedString(rest)
			if err != nil {
				return Message{}, fmt.Errorf("string arg: %w", err)
			}
			args = append(args, String(s))
		case KindBlob:
			if len(rest) < 4 {
				return Message{}, fmt.Errorf("%w: blob length overruns buffer", ErrMalformedPacket)
			}
			n := binary.BigEndian.Uint32(rest[:4])
			rest = rest[4:]
			padded := (int(n) + 3) &^ 3
			if n > uint32(len(rest)) || padded > len(rest) {
				return Message{}, fmt.Errorf("%w: blob data overruns buffer", ErrMalformedPacket)
			}
			b := make([]byte, n)
			copy(b, rest[:n])
			for _, p := range rest[n:padded] {
				if p != 0 {
					return Message{}, fmt.Errorf("%w: nonzero blob padding", ErrMalformedPacket)
				}
			}
			args = append(args, Blob(b))
			rest = rest[padded:]
		default:
			return Message{}, fmt.Errorf("%w: %q", ErrUnsupportedType, c)
		}
	}

	if len(args) == 0 {
		args = nil
	}
	return Message{Address: address, Args: args}, nil
}

// readPaddedString reads a null-terminated string plus its alignment padding.
// Padding bytes past the terminator must be zero.
func readPaddedString(data []byte) (string, []byte, error) {
	term := bytes.IndexByte(data, 0)
	if term < 0 {
		return "", nil, fmt.Errorf("%w: string missing terminator", ErrMalformedPacket)
	}
	padded := paddedLen(term)
	if padded > len(data) {
		return "", nil, fmt.Errorf("%w: string padding overruns buffer", ErrMalformedPacket)
	}
	for _, p := range data[term:padded] {
		if p != 0 {
			return "", nil, fmt.Errorf("%w: nonzero string padding", ErrMalformedPacket)
		}
	}
	return string(data[:term]), data[padded:], nil
}
