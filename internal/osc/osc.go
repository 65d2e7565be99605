// Package osc implements the OSC 1.0 message codec used by the Behringer X32
// console. Only the argument types the console emits are supported: int32,
// float32, string, and blob. Incoming bundles are recognized and flattened to
// their contained messages.
package osc

import (
	"bytes"
	"errors"
	"fmt"
)

// Sentinel decode errors. Callers match with errors.Is.
var (
	// ErrMalformedPacket indicates a structurally invalid datagram: a length
	// prefix overrunning the buffer, a type-tag string not starting with ',',
	// a string without its terminator, or nonzero alignment padding.
	ErrMalformedPacket = errors.New("osc: malformed packet")

	// ErrUnsupportedType indicates a type-tag character outside i, f, s, b.
	ErrUnsupportedType = errors.New("osc: unsupported type tag")
)

// Kind discriminates the Value sum type.
type Kind byte

const (
	KindInt32   Kind = 'i'
	KindFloat32 Kind = 'f'
	KindString  Kind = 's'
	KindBlob    Kind = 'b'
)

// Value is one OSC argument. Exactly one field is meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Int   int32
	Float float32
	Str   string
	Blob  []byte
}

// Int returns an int32 argument.
func Int(v int32) Value { return Value{Kind: KindInt32, Int: v} }

// Float returns a float32 argument.
func Float(v float32) Value { return Value{Kind: KindFloat32, Float: v} }

// String returns a string argument.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Blob returns a blob argument. The slice is not copied.
func Blob(b []byte) Value { return Value{Kind: KindBlob, Blob: b} }

// Equal reports whether two values have the same kind and payload.
// Blob contents are compared byte for byte.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt32:
		return v.Int == o.Int
	case KindFloat32:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindBlob:
		return bytes.Equal(v.Blob, o.Blob)
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt32:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat32:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindBlob:
		return fmt.Sprintf("blob[%d]", len(v.Blob))
	default:
		return "?"
	}
}

// Message is one OSC message: a slash-delimited address plus typed arguments.
type Message struct {
	Address string
	Args    []Value
}

// NewMessage builds a message from an address and arguments.
func NewMessage(address string, args ...Value) Message {
	return Message{Address: address, Args: args}
}

// TypeTag returns the message's type-tag string including the leading comma.
func (m Message) TypeTag() string {
	tag := make([]byte, 1+len(m.Args))
	tag[0] = ','
	for i, a := range m.Args {
		tag[i+1] = byte(a.Kind)
	}
	return string(tag)
}

// paddedLen returns n rounded up to the next multiple of 4.
// OSC strings include their null terminator in the padded length.
func paddedLen(n int) int {
	return (n + 4) &^ 3
}
