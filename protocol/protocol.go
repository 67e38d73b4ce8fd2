// Package protocol holds the wire constants of the connector object stream and
// the stream prologue that opens every connection.
//
// A stream starts with a fixed 8-byte prologue, written once before the first
// top-level message and never again on the same stream:
//
//	0          4          8
//	┌──────────┬──────────┬───────────────────────────────┐
//	│  magic   │ version  │ message, message, ...         │
//	│  int32   │  int32   │                               │
//	└──────────┴──────────┴───────────────────────────────┘
//
// Every message is a constant pool followed by one object frame:
//
//	pool:   count:int32, count × (len:int32 utf8, code:int32)
//	frame:  typeTag:byte, [name:int32 | nested type], fields..., END
//	field:  ANON | NAMED name:int32, len:int32, payload
//
// All integers are big-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic      int32 = 0xFAFB
	Version    int32 = 2
	HeaderSize int   = 8 // 4 (magic) + 4 (version)
)

// Object type tags.
const (
	TypeNull  byte = 60
	TypeClass byte = 61
	TypeArray byte = 62
)

// Field tags.
const (
	FieldAnonymous byte = 70
	FieldNamed     byte = 71
	FieldEnd       byte = 72
)

// MaxFieldLength bounds a single field payload. Larger lengths are treated as a
// corrupt stream rather than an allocation request.
const MaxFieldLength = 256 << 20

var (
	// ErrProtocol is wrapped by every framing failure. These are fatal to the
	// stream and never retryable.
	ErrProtocol           = errors.New("protocol error")
	ErrBadMagic           = fmt.Errorf("%w: invalid magic number", ErrProtocol)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrProtocol)
)

// Errorf builds an error wrapping ErrProtocol.
func Errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// WriteHeader writes the stream prologue.
func WriteHeader(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(Magic))
	binary.BigEndian.PutUint32(buf[4:8], uint32(Version))
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates the stream prologue. It returns the version
// announced by the peer. Versions above Version are rejected; older versions
// are accepted since framing has not changed incompatibly.
func ReadHeader(r io.Reader) (int32, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	magic := int32(binary.BigEndian.Uint32(buf[0:4]))
	if magic != Magic {
		return 0, fmt.Errorf("%w: %#x", ErrBadMagic, magic)
	}

	version := int32(binary.BigEndian.Uint32(buf[4:8]))
	if version < 1 || version > Version {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return version, nil
}
