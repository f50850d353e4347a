package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Sentinel errors
// -------------------------------------------------------------------------

var (
	// ErrUnexpectedEOF indicates the input was shorter than the type being
	// decoded requires. Each primitive read checks the remaining length
	// before reading; a decoder of several fields does not check the total
	// up front, so it may have read its leading fields when this is
	// returned, and then yields no value.
	ErrUnexpectedEOF = errors.New("proto: unexpected end of input")

	// ErrInvalidDiscriminant indicates a tagged type's discriminant byte
	// or word did not match any known variant.
	ErrInvalidDiscriminant = errors.New("proto: invalid discriminant")

	// ErrBufTooSmall indicates a caller-provided fixed buffer cannot hold
	// the encoded form of a value.
	ErrBufTooSmall = errors.New("proto: buffer too small")
)

// cursor reads big-endian primitives off the front of a byte slice,
// advancing as it goes. It never panics: every read is preceded by a
// length check against ErrUnexpectedEOF.
type cursor struct {
	buf []byte
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf)
}

func (c *cursor) need(n int) error {
	if len(c.buf) < n {
		return fmt.Errorf("need %d bytes, have %d: %w", n, len(c.buf), ErrUnexpectedEOF)
	}
	return nil
}

func (c *cursor) uint8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[0]
	c.buf = c.buf[1:]
	return v, nil
}

func (c *cursor) uint16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf)
	c.buf = c.buf[2:]
	return v, nil
}

func (c *cursor) uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf)
	c.buf = c.buf[4:]
	return v, nil
}

func (c *cursor) uint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf)
	c.buf = c.buf[8:]
	return v, nil
}

func (c *cursor) uint128() ([16]byte, error) {
	var out [16]byte
	if err := c.need(16); err != nil {
		return out, err
	}
	copy(out[:], c.buf[:16])
	c.buf = c.buf[16:]
	return out, nil
}

// bytesN copies exactly n bytes from the cursor. The returned slice is a
// copy, never an alias of the caller's input buffer, so the decoded value
// outlives the buffer it was parsed from.
func (c *cursor) bytesN(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	c.buf = c.buf[n:]
	return out, nil
}

// bytesU64 copies a Vec<u8>'s n bytes, where n arrives off the wire as a
// u64 length prefix. Checking against remaining() before narrowing to int
// keeps a length at or above 2^63 (or anything over len(c.buf)) from
// wrapping negative on the int(n) conversion that bytesN's caller would
// otherwise need to do itself — a negative n would slip past need(n)
// (len(buf) < negative is false) and panic in make([]byte, n).
func (c *cursor) bytesU64(n uint64) ([]byte, error) {
	if n > uint64(c.remaining()) {
		return nil, fmt.Errorf("need %d bytes, have %d: %w", n, c.remaining(), ErrUnexpectedEOF)
	}
	return c.bytesN(int(n))
}

// consumed reports how many bytes have been read out of the original
// slice passed to newCursor, given the original length.
func consumed(orig int, c *cursor) int {
	return orig - len(c.buf)
}

// -------------------------------------------------------------------------
// Optional<T> helpers — one discriminant byte: 0 absent, 1 present.
// -------------------------------------------------------------------------

const (
	optionalAbsent  = 0
	optionalPresent = 1
)

func appendOptionalUint64(dst []byte, v *uint64) []byte {
	if v == nil {
		return append(dst, optionalAbsent)
	}
	dst = append(dst, optionalPresent)
	return binary.BigEndian.AppendUint64(dst, *v)
}

func (c *cursor) optionalUint64() (*uint64, error) {
	tag, err := c.uint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case optionalAbsent:
		return nil, nil
	case optionalPresent:
		v, err := c.uint64()
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("optional<u64> tag %d: %w", tag, ErrInvalidDiscriminant)
	}
}
