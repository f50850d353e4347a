package proto

import "fmt"

// HmacTagSize is the fixed width of a HmacSha256Tag on the wire.
const HmacTagSize = 32

// HmacSha256Tag is a fixed-width SHA-256 HMAC tag. It is opaque to the
// agent: the agent never computes or verifies one itself, it only carries
// the bytes the signing service already produced as part of a
// RegisterRequest (see internal/signclient and internal/tunnel).
type HmacSha256Tag [HmacTagSize]byte

// AsBytes returns the tag's 32 raw bytes.
func (t HmacSha256Tag) AsBytes() []byte {
	return t[:]
}

// Encode appends the tag's 32 bytes to dst.
func (t HmacSha256Tag) Encode(dst []byte) []byte {
	return append(dst, t[:]...)
}

// DecodeHmacSha256Tag reads a fixed 32-byte tag from buf, returning the
// tag and the number of bytes consumed.
func DecodeHmacSha256Tag(buf []byte) (HmacSha256Tag, int, error) {
	var tag HmacSha256Tag
	c := newCursor(buf)
	raw, err := c.bytesN(HmacTagSize)
	if err != nil {
		return tag, 0, fmt.Errorf("hmac tag: %w", err)
	}
	copy(tag[:], raw)
	return tag, consumed(len(buf), c), nil
}
