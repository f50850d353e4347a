package proto_test

import (
	"bytes"
	"testing"

	"github.com/dantte-lp/tunnel-agent/internal/proto"
)

func TestHmacSha256Tag_RoundTrip(t *testing.T) {
	t.Parallel()

	var tag proto.HmacSha256Tag
	for i := range tag {
		tag[i] = byte(i)
	}

	encoded := tag.Encode(nil)
	if len(encoded) != proto.HmacTagSize {
		t.Fatalf("encoded length %d, want %d", len(encoded), proto.HmacTagSize)
	}

	got, n, err := proto.DecodeHmacSha256Tag(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != proto.HmacTagSize || got != tag {
		t.Fatalf("got %+v, want %+v", got, tag)
	}
	if !bytes.Equal(got.AsBytes(), tag.AsBytes()) {
		t.Fatal("AsBytes mismatch after round trip")
	}
}

func TestDecodeHmacSha256Tag_ShortInput(t *testing.T) {
	t.Parallel()

	if _, _, err := proto.DecodeHmacSha256Tag(make([]byte, proto.HmacTagSize-1)); err == nil {
		t.Fatal("expected error for short input")
	}
}
