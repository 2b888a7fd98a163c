package digest_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/projg2/gemato-go/internal/digest"
)

func TestMultiplexMatchesReferenceDigest(t *testing.T) {
	data := []byte("hello\n")
	sums, size, err := digest.Multiplex(bytes.NewReader(data), digest.SHA256, digest.SHA512)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(data)) {
		t.Fatalf("size = %d, want %d", size, len(data))
	}
	want := sha256.Sum256(data)
	if sums[digest.SHA256] != hex.EncodeToString(want[:]) {
		t.Fatalf("sha256 = %q, want %q", sums[digest.SHA256], hex.EncodeToString(want[:]))
	}
	if len(sums[digest.SHA512]) != 128 {
		t.Fatalf("sha512 hex length = %d, want 128", len(sums[digest.SHA512]))
	}
}

func TestMultiplexUnsupportedHashFailsBeforeIO(t *testing.T) {
	_, _, err := digest.Multiplex(bytes.NewReader([]byte("x")), digest.WHIRLPOOL)
	var unsupported digest.ErrUnsupportedHash
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestSetEqual(t *testing.T) {
	a := digest.Set{digest.SHA256: "abc"}
	b := digest.Set{digest.SHA256: "abc", digest.SHA512: "def"}
	if !a.Equal(b) {
		t.Fatal("expected sets sharing a matching algorithm to be equal")
	}
	c := digest.Set{digest.SHA256: "different"}
	if a.Equal(c) {
		t.Fatal("expected mismatched digests to be unequal")
	}
	if (digest.Set{}).Equal(digest.Set{}) {
		t.Fatal("expected empty sets to never be equal")
	}
}
