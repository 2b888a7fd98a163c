package manifest_test

import (
	"errors"
	"testing"
	"time"

	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/manifest"
)

func TestRoundTrip(t *testing.T) {
	f := &manifest.File{
		Path: "Manifest",
		Entries: []manifest.Entry{
			manifest.TimestampEntry{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			manifest.DataEntry{FileRef: manifest.FileRef{
				Path: "a/b.txt", Size: 6,
				Digests: digest.Set{digest.SHA256: "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"},
			}},
			manifest.ManifestEntry{FileRef: manifest.FileRef{
				Path: "sub/Manifest", Size: 42,
				Digests: digest.Set{digest.SHA256: "abababababababababababababababababababababababababababababababab"},
			}},
			manifest.IgnoreEntry{Path: "dist"},
			manifest.OptionalEntry{Path: "ChangeLog"},
		},
	}

	out := manifest.Write(f)
	parsed, err := manifest.Parse(out, "Manifest")
	if err != nil {
		t.Fatalf("parse after write: %v", err)
	}
	if len(parsed.Entries) != len(f.Entries) {
		t.Fatalf("entry count = %d, want %d", len(parsed.Entries), len(f.Entries))
	}

	again := manifest.Write(parsed)
	if string(again) != string(out) {
		t.Fatalf("round trip not stable:\n--- first ---\n%s\n--- second ---\n%s", out, again)
	}
}

func TestWriteStableOrder(t *testing.T) {
	f := &manifest.File{
		Entries: []manifest.Entry{
			manifest.DataEntry{FileRef: manifest.FileRef{Path: "z.txt", Size: 1, Digests: digest.Set{digest.SHA256: "aa"}}},
			manifest.DataEntry{FileRef: manifest.FileRef{Path: "a.txt", Size: 1, Digests: digest.Set{digest.SHA256: "bb"}}},
			manifest.ManifestEntry{FileRef: manifest.FileRef{Path: "sub/Manifest", Size: 1, Digests: digest.Set{digest.SHA256: "cc"}}},
		},
	}
	out := string(manifest.Write(f))
	wantOrder := []string{"MANIFEST sub/Manifest", "DATA a.txt", "DATA z.txt"}
	last := -1
	for _, want := range wantOrder {
		idx := indexOf(out, want)
		if idx < 0 {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
		if idx < last {
			t.Fatalf("expected %q to come after previous entries, got:\n%s", want, out)
		}
		last = idx
	}
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestParseRejectsUnknownTag(t *testing.T) {
	_, err := manifest.Parse([]byte("BOGUS foo 1 SHA256 aa\n"), "Manifest")
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
	var synErr manifest.SyntaxError
	if !errors.As(err, &synErr) {
		t.Fatalf("expected SyntaxError, got %v (%T)", err, err)
	}
	if synErr.Line != 1 {
		t.Fatalf("line = %d, want 1", synErr.Line)
	}
}

func TestParseRejectsMalformedSize(t *testing.T) {
	_, err := manifest.Parse([]byte("DATA foo.txt notanumber SHA256 aa\n"), "Manifest")
	if err == nil {
		t.Fatal("expected error for malformed size")
	}
}

func TestParseRejectsOddLengthHex(t *testing.T) {
	_, err := manifest.Parse([]byte("DATA foo.txt 1 SHA256 abc\n"), "Manifest")
	if err == nil {
		t.Fatal("expected error for odd-length hex digest")
	}
}

func TestParseRejectsDuplicateAlgorithm(t *testing.T) {
	_, err := manifest.Parse([]byte("DATA foo.txt 1 SHA256 aa SHA256 bb\n"), "Manifest")
	if err == nil {
		t.Fatal("expected error for duplicated algorithm")
	}
}

func TestParseRejectsDuplicateTimestamp(t *testing.T) {
	_, err := manifest.Parse([]byte(
		"TIMESTAMP 2024-01-01T00:00:00Z\nTIMESTAMP 2024-01-02T00:00:00Z\n"), "Manifest")
	if err == nil {
		t.Fatal("expected error for duplicate TIMESTAMP")
	}
}

func TestParseRejectsMisplacedTimestamp(t *testing.T) {
	_, err := manifest.Parse([]byte(
		"DATA a.txt 1 SHA256 aa\nTIMESTAMP 2024-01-01T00:00:00Z\n"), "Manifest")
	if err == nil {
		t.Fatal("expected error for TIMESTAMP not in first position")
	}
}

func TestEscapedPathRoundTrips(t *testing.T) {
	f := &manifest.File{
		Entries: []manifest.Entry{
			manifest.DataEntry{FileRef: manifest.FileRef{
				Path: "a file with spaces.txt", Size: 0, Digests: digest.Set{digest.SHA256: "aa"},
			}},
		},
	}
	out := manifest.Write(f)
	parsed, err := manifest.Parse(out, "Manifest")
	if err != nil {
		t.Fatal(err)
	}
	got := parsed.Entries[0].(manifest.DataEntry).Path
	if got != "a file with spaces.txt" {
		t.Fatalf("path = %q, want %q", got, "a file with spaces.txt")
	}
}

func TestClearsignEnvelopeIsStrippedAndMarkedSigned(t *testing.T) {
	signed := []byte(
		"-----BEGIN PGP SIGNED MESSAGE-----\n" +
			"Hash: SHA256\n" +
			"\n" +
			"TIMESTAMP 2024-01-01T00:00:00Z\n" +
			"DATA a.txt 1 SHA256 aa\n" +
			"-----BEGIN PGP SIGNATURE-----\n" +
			"\n" +
			"iQIzBAEBCAAdFiEE...\n" +
			"-----END PGP SIGNATURE-----\n")
	f, err := manifest.Parse(signed, "Manifest")
	if err != nil {
		t.Fatal(err)
	}
	if !f.Signed {
		t.Fatal("expected Signed = true after stripping a clearsign envelope")
	}
	if len(f.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(f.Entries))
	}
}
