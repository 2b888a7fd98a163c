package compressio_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/projg2/gemato-go/internal/compressio"
)

func TestFormatFromSuffix(t *testing.T) {
	cases := map[string]compressio.Format{
		"Manifest":          compressio.None,
		"Manifest.gz":       compressio.Gzip,
		"Manifest.bz2":      compressio.Bzip2,
		"Manifest.xz":       compressio.XZ,
		"dir/Manifest.gz":   compressio.Gzip,
		"ebuild-1.0.ebuild": compressio.None,
	}
	for name, want := range cases {
		if got := compressio.FormatFromSuffix(name); got != want {
			t.Errorf("FormatFromSuffix(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestAtomicWriterRoundTrip(t *testing.T) {
	for _, format := range []compressio.Format{compressio.None, compressio.Gzip, compressio.Bzip2, compressio.XZ} {
		format := format
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "Manifest"+format.Suffix())
			want := []byte("TIMESTAMP 2023-01-01T00:00:00Z\nDATA file.txt 123 SHA256 abcdef\n")

			w, err := compressio.NewAtomicWriter(path)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := w.Write(want); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			r, err := compressio.OpenReader(path)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(want) {
				t.Fatalf("round trip mismatch: got %q, want %q", got, want)
			}
		})
	}
}

func TestAtomicWriterLeavesNoPartialFileOnAbort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Manifest")

	w, err := compressio.NewAtomicWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	if err := w.Abort(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to not exist after abort, stat err = %v", path, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, found %v", entries)
	}
}

func TestAtomicWriterPreservesPreviousContentUntilClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Manifest")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := compressio.NewAtomicWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("new")); err != nil {
		t.Fatal(err)
	}

	// before Close, readers still see the old contents.
	old, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(old) != "old" {
		t.Fatalf("expected old contents before close, got %q", old)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	updated, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(updated) != "new" {
		t.Fatalf("expected new contents after close, got %q", updated)
	}
}
