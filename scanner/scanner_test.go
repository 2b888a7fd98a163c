package scanner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/scanner"
)

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a"), "hello\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "sub", "b"), "world\n")
	if err := os.Mkdir(filepath.Join(dir, "excluded"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "excluded", "c"), "skip me\n")
	mustWrite(t, filepath.Join(dir, ".dotfile"), "invisible\n")
	return dir
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanProducesSortedResultsHonoringIgnoreAndDotfiles(t *testing.T) {
	dir := writeTree(t)
	results, err := scanner.Scan(context.Background(), scanner.Options{
		Root:       dir,
		Algorithms: []digest.Algorithm{digest.SHA256},
		Ignore: func(path string) bool {
			return path == "excluded"
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("unexpected error for %s: %v", r.Path, r.Err)
		}
		paths = append(paths, r.Path)
	}
	want := []string{"a", "sub/b"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("paths = %v, want %v", paths, want)
		}
	}
}

func TestScanReportsPerFileIOErrorWithoutAbortingWalk(t *testing.T) {
	dir := writeTree(t)
	unreadable := filepath.Join(dir, "unreadable")
	mustWrite(t, unreadable, "secret\n")
	if err := os.Chmod(unreadable, 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(unreadable, 0o644)
	if os.Geteuid() == 0 {
		t.Skip("running as root, permission bits have no effect")
	}

	results, err := scanner.Scan(context.Background(), scanner.Options{
		Root:       dir,
		Algorithms: []digest.Algorithm{digest.SHA256},
		Ignore:     func(string) bool { return false },
	})
	if err != nil {
		t.Fatal(err)
	}
	foundGood, foundBad := false, false
	for _, r := range results {
		switch r.Path {
		case "a":
			foundGood = r.Err == nil
		case "unreadable":
			foundBad = r.Err != nil
		}
	}
	if !foundGood {
		t.Error("expected 'a' to scan successfully alongside the unreadable file")
	}
	if !foundBad {
		t.Error("expected 'unreadable' to report an error")
	}
}
