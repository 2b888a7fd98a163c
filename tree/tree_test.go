package tree_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/projg2/gemato-go/internal/compressio"
	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/manifest"
	"github.com/projg2/gemato-go/profile"
	"github.com/projg2/gemato-go/tree"
)

func flatProfile() profile.Profile {
	return profile.Profile{
		HashSet:     []digest.Algorithm{digest.SHA256},
		Compression: compressio.None,
		ShouldSplit: func(string, int) bool { return false },
		Classify:    func(string) manifest.Tag { return manifest.Data },
	}
}

func splittingProfile() profile.Profile {
	return profile.Profile{
		HashSet:     []digest.Algorithm{digest.SHA256},
		Compression: compressio.None,
		ShouldSplit: func(dirPath string, _ int) bool { return dirPath == "sub" },
		Classify:    func(string) manifest.Tag { return manifest.Data },
	}
}

func writeSimpleTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a"), "hello\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "sub", "b"), "world\n")
	return dir
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// S1: a freshly created tree verifies clean.
func TestCreateThenVerifySucceeds(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)

	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, err := tree.Load(ctx, dir, tree.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loaded.AssertDirectoryVerifies(ctx, "", tree.VerifyOptions{}); err != nil {
		t.Fatalf("AssertDirectoryVerifies: %v", err)
	}
}

// S2: mutating a covered file's content behind the manifest's back is
// caught as a hash mismatch.
func TestMutatedFileFailsVerification(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)
	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mustWrite(t, filepath.Join(dir, "a"), "world\n")

	loaded, err := tree.Load(ctx, dir, tree.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = loaded.AssertDirectoryVerifies(ctx, "", tree.VerifyOptions{})
	if err == nil {
		t.Fatal("expected verification failure")
	}
	var mismatch tree.HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected HashMismatchError, got %v", err)
	}
	if mismatch.Path != "a" {
		t.Errorf("mismatch path = %q, want %q", mismatch.Path, "a")
	}
}

// S3: a file with no covering entry is reported as stray rather than
// silently ignored.
func TestStrayFileIsReportedUnexpected(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)
	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mustWrite(t, filepath.Join(dir, "new-file"), "surprise\n")

	loaded, err := tree.Load(ctx, dir, tree.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = loaded.AssertDirectoryVerifies(ctx, "", tree.VerifyOptions{})
	var stray tree.UnexpectedFileError
	if !errors.As(err, &stray) {
		t.Fatalf("expected UnexpectedFileError, got %v", err)
	}
	if stray.Path != "new-file" {
		t.Errorf("stray path = %q, want %q", stray.Path, "new-file")
	}
}

// A covered file that has been deleted is reported missing.
func TestDeletedFileIsReportedMissing(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)
	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "sub", "b")); err != nil {
		t.Fatal(err)
	}

	loaded, err := tree.Load(ctx, dir, tree.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = loaded.AssertDirectoryVerifies(ctx, "", tree.VerifyOptions{})
	var missing tree.MissingFileError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFileError, got %v", err)
	}
}

// S4: a sub-manifest chain verifies when intact, and a tampered
// sub-manifest file is caught at load time as a trust-chain break.
func TestSubManifestChainLoadsAndDetectsTampering(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)
	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: splittingProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub", "Manifest")); err != nil {
		t.Fatalf("expected sub/Manifest to exist: %v", err)
	}

	loaded, err := tree.Load(ctx, dir, tree.LoadOptions{})
	if err != nil {
		t.Fatalf("Load of intact chain: %v", err)
	}
	if err := loaded.AssertDirectoryVerifies(ctx, "", tree.VerifyOptions{}); err != nil {
		t.Fatalf("AssertDirectoryVerifies: %v", err)
	}

	mustWrite(t, filepath.Join(dir, "sub", "Manifest"), "DATA b 999999\n")

	_, err = tree.Load(ctx, dir, tree.LoadOptions{})
	var invalid tree.InvalidSubManifestHashError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSubManifestHashError, got %v", err)
	}
}

// S5: after a covered file changes, Update rewrites the manifest and
// the tree verifies clean both in memory and after a fresh Load.
func TestUpdateAfterChangeVerifiesClean(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)
	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mustWrite(t, filepath.Join(dir, "a"), "updated content\n")

	loaded, err := tree.Load(ctx, dir, tree.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loaded.Update(ctx, "", tree.UpdateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := loaded.AssertDirectoryVerifies(ctx, "", tree.VerifyOptions{}); err != nil {
		t.Fatalf("AssertDirectoryVerifies after Update: %v", err)
	}

	reloaded, err := tree.Load(ctx, dir, tree.LoadOptions{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := reloaded.AssertDirectoryVerifies(ctx, "", tree.VerifyOptions{}); err != nil {
		t.Fatalf("reloaded tree verification: %v", err)
	}
}

// S6: a path escaping the tree root is rejected before any filesystem
// lookup happens.
func TestAssertPathVerifiesRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)
	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	loaded, err := tree.Load(ctx, dir, tree.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loaded.AssertPathVerifies(ctx, "../outside"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

// S6b: a manifest-authored path that escapes the tree root is rejected
// at load time, before the loader ever opens the file it names.
func TestLoadRejectsManifestAuthoredTraversal(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)
	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "Manifest"))
	if err != nil {
		t.Fatalf("reading Manifest: %v", err)
	}
	tampered := string(raw) + "DATA ../outside 6 SHA256 " +
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824\n"
	mustWrite(t, filepath.Join(dir, "Manifest"), tampered)

	_, err = tree.Load(ctx, dir, tree.LoadOptions{})
	var traversal manifest.TraversalError
	if !errors.As(err, &traversal) {
		t.Fatalf("expected manifest.TraversalError, got %v", err)
	}
}

// S8: requiring a signed root manifest without a usable envelope fails
// loading rather than silently treating the tree as unsigned.
func TestRequireSignedManifestWithoutEnvelopeFails(t *testing.T) {
	ctx := context.Background()
	dir := writeSimpleTree(t)
	if _, err := tree.Create(ctx, dir, tree.CreateOptions{Profile: flatProfile()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := tree.Load(ctx, dir, tree.LoadOptions{RequireSigned: true})
	var required tree.OpenPGPRequiredError
	if !errors.As(err, &required) {
		t.Fatalf("expected OpenPGPRequiredError, got %v", err)
	}
}
