package tree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/internal/pathutil"
	"github.com/projg2/gemato-go/manifest"
)

// VerifyOptions configures AssertDirectoryVerifies.
type VerifyOptions struct {
	// FailFast stops at the first error instead of accumulating every
	// mismatch before failing.
	FailFast bool
	// CheckDist additionally verifies DIST entries against files found
	// in Distdir. Off by default, since distfiles live outside the
	// tree proper.
	CheckDist bool
	Distdir   string
}

// AssertDirectoryVerifies enumerates filesystem paths under subtree,
// resolves coverage for each, and checks size then hashes for entries
// that require presence. By default every mismatch is collected and
// reported together; pass FailFast to stop at the first one.
func (t *Tree) AssertDirectoryVerifies(ctx context.Context, subtree string, opts VerifyOptions) error {
	var errs []error
	report := func(err error) error {
		if opts.FailFast {
			return err
		}
		errs = append(errs, err)
		return nil
	}

	seen := make(map[string]bool)
	walkErr := filepath.WalkDir(t.absPath(subtree), func(absPath string, d os.DirEntry, err error) error {
		if err != nil {
			if stopErr := report(IOFailureError{Path: absPath, Cause: err}); stopErr != nil {
				return stopErr
			}
			return nil
		}
		rel, err := filepath.Rel(t.rootDir, absPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if _, base := pathutil.Split(rel); strings.HasPrefix(base, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if t.isManifestDir(rel) || t.Ignored(rel) {
				return nil
			}
			return nil
		}
		if strings.HasSuffix(rel, "/Manifest") || rel == "Manifest" ||
			hasCompressedManifestSuffix(rel) {
			// manifest files themselves were already digest-verified
			// while loading the chain (verifySubManifestDigest); mark
			// them seen so the missing-file pass doesn't re-flag them.
			seen[rel] = true
			return nil
		}
		seen[rel] = true

		if t.Ignored(rel) {
			return nil
		}
		entry, _, ok := t.Cover(rel)
		if !ok {
			if stopErr := report(UnexpectedFileError{Path: rel}); stopErr != nil {
				return stopErr
			}
			return nil
		}
		if err := t.verifyEntry(rel, entry); err != nil {
			if stopErr := report(err); stopErr != nil {
				return stopErr
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	for _, path := range t.coveredMissingPaths(subtree, seen) {
		if stopErr := report(MissingFileError{Path: path}); stopErr != nil {
			return stopErr
		}
	}

	if opts.CheckDist {
		if err := t.verifyDistEntries(subtree, opts.Distdir, report); err != nil {
			return err
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// verifyDistEntries checks every DIST entry recorded by a manifest
// covering subtree against a same-named file in distdir. DIST entries
// are never part of the coverage index (they name distfiles, which live
// outside the tree), so they are walked directly from the loaded
// manifests instead of through the filesystem walk above.
func (t *Tree) verifyDistEntries(subtree, distdir string, report func(error) error) error {
	for dir, f := range t.manifests {
		if !pathutil.HasPrefixDir(dir, subtree) {
			continue
		}
		for _, e := range f.Entries {
			dist, ok := e.(manifest.DistEntry)
			if !ok {
				continue
			}
			if err := t.verifyDistEntry(distdir, dist); err != nil {
				if stopErr := report(err); stopErr != nil {
					return stopErr
				}
			}
		}
	}
	return nil
}

func (t *Tree) verifyDistEntry(distdir string, entry manifest.DistEntry) error {
	absPath := filepath.Join(distdir, entry.Path)
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return MissingFileError{Path: entry.Path}
		}
		return IOFailureError{Path: entry.Path, Cause: err}
	}
	if info.Size() != entry.Size {
		return SizeMismatchError{Path: entry.Path, Expected: entry.Size, Got: info.Size()}
	}
	f, err := os.Open(absPath)
	if err != nil {
		return IOFailureError{Path: entry.Path, Cause: err}
	}
	defer f.Close()
	sums, _, err := digest.Multiplex(f, entry.Digests.Algorithms()...)
	if err != nil {
		return err
	}
	for _, alg := range entry.Digests.Algorithms() {
		if sums[alg] != entry.Digests[alg] {
			return HashMismatchError{Path: entry.Path, Algorithm: alg, Expected: entry.Digests[alg], Got: sums[alg]}
		}
	}
	return nil
}

// coveredMissingPaths returns covered paths under subtree that require
// presence (DATA/MANIFEST/EBUILD/AUX) but were not observed during the
// walk, in sorted order.
func (t *Tree) coveredMissingPaths(subtree string, seen map[string]bool) []string {
	var out []string
	for path, ce := range t.coverage {
		if !pathutil.HasPrefixDir(path, subtree) {
			continue
		}
		if seen[path] {
			continue
		}
		switch ce.Entry.(type) {
		case manifest.DataEntry, manifest.EbuildEntry, manifest.AuxEntry, manifest.ManifestEntry:
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tree) isManifestDir(rel string) bool {
	_, ok := t.manifests[rel]
	return ok
}

func hasCompressedManifestSuffix(rel string) bool {
	for _, suffix := range []string{"/Manifest.gz", "/Manifest.bz2", "/Manifest.xz"} {
		if strings.HasSuffix(rel, suffix) {
			return true
		}
	}
	return rel == "Manifest.gz" || rel == "Manifest.bz2" || rel == "Manifest.xz"
}

// verifyEntry checks a single covered, present file against its entry:
// size first (cheap), then digests. OPTIONAL and MISC tolerate absence
// elsewhere; here the file is known to exist, so only content is
// checked (OPTIONAL is never checked even if present).
func (t *Tree) verifyEntry(path string, entry manifest.Entry) error {
	if _, ok := entry.(manifest.OptionalEntry); ok {
		return nil
	}
	ref, ok := manifest.FileRefOf(entry)
	if !ok {
		return nil
	}
	info, err := os.Stat(t.absPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return MissingFileError{Path: path}
		}
		return IOFailureError{Path: path, Cause: err}
	}
	if info.Size() != ref.Size {
		return SizeMismatchError{Path: path, Expected: ref.Size, Got: info.Size()}
	}
	f, err := os.Open(t.absPath(path))
	if err != nil {
		return IOFailureError{Path: path, Cause: err}
	}
	defer f.Close()
	sums, _, err := digest.Multiplex(f, ref.Digests.Algorithms()...)
	if err != nil {
		return err
	}
	for _, alg := range ref.Digests.Algorithms() {
		if sums[alg] != ref.Digests[alg] {
			return HashMismatchError{Path: path, Algorithm: alg, Expected: ref.Digests[alg], Got: sums[alg]}
		}
	}
	return nil
}

// AssertPathVerifies verifies a single path against whatever manifest
// chain is already loaded into t. Callers that only need to check one
// path should build t with LoadPath rather than Load, so only the chain
// covering path is loaded in the first place.
func (t *Tree) AssertPathVerifies(ctx context.Context, path string) error {
	normalized, err := pathutil.Normalize(path)
	if err != nil {
		return err
	}
	if t.Ignored(normalized) {
		return nil
	}
	entry, _, ok := t.Cover(normalized)
	if !ok {
		return UnexpectedFileError{Path: normalized}
	}
	if _, err := os.Stat(t.absPath(normalized)); err != nil {
		if os.IsNotExist(err) {
			if isAbsenceTolerant(entry) {
				return nil
			}
			return MissingFileError{Path: normalized}
		}
		return IOFailureError{Path: normalized, Cause: err}
	}
	return t.verifyEntry(normalized, entry)
}

func isAbsenceTolerant(e manifest.Entry) bool {
	switch e.(type) {
	case manifest.MiscEntry, manifest.OptionalEntry:
		return true
	default:
		return false
	}
}
