// Package tree implements the recursive manifest loader and verifier:
// the loaded-manifest graph, the coverage index that answers "which
// manifest covers path P", and the verify/create/update operations built
// on top of it.
package tree

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/projg2/gemato-go/internal/compressio"
	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/internal/pathutil"
	"github.com/projg2/gemato-go/manifest"
	"github.com/projg2/gemato-go/openpgp"
)

// coverageEntry is the authoritative (manifest, entry) pair for one
// tree-relative path.
type coverageEntry struct {
	ManifestDir string
	Entry       manifest.Entry
}

// Tree is the loaded-manifest graph for one filesystem root: a flat
// collection of ManifestFiles keyed by the directory they cover, plus a
// derived coverage index. References between manifests are by key (the
// covering directory), not by owning handle, so the collection can be
// mutated (on update) without invalidating other manifests' references.
type Tree struct {
	rootDir string // filesystem path the tree root corresponds to

	mu        sync.Mutex
	manifests map[string]*manifest.File // key: Dir ("" for root)
	coverage  map[string]coverageEntry
	ignores   []string // tree-relative paths with an IGNORE entry, masking everything beneath

	envelope      *openpgp.Envelope
	requireSigned bool

	busySubtrees map[string]bool
}

// LoadOptions configures Load.
type LoadOptions struct {
	// Envelope, if non-nil, is used to verify the root manifest's
	// OpenPGP clearsign signature.
	Envelope *openpgp.Envelope
	// RequireSigned fails loading if the root manifest carries no
	// signature (or Envelope is nil).
	RequireSigned bool
}

// Load opens and parses the root manifest (named "Manifest" by
// convention) at rootDir, recursively loads every reachable sub-manifest,
// verifying each one's digest against its parent's record before
// descending, and builds the coverage index in one pass once loading
// completes. Cycles in MANIFEST references are an error.
func Load(ctx context.Context, rootDir string, opts LoadOptions) (*Tree, error) {
	t := &Tree{
		rootDir:       rootDir,
		manifests:     make(map[string]*manifest.File),
		envelope:      opts.Envelope,
		requireSigned: opts.RequireSigned,
		busySubtrees:  make(map[string]bool),
	}
	if err := t.loadRecursive(ctx, "", nil); err != nil {
		return nil, err
	}
	if err := t.rebuildCoverage(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadPath loads only the manifest chain needed to cover path: the root
// manifest, then each sub-manifest on the way down to whichever one
// covers path, skipping every sibling sub-manifest not on that path.
// Use this instead of Load when the caller only needs to check one
// path, to avoid pulling in the whole reachable manifest graph.
func LoadPath(ctx context.Context, rootDir, path string, opts LoadOptions) (*Tree, error) {
	normalized, err := pathutil.Normalize(path)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		rootDir:       rootDir,
		manifests:     make(map[string]*manifest.File),
		envelope:      opts.Envelope,
		requireSigned: opts.RequireSigned,
		busySubtrees:  make(map[string]bool),
	}
	if err := t.loadChainFor(ctx, normalized, nil); err != nil {
		return nil, err
	}
	if err := t.rebuildCoverage(); err != nil {
		return nil, err
	}
	return t, nil
}

// manifestFilePath returns the on-disk path of the manifest file covering
// dir, trying each known compression suffix in turn. dir == "" is the
// tree root.
func (t *Tree) manifestFilePath(dir string) (string, error) {
	base := "Manifest"
	if dir != "" {
		base = dir + "/Manifest"
	}
	candidates := []string{base, base + ".gz", base + ".bz2", base + ".xz"}
	for _, candidate := range candidates {
		abs := t.absPath(candidate)
		if _, err := os.Stat(abs); err == nil {
			return candidate, nil
		}
	}
	return "", IOFailureError{Path: base, Cause: os.ErrNotExist}
}

func (t *Tree) absPath(treeRelative string) string {
	if treeRelative == "" {
		return t.rootDir
	}
	return t.rootDir + string(os.PathSeparator) + filepathFromSlash(treeRelative)
}

func filepathFromSlash(p string) string {
	if os.PathSeparator == '/' {
		return p
	}
	return strings.ReplaceAll(p, "/", string(os.PathSeparator))
}

// loadManifestAt loads and parses the manifest covering dir, if not
// already loaded, verifying the root signature when dir is the tree
// root. It does not look at the manifest's own MANIFEST entries; callers
// decide which, if any, children to descend into.
func (t *Tree) loadManifestAt(ctx context.Context, dir string) (*manifest.File, error) {
	if f, ok := t.manifests[dir]; ok {
		return f, nil
	}

	manifestPath, err := t.manifestFilePath(dir)
	if err != nil {
		return nil, err
	}
	raw, err := readManifestBytes(t.absPath(manifestPath))
	if err != nil {
		return nil, IOFailureError{Path: manifestPath, Cause: err}
	}

	if dir == "" {
		if err := t.verifyRootSignature(ctx, manifestPath, raw); err != nil {
			return nil, err
		}
	}

	f, err := manifest.Parse(raw, manifestPath)
	if err != nil {
		return nil, err
	}
	f.Dir = dir
	f.Compression = compressio.FormatFromSuffix(manifestPath)
	t.manifests[dir] = f
	return f, nil
}

// loadRecursive loads the manifest covering dir (if not already loaded)
// and recurses into every MANIFEST entry it contains. visiting tracks
// the current descent path for cycle detection. This is the eager,
// whole-graph loader Load uses; loadChainFor is its lazy counterpart.
func (t *Tree) loadRecursive(ctx context.Context, dir string, visiting map[string]bool) error {
	if _, ok := t.manifests[dir]; ok {
		return nil
	}
	if visiting == nil {
		visiting = make(map[string]bool)
	}
	if visiting[dir] {
		return CycleError{Path: dir}
	}
	visiting[dir] = true

	f, err := t.loadManifestAt(ctx, dir)
	if err != nil {
		return err
	}

	for _, ref := range f.ManifestRefs() {
		childPath := pathutil.Join(dir, ref.Path)
		childDir, _ := pathutil.Split(childPath)

		if err := t.verifySubManifestDigest(childPath, ref.FileRef); err != nil {
			return InvalidSubManifestHashError{Parent: f.Path, Child: childPath}
		}
		if err := t.loadRecursive(ctx, childDir, visiting); err != nil {
			return err
		}
	}
	delete(visiting, dir)
	return nil
}

// loadChainFor loads only the manifests on the path from the tree root
// down to whichever one covers target: at each directory it loads that
// directory's manifest, then descends into at most one MANIFEST entry
// (the one whose directory target lies under), instead of every
// MANIFEST entry the way loadRecursive does. This is
// load_manifests_for_path: the lazy-loading primitive LoadPath exposes.
func (t *Tree) loadChainFor(ctx context.Context, target string, visiting map[string]bool) error {
	if visiting == nil {
		visiting = make(map[string]bool)
	}
	dir := ""
	for {
		if visiting[dir] {
			return CycleError{Path: dir}
		}
		visiting[dir] = true

		f, err := t.loadManifestAt(ctx, dir)
		if err != nil {
			return err
		}

		nextDir, ok := "", false
		for _, ref := range f.ManifestRefs() {
			childPath := pathutil.Join(dir, ref.Path)
			childDir, _ := pathutil.Split(childPath)
			if !pathutil.HasPrefixDir(target, childDir) {
				continue
			}
			if err := t.verifySubManifestDigest(childPath, ref.FileRef); err != nil {
				return InvalidSubManifestHashError{Parent: f.Path, Child: childPath}
			}
			nextDir, ok = childDir, true
			break
		}
		if !ok {
			return nil
		}
		dir = nextDir
	}
}

// readManifestBytes reads a manifest file's raw bytes, decompressing by
// suffix.
func readManifestBytes(absPath string) ([]byte, error) {
	r, err := compressio.OpenReader(absPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (t *Tree) verifyRootSignature(ctx context.Context, manifestPath string, raw []byte) error {
	if t.envelope == nil || !t.envelope.Available() {
		if t.requireSigned {
			return OpenPGPRequiredError{Path: manifestPath}
		}
		return nil
	}
	signed := strings.Contains(string(raw), "-----BEGIN PGP SIGNED MESSAGE-----")
	if !signed {
		if t.requireSigned {
			return OpenPGPRequiredError{Path: manifestPath}
		}
		return nil
	}
	result, err := t.envelope.Verify(ctx, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	_ = result
	return nil
}

func (t *Tree) verifySubManifestDigest(childPath string, ref manifest.FileRef) error {
	f, err := os.Open(t.absPath(childPath))
	if err != nil {
		return err
	}
	defer f.Close()
	sums, size, err := digest.Multiplex(f, ref.Digests.Algorithms()...)
	if err != nil {
		return err
	}
	if size != ref.Size {
		return SizeMismatchError{Path: childPath, Expected: ref.Size, Got: size}
	}
	if !sums.Equal(ref.Digests) {
		return HashMismatchError{Path: childPath}
	}
	return nil
}

// rebuildCoverage rebuilds the coverage index from scratch, processing
// manifests shallowest-first so a deeper manifest's entry for the same
// path overrides a shallower one's (more specific wins); two manifests
// at the same depth both naming the same path is a duplicate-coverage
// error.
func (t *Tree) rebuildCoverage() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	coverage := make(map[string]coverageEntry)
	var ignores []string

	dirs := make([]string, 0, len(t.manifests))
	for dir := range t.manifests {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool { return depth(dirs[i]) < depth(dirs[j]) })

	for _, dir := range dirs {
		f := t.manifests[dir]
		for _, e := range f.Entries {
			if e.Tag() == manifest.Timestamp || e.Tag() == manifest.Dist {
				continue
			}
			if ig, ok := e.(manifest.IgnoreEntry); ok {
				ignores = append(ignores, pathutil.Join(dir, ig.Path))
				continue
			}
			path := pathutil.Join(dir, manifest.Path(e))
			existing, ok := coverage[path]
			if ok {
				if depth(existing.ManifestDir) == depth(dir) && existing.ManifestDir != dir {
					return DuplicateCoverageError{Path: path, ManifestA: existing.ManifestDir, ManifestB: dir}
				}
				if depth(existing.ManifestDir) >= depth(dir) {
					continue
				}
			}
			coverage[path] = coverageEntry{ManifestDir: dir, Entry: e}
		}
	}

	t.coverage = coverage
	t.ignores = ignores
	return nil
}

func depth(dir string) int {
	if dir == "" {
		return 0
	}
	return strings.Count(dir, "/") + 1
}

// Ignored reports whether path is masked by an inherited IGNORE entry.
func (t *Tree) Ignored(path string) bool {
	for _, ig := range t.ignores {
		if pathutil.HasPrefixDir(path, ig) {
			return true
		}
	}
	return false
}

// Cover returns the authoritative entry covering path and the directory
// of the manifest that supplies it, or false if path is neither covered
// nor ignored.
func (t *Tree) Cover(path string) (manifest.Entry, string, bool) {
	if e, ok := t.coverage[path]; ok {
		return e.Entry, e.ManifestDir, true
	}
	return nil, "", false
}

// Manifests returns every loaded manifest, keyed by the directory it
// covers ("" for the root).
func (t *Tree) Manifests() map[string]*manifest.File {
	return t.manifests
}
