package tree

import (
	"bytes"
	"context"
	"os"
	"strings"
	"time"

	"github.com/projg2/gemato-go/internal/compressio"
	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/internal/pathutil"
	"github.com/projg2/gemato-go/manifest"
	"github.com/projg2/gemato-go/openpgp"
	"github.com/projg2/gemato-go/profile"
	"github.com/projg2/gemato-go/scanner"
)

// CreateOptions configures Create.
type CreateOptions struct {
	Profile profile.Profile
	// SignKeyID signs every manifest written with this OpenPGP key ID.
	// Ignored if Envelope is nil or unavailable.
	SignKeyID string
	Envelope  *openpgp.Envelope
	// Timestamp overrides the TIMESTAMP entry written to the root
	// manifest. The zero value means "use the current time".
	Timestamp time.Time
}

// Create scans rootDir from scratch and writes a fresh manifest chain
// covering it: a MANIFEST-referenced sub-manifest for every directory
// opts.Profile.ShouldSplit selects, everything else folded into its
// parent. It returns the freshly loaded Tree.
func Create(ctx context.Context, rootDir string, opts CreateOptions) (*Tree, error) {
	t := &Tree{
		rootDir:      rootDir,
		manifests:    make(map[string]*manifest.File),
		envelope:     opts.Envelope,
		busySubtrees: make(map[string]bool),
	}
	timestamp := timestampOrNow(opts.Timestamp)
	entries, err := t.buildManifest(ctx, "", opts.Profile, opts.SignKeyID, timestamp)
	if err != nil {
		return nil, err
	}
	f := &manifest.File{
		Dir:         "",
		Entries:     append(entries, manifest.TimestampEntry{Time: timestamp}),
		Compression: opts.Profile.Compression,
	}
	if err := t.writeManifestFile(ctx, f, opts.SignKeyID); err != nil {
		return nil, err
	}
	t.manifests[""] = f
	if err := t.rebuildCoverage(); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	Profile   profile.Profile
	SignKeyID string
	// Timestamp overrides the TIMESTAMP entry written to subtree's
	// manifest (ancestor manifests keep their own existing timestamps;
	// only the rewritten MANIFEST entry referencing subtree changes).
	// The zero value means "use the current time".
	Timestamp time.Time
}

// Update rescans subtree and rewrites the manifest covering it, then
// walks back up to the tree root rewriting every ancestor's MANIFEST
// entry so its recorded digest stays consistent with what it now
// references. IGNORE entries already in force over subtree are honored
// (files beneath them are skipped, same as a normal scan); everything
// else under subtree is rebuilt from the current filesystem state,
// including directories split into their own sub-manifest.
//
// Update refuses to run if subtree overlaps one already being updated by
// a concurrent call on the same Tree, returning BusyError.
func (t *Tree) Update(ctx context.Context, subtree string, opts UpdateOptions) error {
	if err := t.acquireSubtree(subtree); err != nil {
		return err
	}
	defer t.releaseSubtree(subtree)

	timestamp := timestampOrNow(opts.Timestamp)
	entries, err := t.buildManifest(ctx, subtree, opts.Profile, opts.SignKeyID, timestamp)
	if err != nil {
		return err
	}
	compression := opts.Profile.Compression
	if existing, ok := t.manifests[subtree]; ok {
		compression = existing.Compression
	}
	f := &manifest.File{
		Dir:         subtree,
		Entries:     append(entries, manifest.TimestampEntry{Time: timestamp}),
		Compression: compression,
	}
	if err := t.writeManifestFile(ctx, f, opts.SignKeyID); err != nil {
		return err
	}
	t.manifests[subtree] = f

	if err := t.propagateAncestors(ctx, subtree, opts); err != nil {
		return err
	}
	return t.rebuildCoverage()
}

// timestampOrNow returns override if it is set, or the current time
// otherwise; the zero time.Time means "caller did not override".
func timestampOrNow(override time.Time) time.Time {
	if override.IsZero() {
		return time.Now().UTC()
	}
	return override.UTC()
}

func (t *Tree) acquireSubtree(subtree string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for busy := range t.busySubtrees {
		if pathutil.HasPrefixDir(subtree, busy) || pathutil.HasPrefixDir(busy, subtree) {
			return BusyError{Subtree: busy}
		}
	}
	t.busySubtrees[subtree] = true
	return nil
}

func (t *Tree) releaseSubtree(subtree string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.busySubtrees, subtree)
}

// propagateAncestors rewrites every manifest above dir, up to the root,
// replacing its MANIFEST entry for dir with one carrying dir's new
// digest. Manifests further up that don't reference dir directly are
// untouched beyond the one entry update.
func (t *Tree) propagateAncestors(ctx context.Context, dir string, opts UpdateOptions) error {
	for dir != "" {
		parentDir, name := pathutil.Split(dir)
		parent, ok := t.manifests[parentDir]
		if !ok {
			return IOFailureError{Path: parentDir, Cause: os.ErrNotExist}
		}
		childFile := t.manifests[dir]
		ref, err := t.manifestRefFor(parentDir, name, childFile.Compression, opts.Profile.HashSet)
		if err != nil {
			return err
		}

		replaced := false
		for i, e := range parent.Entries {
			me, ok := e.(manifest.ManifestEntry)
			if !ok {
				continue
			}
			childOfEntry, _ := pathutil.Split(pathutil.Join(parentDir, me.Path))
			if childOfEntry == dir {
				parent.Entries[i] = manifest.ManifestEntry{ref}
				replaced = true
				break
			}
		}
		if !replaced {
			parent.Entries = append(parent.Entries, manifest.ManifestEntry{ref})
		}

		if err := t.writeManifestFile(ctx, parent, opts.SignKeyID); err != nil {
			return err
		}
		dir = parentDir
	}
	return nil
}

// buildManifest recursively assembles the entries covering dir: one
// entry per file found directly in dir, plus either a MANIFEST entry
// (for a child directory opts.ShouldSplit elects to split off) or that
// child's own entries folded in with their paths rebased onto dir.
// Directories that split are written to disk immediately, bottom-up, so
// their content digest is known before the parent references it.
func (t *Tree) buildManifest(ctx context.Context, dir string, prof profile.Profile, signKeyID string, timestamp time.Time) ([]manifest.Entry, error) {
	absDir := t.absPath(dir)
	dirEntries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, IOFailureError{Path: dir, Cause: err}
	}

	subdirs := make(map[string]bool)
	for _, de := range dirEntries {
		if de.IsDir() && !strings.HasPrefix(de.Name(), ".") {
			subdirs[de.Name()] = true
		}
	}

	// Files directly in dir are hashed concurrently through the same
	// worker-pool scanner a scan-only verify run uses; directory
	// recursion and sub-manifest splitting stay serial, one level at a
	// time, since the split decision for a directory depends on its
	// children's entry count.
	scanned, err := scanner.Scan(ctx, scanner.Options{
		Root:       absDir,
		Algorithms: prof.HashSet,
		Ignore: func(treePath string) bool {
			return subdirs[treePath] || t.Ignored(pathutil.Join(dir, treePath))
		},
		DetectRaces: true,
	})
	if err != nil {
		return nil, err
	}
	scannedFiles := make(map[string]scanner.Result, len(scanned))
	for _, r := range scanned {
		if r.Err != nil {
			return nil, IOFailureError{Path: pathutil.Join(dir, r.Path), Cause: r.Err}
		}
		scannedFiles[r.Path] = r
	}

	// IGNORE entries from dir's existing manifest are carried over as-is.
	var out []manifest.Entry
	if existing, ok := t.manifests[dir]; ok {
		out = append(out, existing.EntriesByTag(manifest.Ignore)...)
	}
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		childPath := pathutil.Join(dir, name)
		if t.Ignored(childPath) {
			continue
		}

		if de.IsDir() {
			childEntries, err := t.buildManifest(ctx, childPath, prof, signKeyID, timestamp)
			if err != nil {
				return nil, err
			}
			if prof.ShouldSplit(childPath, len(childEntries)) {
				childFile := &manifest.File{
					Dir:         childPath,
					Entries:     append(childEntries, manifest.TimestampEntry{Time: timestamp}),
					Compression: prof.Compression,
				}
				if err := t.writeManifestFile(ctx, childFile, signKeyID); err != nil {
					return nil, err
				}
				t.manifests[childPath] = childFile
				ref, err := t.manifestRefFor(dir, name, childFile.Compression, prof.HashSet)
				if err != nil {
					return nil, err
				}
				out = append(out, manifest.ManifestEntry{ref})
			} else {
				out = append(out, prefixEntries(name, childEntries)...)
			}
			continue
		}
		if name == "Manifest" || hasCompressedManifestSuffix(name) {
			// the directory's own manifest is never an entry of itself.
			continue
		}

		r, ok := scannedFiles[name]
		if !ok {
			continue
		}
		tag := prof.Classify(childPath)
		if prof.ThinManifest && tag == manifest.Data {
			// Thin manifests omit DATA entries: ordinary file content is
			// already covered by the VCS the tree lives in, so only the
			// entries that matter to package-manager trust (EBUILD, AUX,
			// MISC, DIST, MANIFEST) are recorded.
			continue
		}
		ref := manifest.FileRef{Path: name, Size: r.Size, Digests: r.Digests}
		out = append(out, entryForTag(tag, ref))
	}
	return out, nil
}

// writeManifestFile renders f, optionally signs it, and writes it to the
// path its Dir and Compression imply, atomically. On success f.Path is
// set to the tree-relative path written.
func (t *Tree) writeManifestFile(ctx context.Context, f *manifest.File, signKeyID string) error {
	raw := manifest.Write(f)
	relPath := manifestFileName(f.Dir, f.Compression.Suffix())

	if signKeyID != "" && t.envelope != nil && t.envelope.Available() {
		signed, err := t.envelope.Sign(ctx, bytes.NewReader(raw), signKeyID)
		if err != nil {
			return err
		}
		raw = signed
		f.Signed = true
		f.SignedByKey = signKeyID
	}

	aw, err := compressio.NewAtomicWriterFormat(t.absPath(relPath), f.Compression)
	if err != nil {
		return IOFailureError{Path: relPath, Cause: err}
	}
	if _, err := aw.Write(raw); err != nil {
		aw.Abort()
		return IOFailureError{Path: relPath, Cause: err}
	}
	if err := aw.Close(); err != nil {
		return IOFailureError{Path: relPath, Cause: err}
	}
	f.Path = relPath
	return nil
}

// manifestRefFor hashes the already-written manifest file for the child
// directory named name under parentDir, returning a FileRef suitable for
// a MANIFEST entry in parentDir's own manifest.
func (t *Tree) manifestRefFor(parentDir, name string, compression compressio.Format, hashSet []digest.Algorithm) (manifest.FileRef, error) {
	childDir := pathutil.Join(parentDir, name)
	relPath := manifestFileName(childDir, compression.Suffix())
	sums, size, err := hashFileAt(t.absPath(relPath), hashSet)
	if err != nil {
		return manifest.FileRef{}, IOFailureError{Path: relPath, Cause: err}
	}
	return manifest.FileRef{
		Path:    name + "/Manifest" + compression.Suffix(),
		Size:    size,
		Digests: sums,
	}, nil
}

func manifestFileName(dir, suffix string) string {
	return pathutil.Join(dir, "Manifest"+suffix)
}

func hashFileAt(absPath string, algorithms []digest.Algorithm) (digest.Set, int64, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return digest.Multiplex(f, algorithms...)
}

func entryForTag(tag manifest.Tag, ref manifest.FileRef) manifest.Entry {
	switch tag {
	case manifest.Ebuild:
		return manifest.EbuildEntry{ref}
	case manifest.Aux:
		return manifest.AuxEntry{ref}
	case manifest.Misc:
		return manifest.MiscEntry{ref}
	case manifest.Dist:
		return manifest.DistEntry{ref}
	default:
		return manifest.DataEntry{ref}
	}
}

// prefixEntries rebases entries computed relative to a child directory
// onto that child's name within its parent, the join needed when a
// directory is folded into its parent's manifest instead of split off.
// The child's own TIMESTAMP entry (if buildManifest ever produced one,
// which it does not for non-split directories) would not survive
// folding; manifests carry exactly one TIMESTAMP, the enclosing one's.
func prefixEntries(prefix string, entries []manifest.Entry) []manifest.Entry {
	var out []manifest.Entry
	for _, e := range entries {
		switch v := e.(type) {
		case manifest.TimestampEntry:
			continue
		case manifest.ManifestEntry:
			v.Path = pathutil.Join(prefix, v.Path)
			out = append(out, v)
		case manifest.DataEntry:
			v.Path = pathutil.Join(prefix, v.Path)
			out = append(out, v)
		case manifest.MiscEntry:
			v.Path = pathutil.Join(prefix, v.Path)
			out = append(out, v)
		case manifest.DistEntry:
			v.Path = pathutil.Join(prefix, v.Path)
			out = append(out, v)
		case manifest.EbuildEntry:
			v.Path = pathutil.Join(prefix, v.Path)
			out = append(out, v)
		case manifest.AuxEntry:
			v.Path = pathutil.Join(prefix, v.Path)
			out = append(out, v)
		case manifest.IgnoreEntry:
			v.Path = pathutil.Join(prefix, v.Path)
			out = append(out, v)
		case manifest.OptionalEntry:
			v.Path = pathutil.Join(prefix, v.Path)
			out = append(out, v)
		default:
			out = append(out, e)
		}
	}
	return out
}
