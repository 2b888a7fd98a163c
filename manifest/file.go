package manifest

import "github.com/projg2/gemato-go/internal/compressio"

// File is one parsed manifest file plus its provenance: where it was
// found, whether it carried a valid OpenPGP clearsign envelope and by
// which key, and which compression it used on disk.
type File struct {
	// Path is the tree-relative path of the manifest file itself (e.g.
	// "Manifest" at the root, "sub/Manifest" for a sub-manifest).
	Path string
	// Dir is the tree-relative directory this manifest covers, the
	// parent directory of Path.
	Dir string

	Entries []Entry

	Signed      bool
	SignedByKey string

	Compression compressio.Format
}

// Timestamp returns the manifest's TIMESTAMP entry, if any.
func (f *File) Timestamp() (TimestampEntry, bool) {
	for _, e := range f.Entries {
		if ts, ok := e.(TimestampEntry); ok {
			return ts, true
		}
	}
	return TimestampEntry{}, false
}

// EntriesByTag returns every entry in f with the given tag, in file
// order.
func (f *File) EntriesByTag(tag Tag) []Entry {
	var out []Entry
	for _, e := range f.Entries {
		if e.Tag() == tag {
			out = append(out, e)
		}
	}
	return out
}

// ManifestRefs returns every MANIFEST entry in f, the sub-manifests it
// references.
func (f *File) ManifestRefs() []ManifestEntry {
	var out []ManifestEntry
	for _, e := range f.Entries {
		if m, ok := e.(ManifestEntry); ok {
			out = append(out, m)
		}
	}
	return out
}
