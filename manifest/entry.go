// Package manifest implements the GLEP 74 manifest grammar: a strict
// line-oriented codec for the ordered list of tagged entries that
// describes one directory's worth of tree-verification data.
package manifest

import (
	"time"

	"github.com/projg2/gemato-go/internal/digest"
)

// Tag is one of the entry tags recognized by the grammar.
type Tag string

const (
	Timestamp Tag = "TIMESTAMP"
	Manifest  Tag = "MANIFEST"
	Ignore    Tag = "IGNORE"
	Data      Tag = "DATA"
	Misc      Tag = "MISC"
	Optional  Tag = "OPTIONAL"
	Dist      Tag = "DIST"
	Ebuild    Tag = "EBUILD"
	Aux       Tag = "AUX"
)

// tagOrder is the fixed grouping order the writer emits entries in, after
// TIMESTAMP. Within a tag group, entries are ordered lexicographically by
// path.
var tagOrder = []Tag{Manifest, Ignore, Data, Misc, Optional, Dist, Ebuild, Aux}

// Entry is a tagged manifest record. It is implemented as a closed sum
// type: every concrete type below, and nothing else, implements Entry.
// Consumers are expected to exhaustively type-switch on it.
type Entry interface {
	Tag() Tag
	isEntry()
}

// FileRef is the common shape shared by every entry tag that names a
// covered file with a size and digest set: MANIFEST, DATA, MISC, DIST,
// EBUILD, AUX.
type FileRef struct {
	Path    string
	Size    int64
	Digests digest.Set
}

// TimestampEntry records the manifest's creation time. At most one may
// appear in a ManifestFile, and it must be the first non-blank line.
type TimestampEntry struct {
	Time time.Time
}

func (TimestampEntry) Tag() Tag { return Timestamp }
func (TimestampEntry) isEntry() {}

// ManifestEntry references a sub-manifest file. Its digests are the sole
// trust root for the referenced file: loading that sub-manifest is only
// valid after recomputing and matching these digests.
type ManifestEntry struct{ FileRef }

func (ManifestEntry) Tag() Tag { return Manifest }
func (ManifestEntry) isEntry() {}

// IgnoreEntry excludes a path (file or directory) from coverage. The
// exclusion applies to the path and everything beneath it.
type IgnoreEntry struct {
	Path string
}

func (IgnoreEntry) Tag() Tag { return Ignore }
func (IgnoreEntry) isEntry() {}

// DataEntry is a regular file that must exist with exactly the recorded
// size and digests.
type DataEntry struct{ FileRef }

func (DataEntry) Tag() Tag { return Data }
func (DataEntry) isEntry() {}

// MiscEntry is like DataEntry, but absence of the file is not an error.
// If present, its size and digests must still match.
type MiscEntry struct{ FileRef }

func (MiscEntry) Tag() Tag { return Misc }
func (MiscEntry) isEntry() {}

// OptionalEntry marks a path that may be absent; if present, it is not
// checked at all.
type OptionalEntry struct {
	Path string
}

func (OptionalEntry) Tag() Tag { return Optional }
func (OptionalEntry) isEntry() {}

// DistEntry names a distfile: a file looked up in a separate distdir, not
// in the tree itself. Filename carries no directory component.
type DistEntry struct{ FileRef }

func (DistEntry) Tag() Tag { return Dist }
func (DistEntry) isEntry() {}

// EbuildEntry is a DataEntry variant for ebuild files.
type EbuildEntry struct{ FileRef }

func (EbuildEntry) Tag() Tag { return Ebuild }
func (EbuildEntry) isEntry() {}

// AuxEntry is a DataEntry variant for auxiliary files (files/** in an
// ebuild repository).
type AuxEntry struct{ FileRef }

func (AuxEntry) Tag() Tag { return Aux }
func (AuxEntry) isEntry() {}

// Path returns the entry's tree-relative path (or filename, for DIST),
// or "" for TIMESTAMP which carries none. Useful for generic handling
// that doesn't need the full type switch, e.g. logging.
func Path(e Entry) string {
	switch v := e.(type) {
	case TimestampEntry:
		return ""
	case ManifestEntry:
		return v.Path
	case IgnoreEntry:
		return v.Path
	case DataEntry:
		return v.Path
	case MiscEntry:
		return v.Path
	case OptionalEntry:
		return v.Path
	case DistEntry:
		return v.Path
	case EbuildEntry:
		return v.Path
	case AuxEntry:
		return v.Path
	default:
		return ""
	}
}

// FileRefOf returns the entry's FileRef and true, for tags that carry
// size and digests (MANIFEST, DATA, MISC, DIST, EBUILD, AUX). It returns
// false for TIMESTAMP, IGNORE, and OPTIONAL, which do not.
func FileRefOf(e Entry) (FileRef, bool) {
	switch v := e.(type) {
	case ManifestEntry:
		return v.FileRef, true
	case DataEntry:
		return v.FileRef, true
	case MiscEntry:
		return v.FileRef, true
	case DistEntry:
		return v.FileRef, true
	case EbuildEntry:
		return v.FileRef, true
	case AuxEntry:
		return v.FileRef, true
	default:
		return FileRef{}, false
	}
}
