package manifest

import (
	"sort"
	"strconv"
	"strings"
)

// Write renders f's entries in the canonical order the codec always
// produces: TIMESTAMP first, then every other tag in tagOrder, entries
// within a tag group sorted lexicographically by path. The result is
// UTF-8, LF-terminated, and carries no OpenPGP envelope; signing wraps
// this output separately.
func Write(f *File) []byte {
	var b strings.Builder

	if ts, ok := f.Timestamp(); ok {
		b.WriteString(string(Timestamp))
		b.WriteByte(' ')
		b.WriteString(ts.Time.UTC().Format("2006-01-02T15:04:05Z"))
		b.WriteByte('\n')
	}

	byTag := make(map[Tag][]Entry, len(tagOrder))
	for _, e := range f.Entries {
		if e.Tag() == Timestamp {
			continue
		}
		byTag[e.Tag()] = append(byTag[e.Tag()], e)
	}

	for _, tag := range tagOrder {
		entries := byTag[tag]
		sort.Slice(entries, func(i, j int) bool {
			return Path(entries[i]) < Path(entries[j])
		})
		for _, e := range entries {
			writeEntry(&b, e)
		}
	}

	return []byte(b.String())
}

func writeEntry(b *strings.Builder, e Entry) {
	b.WriteString(string(e.Tag()))
	b.WriteByte(' ')
	switch v := e.(type) {
	case IgnoreEntry:
		b.WriteString(escapePath(v.Path))
	case OptionalEntry:
		b.WriteString(escapePath(v.Path))
	default:
		ref, ok := FileRefOf(e)
		if !ok {
			return
		}
		b.WriteString(escapePath(ref.Path))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(ref.Size, 10))
		for _, alg := range ref.Digests.Algorithms() {
			b.WriteByte(' ')
			b.WriteString(string(alg))
			b.WriteByte(' ')
			b.WriteString(ref.Digests[alg])
		}
	}
	b.WriteByte('\n')
}
