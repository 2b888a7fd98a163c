package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/internal/pathutil"
)

const (
	clearsignBegin   = "-----BEGIN PGP SIGNED MESSAGE-----"
	signatureBegin   = "-----BEGIN PGP SIGNATURE-----"
	signatureEnd     = "-----END PGP SIGNATURE-----"
	dashEscapePrefix = "- "
)

// Parse parses raw manifest bytes read from the tree-relative path at
// sourcePath (used only for error messages). It strips a single OpenPGP
// clearsign envelope structurally if present, without verifying the
// signature: that is the caller's job, delegated to the openpgp package,
// using the unparsed original bytes this function is given.
func Parse(raw []byte, sourcePath string) (*File, error) {
	payload, signed := stripClearsign(raw)

	f := &File{Path: sourcePath, Signed: signed}
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	sawTimestamp := false
	sawNonTimestamp := false
	var verr ValidationError
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		entry, err := parseLine(trimmed, sourcePath, lineNo)
		if err != nil {
			return nil, err
		}
		if entry.Tag() == Timestamp {
			if sawTimestamp {
				verr.add(fmt.Sprintf("%s:%d: duplicate TIMESTAMP entry", sourcePath, lineNo))
			}
			if sawNonTimestamp {
				verr.add(fmt.Sprintf("%s:%d: TIMESTAMP must be the first entry", sourcePath, lineNo))
			}
			sawTimestamp = true
		} else {
			sawNonTimestamp = true
		}
		f.Entries = append(f.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", sourcePath, err)
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}
	return f, nil
}

// stripClearsign removes a GLEP 74 / RFC 4880 clearsign envelope if raw
// contains one, returning the dash-unescaped payload and whether an
// envelope was found. Anything before the BEGIN line and from the
// signature block onward is dropped. It does not touch the signature
// block's contents; the caller verifies that separately against the
// original raw bytes.
func stripClearsign(raw []byte) (payload []byte, signed bool) {
	text := string(raw)
	idx := strings.Index(text, clearsignBegin)
	if idx < 0 {
		return raw, false
	}
	rest := text[idx+len(clearsignBegin):]
	// skip hash-armor header lines up to the first blank line; lines[0]
	// is the remainder of the BEGIN line itself.
	lines := strings.SplitAfter(rest, "\n")
	i := 1
	for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
		i++
	}
	if i < len(lines) {
		i++ // skip the blank line separating headers from payload
	}
	var body strings.Builder
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(strings.TrimRight(line, "\r\n"), signatureBegin) {
			break
		}
		if strings.HasPrefix(line, dashEscapePrefix) {
			line = line[len(dashEscapePrefix):]
		}
		body.WriteString(line)
	}
	return []byte(body.String()), true
}

func parseLine(line, sourcePath string, lineNo int) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, SyntaxError{Path: sourcePath, Line: lineNo, Raw: line, Kind: "empty line"}
	}
	tag := Tag(fields[0])
	args := fields[1:]

	switch tag {
	case Timestamp:
		if len(args) != 1 {
			return nil, SyntaxError{Path: sourcePath, Line: lineNo, Raw: line, Kind: "TIMESTAMP takes exactly one field"}
		}
		t, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return nil, SyntaxError{Path: sourcePath, Line: lineNo, Raw: line, Kind: "malformed timestamp: " + err.Error()}
		}
		return TimestampEntry{Time: t}, nil

	case Ignore:
		if len(args) != 1 {
			return nil, SyntaxError{Path: sourcePath, Line: lineNo, Raw: line, Kind: "IGNORE takes exactly one field"}
		}
		path, err := unescapeAndNormalize(args[0])
		if err != nil {
			return nil, wrapPathError(sourcePath, lineNo, line, err)
		}
		return IgnoreEntry{Path: path}, nil

	case Optional:
		if len(args) != 1 {
			return nil, SyntaxError{Path: sourcePath, Line: lineNo, Raw: line, Kind: "OPTIONAL takes exactly one field"}
		}
		path, err := unescapeAndNormalize(args[0])
		if err != nil {
			return nil, wrapPathError(sourcePath, lineNo, line, err)
		}
		return OptionalEntry{Path: path}, nil

	case Manifest, Data, Misc, Dist, Ebuild, Aux:
		ref, err := parseFileRef(args, sourcePath, lineNo, line)
		if err != nil {
			return nil, err
		}
		switch tag {
		case Manifest:
			return ManifestEntry{ref}, nil
		case Data:
			return DataEntry{ref}, nil
		case Misc:
			return MiscEntry{ref}, nil
		case Dist:
			return DistEntry{ref}, nil
		case Ebuild:
			return EbuildEntry{ref}, nil
		case Aux:
			return AuxEntry{ref}, nil
		}
	}
	return nil, SyntaxError{Path: sourcePath, Line: lineNo, Raw: line, Kind: "unknown tag " + string(tag)}
}

func parseFileRef(args []string, sourcePath string, lineNo int, raw string) (FileRef, error) {
	if len(args) < 2 {
		return FileRef{}, SyntaxError{Path: sourcePath, Line: lineNo, Raw: raw, Kind: "entry requires path and size"}
	}
	path, err := unescapeAndNormalize(args[0])
	if err != nil {
		return FileRef{}, wrapPathError(sourcePath, lineNo, raw, err)
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || size < 0 {
		return FileRef{}, SyntaxError{Path: sourcePath, Line: lineNo, Raw: raw, Kind: "malformed size"}
	}
	digestFields := args[2:]
	if len(digestFields)%2 != 0 {
		return FileRef{}, SyntaxError{Path: sourcePath, Line: lineNo, Raw: raw, Kind: "digest fields must come in ALGO HEX pairs"}
	}
	digests := make(digest.Set, len(digestFields)/2)
	for i := 0; i < len(digestFields); i += 2 {
		algName, hexDigest := digestFields[i], digestFields[i+1]
		alg, ok := digest.AlgorithmFromString(algName)
		if !ok {
			return FileRef{}, SyntaxError{Path: sourcePath, Line: lineNo, Raw: raw, Kind: "unknown hash algorithm " + algName}
		}
		if len(hexDigest)%2 != 0 || !isHex(hexDigest) {
			return FileRef{}, SyntaxError{Path: sourcePath, Line: lineNo, Raw: raw, Kind: "malformed hex digest for " + algName}
		}
		if _, dup := digests[alg]; dup {
			return FileRef{}, SyntaxError{Path: sourcePath, Line: lineNo, Raw: raw, Kind: "duplicated algorithm " + algName}
		}
		digests[alg] = strings.ToLower(hexDigest)
	}
	return FileRef{Path: path, Size: size, Digests: digests}, nil
}

// unescapeAndNormalize decodes a path field and validates it through
// pathutil.Normalize, so no entry path can name something outside the
// tree root (a leading "/" or a ".." component) or carry a redundant
// "." segment into the coverage index.
func unescapeAndNormalize(field string) (string, error) {
	path, err := unescapePath(field)
	if err != nil {
		return "", err
	}
	return pathutil.Normalize(path)
}

// wrapPathError classifies an error from unescapeAndNormalize: a
// malformed \xHH escape is a syntax error, anything from pathutil
// (traversal or structural) becomes a TraversalError so callers can
// errors.As against it, or its wrapped pathutil cause, independently of
// ordinary syntax problems.
func wrapPathError(sourcePath string, lineNo int, raw string, err error) error {
	if _, ok := err.(errMalformedEscape); ok {
		return SyntaxError{Path: sourcePath, Line: lineNo, Raw: raw, Kind: err.Error()}
	}
	return TraversalError{Path: sourcePath, Line: lineNo, Raw: raw, Cause: err}
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if _, ok := hexVal(s[i]); !ok {
			return false
		}
	}
	return true
}
