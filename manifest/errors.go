package manifest

import "fmt"

// SyntaxError reports a malformed line: an unknown tag, a malformed size,
// odd-length hex, or a duplicated algorithm within one entry. It carries
// the source path, 1-based line number, and the raw offending line so
// callers can report it verbatim.
type SyntaxError struct {
	Path string
	Line int
	Raw  string
	Kind string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %q", e.Path, e.Line, e.Kind, e.Raw)
}

// ValidationError aggregates every structural issue found while parsing
// or building a ManifestFile (duplicate TIMESTAMP, entries after a
// misplaced TIMESTAMP, etc).
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	s := "manifest validation failed:"
	for _, issue := range e.issues {
		s += "\n  " + issue
	}
	return s
}

func (e *ValidationError) add(issue string) {
	e.issues = append(e.issues, issue)
}

func (e *ValidationError) errOrNil() error {
	if e == nil || len(e.issues) == 0 {
		return nil
	}
	return *e
}

// TraversalError reports a manifest entry whose path, after unescaping,
// fails pathutil.Normalize: an absolute path, a ".." component, or some
// other malformed segment. It carries the source manifest path and line
// so callers can report it verbatim, and unwraps to the underlying
// pathutil error for errors.As matching against pathutil.ErrTraversal or
// pathutil.ErrMalformed.
type TraversalError struct {
	Path  string
	Line  int
	Raw   string
	Cause error
}

func (e TraversalError) Error() string {
	return fmt.Sprintf("%s:%d: invalid entry path: %v: %q", e.Path, e.Line, e.Cause, e.Raw)
}

func (e TraversalError) Unwrap() error { return e.Cause }
