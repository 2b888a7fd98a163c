package tree

import (
	"fmt"

	"github.com/projg2/gemato-go/internal/digest"
)

// TreeError is the umbrella kind every error this package returns
// implements, so callers can catch "any manifest problem" with a single
// type switch or errors.As call.
type TreeError interface {
	error
	treeError()
}

// DuplicateCoverageError is reported when two manifests at the same
// directory prefix both claim to cover the same path.
type DuplicateCoverageError struct {
	Path                   string
	ManifestA, ManifestB   string
}

func (e DuplicateCoverageError) Error() string {
	return fmt.Sprintf("duplicate coverage for %s: both %s and %s claim it", e.Path, e.ManifestA, e.ManifestB)
}
func (DuplicateCoverageError) treeError() {}

// MissingFileError is a path covered by DATA/EBUILD/AUX/MANIFEST whose
// file does not exist on disk (MISC and OPTIONAL tolerate absence, so
// this is only reported for the tags that require presence).
type MissingFileError struct{ Path string }

func (e MissingFileError) Error() string { return "missing file: " + e.Path }
func (MissingFileError) treeError()      {}

// UnexpectedFileError ("stray") is a filesystem path with no covering
// entry and not inside an IGNORE subtree.
type UnexpectedFileError struct{ Path string }

func (e UnexpectedFileError) Error() string { return "unexpected (stray) file: " + e.Path }
func (UnexpectedFileError) treeError()      {}

// HashMismatchError is a covered file whose content digest for Algorithm
// does not match the manifest's recorded value.
type HashMismatchError struct {
	Path      string
	Algorithm digest.Algorithm
	Expected  string
	Got       string
}

func (e HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s (%s): expected %s, got %s", e.Path, e.Algorithm, e.Expected, e.Got)
}
func (HashMismatchError) treeError() {}

// SizeMismatchError is a covered file whose size does not match the
// manifest's recorded value. Checked before hashing, since it is cheap.
type SizeMismatchError struct {
	Path     string
	Expected int64
	Got      int64
}

func (e SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d, got %d", e.Path, e.Expected, e.Got)
}
func (SizeMismatchError) treeError() {}

// InvalidSubManifestHashError marks a trust-chain break: a MANIFEST
// entry's recorded digest does not match the referenced file's actual
// content.
type InvalidSubManifestHashError struct {
	Parent string
	Child  string
}

func (e InvalidSubManifestHashError) Error() string {
	return fmt.Sprintf("sub-manifest %s referenced by %s has an invalid digest", e.Child, e.Parent)
}
func (InvalidSubManifestHashError) treeError() {}

// IOFailureError wraps an I/O error encountered while scanning or
// verifying an individual path. It does not halt the overall operation.
type IOFailureError struct {
	Path  string
	Cause error
}

func (e IOFailureError) Error() string { return fmt.Sprintf("I/O failure at %s: %v", e.Path, e.Cause) }
func (e IOFailureError) Unwrap() error { return e.Cause }
func (IOFailureError) treeError()      {}

// CycleError marks a MANIFEST reference cycle discovered while loading.
type CycleError struct{ Path string }

func (e CycleError) Error() string { return "manifest reference cycle at " + e.Path }
func (CycleError) treeError()      {}

// BusyError is returned when an update is requested for a subtree that
// overlaps one already being updated by another call. Concurrent updates
// over overlapping subtrees are not supported.
type BusyError struct{ Subtree string }

func (e BusyError) Error() string { return "tree is busy updating overlapping subtree: " + e.Subtree }
func (BusyError) treeError()      {}

// OpenPGPRequiredError is returned when --require_signed_manifest is set
// and the root manifest carries no OpenPGP signature.
type OpenPGPRequiredError struct{ Path string }

func (e OpenPGPRequiredError) Error() string {
	return "manifest " + e.Path + " is required to be signed but carries no signature"
}
func (OpenPGPRequiredError) treeError() {}
