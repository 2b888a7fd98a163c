// Package profile supplies the named bundles of defaults (hash set,
// manifest compression, sub-manifest split policy, tag classification)
// used when creating or updating a tree's manifests.
package profile

import (
	"errors"
	"strings"

	"github.com/projg2/gemato-go/internal/compressio"
	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/manifest"
)

// Name identifies one of the closed set of named profiles.
type Name string

const (
	Default   Name = "default"
	Ebuild    Name = "ebuild"
	OldEbuild Name = "old-ebuild"
	Egencache Name = "egencache"
)

// SplitRule decides whether a directory should get its own sub-manifest
// rather than being described entirely by its parent.
type SplitRule func(dirPath string, entryCount int) bool

// ClassifyFunc assigns a tag to a file path during create/update, the
// profile's policy for "what kind of entry is this file".
type ClassifyFunc func(path string) manifest.Tag

// Profile bundles the policy a create/update operation needs.
type Profile struct {
	Name         Name
	HashSet      []digest.Algorithm
	Compression  compressio.Format
	ShouldSplit  SplitRule
	Classify     ClassifyFunc
	ThinManifest bool
}

// splitOnFileCountThreshold returns a SplitRule that splits a directory
// into its own sub-manifest once it would accumulate more than threshold
// entries.
func splitOnFileCountThreshold(threshold int) SplitRule {
	return func(_ string, entryCount int) bool {
		return entryCount > threshold
	}
}

func neverSplit(_ string, _ int) bool { return false }

func classifyDefault(path string) manifest.Tag {
	return manifest.Data
}

// classifyEbuild implements the ::gentoo-style repository layout: *.ebuild
// files are EBUILD entries, anything under a "files/" directory is AUX,
// everything else is DATA.
func classifyEbuild(path string) manifest.Tag {
	switch {
	case strings.HasSuffix(path, ".ebuild"):
		return manifest.Ebuild
	case strings.Contains(path, "/files/") || strings.HasPrefix(path, "files/"):
		return manifest.Aux
	default:
		return manifest.Data
	}
}

// registry is the closed set of profiles this package recognizes. It is
// built once at package init and never mutated afterward.
var registry = map[Name]Profile{
	Default: {
		Name:        Default,
		HashSet:     []digest.Algorithm{digest.SHA256, digest.SHA512},
		Compression: compressio.None,
		ShouldSplit: neverSplit,
		Classify:    classifyDefault,
	},
	Ebuild: {
		Name:         Ebuild,
		HashSet:      []digest.Algorithm{digest.SHA256, digest.BLAKE2B},
		Compression:  compressio.Gzip,
		ShouldSplit:  splitOnFileCountThreshold(128),
		Classify:     classifyEbuild,
		ThinManifest: true,
	},
	OldEbuild: {
		Name:        OldEbuild,
		HashSet:     []digest.Algorithm{digest.SHA256, digest.SHA512, digest.WHIRLPOOL},
		Compression: compressio.None,
		ShouldSplit: splitOnFileCountThreshold(128),
		Classify:    classifyEbuild,
	},
	Egencache: {
		Name:        Egencache,
		HashSet:     []digest.Algorithm{digest.SHA256, digest.BLAKE2B},
		Compression: compressio.Gzip,
		ShouldSplit: neverSplit,
		Classify:    classifyDefault,
	},
}

// ErrUnknownProfile is returned by Lookup for a name outside the closed
// registry.
var ErrUnknownProfile = errors.New("profile: unknown profile name")

// Lookup returns the named profile, or ErrUnknownProfile.
func Lookup(name Name) (Profile, error) {
	p, ok := registry[name]
	if !ok {
		return Profile{}, ErrUnknownProfile
	}
	return p, nil
}

// Names returns every registered profile name, for CLI help text and
// flag validation.
func Names() []Name {
	return []Name{Default, Ebuild, OldEbuild, Egencache}
}

// WithHashSet returns a copy of p using an explicit hash set, the
// `--hashes` override from the CLI surface.
func (p Profile) WithHashSet(algorithms []digest.Algorithm) Profile {
	p.HashSet = algorithms
	return p
}

// WithCompression returns a copy of p using an explicit compression
// format, the `--compress_format` override from the CLI surface.
func (p Profile) WithCompression(format compressio.Format) Profile {
	p.Compression = format
	return p
}
