package api

import (
	"errors"
	"strings"
	"time"
)

// GlobalConfig is the configuration shared by every gemato subcommand. It
// can be read from a JSON file or passed as command-line flags, with
// flags overlaying whatever the file specifies.
type GlobalConfig struct {
	// Root is the filesystem directory the tree's manifest chain covers.
	Root string `json:"root,omitempty"`
	// Profile selects the named bundle of hash set, compression, and
	// split policy used by create/update. One of "default", "ebuild",
	// "old-ebuild", "egencache".
	Profile string `json:"profile,omitempty"`
	// Hashes, if set, overrides the profile's hash set: a comma-separated
	// list of algorithm tokens, e.g. "SHA256,BLAKE2B".
	Hashes string `json:"hashes,omitempty"`
	// CompressFormat, if set, overrides the profile's manifest
	// compression: one of "none", "gzip", "bzip2", "xz".
	CompressFormat string `json:"compress_format,omitempty"`
	// SignKeyID signs every manifest written by create/update with this
	// OpenPGP key ID. Empty disables signing.
	SignKeyID string `json:"sign_key_id,omitempty"`
	// OpenPGPKeyFile imports key material from this path into an
	// isolated OpenPGP envelope before verifying or signing.
	OpenPGPKeyFile string `json:"openpgp_key_file,omitempty"`
	// RequireSignedManifest fails verification if the root manifest
	// carries no OpenPGP signature.
	RequireSignedManifest *bool `json:"require_signed_manifest,omitempty"`
	// KeepGoing accumulates every verification problem found instead of
	// stopping at the first one.
	KeepGoing *bool `json:"keep_going,omitempty"`
	// CheckDist additionally verifies DIST entries against Distdir. Off
	// by default, since distfiles live outside the tree proper.
	CheckDist *bool `json:"check_dist,omitempty"`
	// Distdir is the directory DIST entries are looked up in when
	// CheckDist is set.
	Distdir string `json:"distdir,omitempty"`
	// Timestamp overrides the TIMESTAMP entry create/update writes,
	// RFC3339. Empty means "use the current time".
	Timestamp string `json:"timestamp,omitempty"`
	// Log level. One of "error", "warning", "basic", "debug".
	LogLevel string `json:"log_level,omitempty"`
}

func (c GlobalConfig) Validate() error {
	var issues []string
	if c.Root == "" {
		issues = append(issues, `root must be provided`)
	}
	switch c.Profile {
	case "default", "ebuild", "old-ebuild", "egencache", "": // allowed
	default:
		issues = append(issues, `profile must be one of "default", "ebuild", "old-ebuild", "egencache"`)
	}
	switch c.CompressFormat {
	case "", "none", "gzip", "bzip2", "xz": // allowed
	default:
		issues = append(issues, `compress_format must be one of "none", "gzip", "bzip2", "xz"`)
	}
	switch c.LogLevel {
	case "", "error", "warning", "basic", "debug": // allowed
	default:
		issues = append(issues, `log_level must be one of "error", "warning", "basic", "debug"`)
	}
	if c.CheckDistEnabled() && c.Distdir == "" {
		issues = append(issues, `distdir must be set when check_dist is enabled`)
	}
	if c.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, c.Timestamp); err != nil {
			issues = append(issues, `timestamp must be RFC3339: `+err.Error())
		}
	}

	if len(issues) > 0 {
		return errors.New("config validation failed: \n  " + strings.Join(issues, "\n  "))
	}
	return nil
}

func (c GlobalConfig) RequireSignedManifestEnabled() bool {
	return c.RequireSignedManifest != nil && *c.RequireSignedManifest
}

func (c GlobalConfig) KeepGoingEnabled() bool {
	return c.KeepGoing != nil && *c.KeepGoing
}

func (c GlobalConfig) CheckDistEnabled() bool {
	return c.CheckDist != nil && *c.CheckDist
}

// ParsedTimestamp returns the zero time.Time for an unset Timestamp, or
// the parsed RFC3339 value otherwise. Validate rejects a malformed
// Timestamp before this is ever called.
func (c GlobalConfig) ParsedTimestamp() (time.Time, error) {
	if c.Timestamp == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, c.Timestamp)
}

type ConfigReader interface {
	Read(baseConfig GlobalConfig) (GlobalConfig, error)
}

// ErrConfigNotFound is returned by a ConfigReader when the configured
// file does not exist.
var ErrConfigNotFound = errors.New("api: config file not found")

func ReadConfig(reader ConfigReader, config GlobalConfig) (GlobalConfig, error) {
	return reader.Read(config)
}

func DefaultConfig() GlobalConfig {
	return GlobalConfig{
		Root:           ".",
		Profile:        "default",
		CompressFormat: "",
		LogLevel:       "basic",
	}
}
