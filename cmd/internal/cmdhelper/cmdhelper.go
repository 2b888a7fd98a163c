// Package cmdhelper is the flag/config plumbing every gemato subcommand
// shares: global flag registration overlaid onto an optional JSON config
// file, and the FatalFmt/SubstituteHome helpers subcommands use to report
// errors and resolve "~"-prefixed paths.
package cmdhelper

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/projg2/gemato-go/api"
	"github.com/projg2/gemato-go/internal/compressio"
	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/internal/logging"
	"github.com/projg2/gemato-go/openpgp"
	"github.com/projg2/gemato-go/profile"
	"github.com/projg2/gemato-go/tree"
)

func FatalFmt(format string, args ...any) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(int(api.ExitUsage))
}

type OSConfigReader struct {
	ConfigPath string
}

func (r OSConfigReader) Read(config api.GlobalConfig) (api.GlobalConfig, error) {
	file, err := os.Open(r.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, api.ErrConfigNotFound
		}
		return config, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return config, err
	}
	return config, nil
}

func SubstituteHome(p string) string {
	if len(p) == 0 || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + p[1:]
}

// FlagPreset selects which domain-specific flag groups a subcommand
// registers on top of the always-present root/profile/log flags.
type FlagPreset uint

const (
	FlagPresetNone FlagPreset = 0
	// FlagPresetSign registers the signing-related flags (--sign_key,
	// --openpgp_key), for create/update/openpgp-verify.
	FlagPresetSign FlagPreset = 1 << iota
	// FlagPresetProfile registers the hash-set/compression override
	// flags (--hashes, --compress_format) and --timestamp, used by
	// create/update.
	FlagPresetProfile
	// FlagPresetVerify registers --require_signed_manifest,
	// --keep_going, --check_dist and --distdir, used by verify.
	FlagPresetVerify
)

type flagConfig struct {
	api.GlobalConfig
	// redefine any bool flags to satisfy flagSet.BoolVar
	RequireSignedManifest bool
	KeepGoing             bool
	CheckDist             bool
}

func globalFlags(flagSet *flag.FlagSet, preset FlagPreset) *flagConfig {
	config := &flagConfig{}
	flagSet.StringVar(&config.Root, "root", "", "Filesystem directory the manifest chain covers")
	flagSet.StringVar(&config.Profile, "profile", "", `Profile name: "default", "ebuild", "old-ebuild", or "egencache"`)
	flagSet.StringVar(&config.LogLevel, "log_level", "", `Log level. one of "error", "warning", "basic", "debug"`)

	if preset&FlagPresetProfile != 0 {
		flagSet.StringVar(&config.Hashes, "hashes", "", "Comma-separated hash algorithm override, e.g. SHA256,BLAKE2B")
		flagSet.StringVar(&config.CompressFormat, "compress_format", "", `Manifest compression override: "none", "gzip", "bzip2", or "xz"`)
		flagSet.StringVar(&config.Timestamp, "timestamp", "", "RFC3339 timestamp to record instead of the current time")
	}
	if preset&FlagPresetSign != 0 {
		flagSet.StringVar(&config.SignKeyID, "sign_key", "", "OpenPGP key ID used to sign written manifests; empty disables signing")
		flagSet.StringVar(&config.OpenPGPKeyFile, "openpgp_key", "", "Path to OpenPGP key material to import before verifying or signing")
	}
	if preset&FlagPresetVerify != 0 {
		flagSet.BoolVar(&config.RequireSignedManifest, "require_signed_manifest", false, "Fail verification if the root manifest carries no OpenPGP signature")
		flagSet.BoolVar(&config.KeepGoing, "keep_going", false, "Accumulate every verification problem instead of stopping at the first")
		flagSet.BoolVar(&config.CheckDist, "check_dist", false, "Additionally verify DIST entries against --distdir")
		flagSet.StringVar(&config.Distdir, "distdir", "", "Distfile directory checked when --check_dist is set")
	}
	return config
}

func InjectGlobalFlagsAndConfigure(args []string, flagSet *flag.FlagSet, preset FlagPreset) (api.GlobalConfig, error) {
	var configPath string
	ignoreMissing := true

	if configPathEnv, ok := os.LookupEnv(api.ConfigFileEnv); ok {
		configPath = configPathEnv
		ignoreMissing = false
	}
	flagSet.Func("config", "Path to the config file", func(configPathFlag string) error {
		configPath = configPathFlag
		ignoreMissing = false
		return nil
	})

	flagConfig := globalFlags(flagSet, preset)
	if err := flagSet.Parse(args); err != nil {
		return api.GlobalConfig{}, err
	}
	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == "require_signed_manifest" {
			flagConfig.GlobalConfig.RequireSignedManifest = &flagConfig.RequireSignedManifest
		}
		if f.Name == "keep_going" {
			flagConfig.GlobalConfig.KeepGoing = &flagConfig.KeepGoing
		}
		if f.Name == "check_dist" {
			flagConfig.GlobalConfig.CheckDist = &flagConfig.CheckDist
		}
	})

	fileConfig, err := readConfigFileOrDefault(configPath, ignoreMissing)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	config, err := mergeConfigs(fileConfig, flagConfig.GlobalConfig)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	logging.SetLevel(logging.FromString(config.LogLevel))
	return config, config.Validate()
}

func readConfigFileOrDefault(configPath string, ignoreMissing bool) (api.GlobalConfig, error) {
	config := api.DefaultConfig()

	if ignoreMissing && configPath == "" {
		configPath = ".gemato.json"
	}
	configReader := OSConfigReader{ConfigPath: configPath}
	config, err := api.ReadConfig(configReader, config)
	if ignoreMissing && err == api.ErrConfigNotFound {
		return config, nil
	} else if err != nil {
		return api.GlobalConfig{}, fmt.Errorf("reading config from %s: %w", configPath, err)
	}
	return config, nil
}

func mergeConfigs(base, overlay api.GlobalConfig) (api.GlobalConfig, error) {
	overlayJSON, err := json.Marshal(overlay)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	decoder := json.NewDecoder(bytes.NewReader(overlayJSON))
	decoder.DisallowUnknownFields()

	merged := base
	if err := decoder.Decode(&merged); err != nil {
		return api.GlobalConfig{}, err
	}
	return merged, nil
}

// ResolveProfile looks up config's named profile (defaulting to "default"
// when unset) and overlays its --hashes/--compress_format overrides.
func ResolveProfile(config api.GlobalConfig) (profile.Profile, error) {
	name := profile.Name(config.Profile)
	if name == "" {
		name = profile.Default
	}
	p, err := profile.Lookup(name)
	if err != nil {
		return profile.Profile{}, err
	}

	if config.Hashes != "" {
		var algorithms []digest.Algorithm
		for _, tok := range strings.Split(config.Hashes, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			alg, ok := digest.AlgorithmFromString(tok)
			if !ok {
				return profile.Profile{}, fmt.Errorf("cmdhelper: unknown hash algorithm %q", tok)
			}
			algorithms = append(algorithms, alg)
		}
		p = p.WithHashSet(algorithms)
	}
	if config.CompressFormat != "" {
		format, ok := compressio.ParseFormat(config.CompressFormat)
		if !ok {
			return profile.Profile{}, fmt.Errorf("cmdhelper: unknown compression format %q", config.CompressFormat)
		}
		p = p.WithCompression(format)
	}
	return p, nil
}

// ResolveEnvelope builds the OpenPGP envelope a subcommand should verify
// or sign with: the ambient system keyring by default, or an isolated
// envelope importing config.OpenPGPKeyFile when set. The returned cleanup
// func must be called once the envelope is no longer needed; it is a
// no-op for a system envelope.
func ResolveEnvelope(config api.GlobalConfig) (*openpgp.Envelope, func(), error) {
	if config.OpenPGPKeyFile == "" {
		return openpgp.NewSystemEnvelope(), func() {}, nil
	}
	keyMaterial, err := os.ReadFile(SubstituteHome(config.OpenPGPKeyFile))
	if err != nil {
		return nil, func() {}, fmt.Errorf("cmdhelper: reading openpgp key file: %w", err)
	}
	envelope, err := openpgp.NewIsolatedEnvelope(keyMaterial)
	if err != nil {
		return nil, func() {}, err
	}
	return envelope, func() { envelope.Close() }, nil
}

// ExitForError classifies err into the exit code contract every
// subcommand reports through: verification problems exit 1, usage errors
// exit 2, OpenPGP/cryptographic failures exit 3, and anything else
// (filesystem, config) exits 4.
func ExitForError(err error) api.ExitCode {
	if err == nil {
		return api.ExitSuccess
	}
	var openpgpErr openpgp.Error
	if errors.As(err, &openpgpErr) {
		return api.ExitCryptographic
	}
	if errors.Is(err, profile.ErrUnknownProfile) {
		return api.ExitUsage
	}
	var treeErr tree.TreeError
	if errors.As(err, &treeErr) {
		switch treeErr.(type) {
		case tree.IOFailureError:
			return api.ExitIO
		case tree.OpenPGPRequiredError:
			return api.ExitCryptographic
		default:
			return api.ExitVerificationFailed
		}
	}
	return api.ExitIO
}
