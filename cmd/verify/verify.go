// Package verify implements "gemato verify": load a tree's manifest
// chain and check the filesystem beneath it against what the chain
// covers.
package verify

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/projg2/gemato-go/api"
	"github.com/projg2/gemato-go/cmd/internal/cmdhelper"
	"github.com/projg2/gemato-go/internal/logging"
	"github.com/projg2/gemato-go/tree"
)

func Run(ctx context.Context, args []string) {
	flagSet := flag.NewFlagSet("verify", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Verifies a directory tree against its manifest chain.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: gemato verify [ARGS...] [PATHS...]\n")
		fmt.Fprintf(flagSet.Output(), "\nWith no PATHS, verifies the whole tree rooted at --root.\n")
		flagSet.PrintDefaults()
		os.Exit(int(api.ExitUsage))
	}

	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetVerify)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}

	envelope, cleanup, err := cmdhelper.ResolveEnvelope(config)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer cleanup()

	root := cmdhelper.SubstituteHome(config.Root)
	loadOpts := tree.LoadOptions{
		Envelope:      envelope,
		RequireSigned: config.RequireSignedManifestEnabled(),
	}
	paths := flagSet.Args()
	verifyOpts := tree.VerifyOptions{
		FailFast:  !config.KeepGoingEnabled(),
		CheckDist: config.CheckDistEnabled(),
		Distdir:   cmdhelper.SubstituteHome(config.Distdir),
	}

	var verifyErr error
	if len(paths) == 0 {
		logging.Debugf("Loading manifest chain at %s", root)
		t, err := tree.Load(ctx, root, loadOpts)
		if err != nil {
			logging.Errorf("Loading manifest chain failed: %v", err)
			os.Exit(int(cmdhelper.ExitForError(err)))
		}
		verifyErr = t.AssertDirectoryVerifies(ctx, "", verifyOpts)
	} else {
		var pathErrs []error
		for _, p := range paths {
			logging.Debugf("Loading manifest chain covering %s", p)
			t, err := tree.LoadPath(ctx, root, p, loadOpts)
			if err != nil {
				pathErrs = append(pathErrs, err)
				if !config.KeepGoingEnabled() {
					break
				}
				continue
			}
			if err := t.AssertPathVerifies(ctx, p); err != nil {
				pathErrs = append(pathErrs, err)
				if !config.KeepGoingEnabled() {
					break
				}
			}
		}
		verifyErr = errors.Join(pathErrs...)
	}

	if verifyErr != nil {
		logging.Errorf("Verification failed: %v", verifyErr)
		os.Exit(int(cmdhelper.ExitForError(verifyErr)))
	}
	logging.Basicf("Verification succeeded for %s", root)
}
