// Package create implements "gemato create": scan a directory from
// scratch and write a fresh manifest chain covering it.
package create

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/projg2/gemato-go/api"
	"github.com/projg2/gemato-go/cmd/internal/cmdhelper"
	"github.com/projg2/gemato-go/internal/logging"
	"github.com/projg2/gemato-go/tree"
)

func Run(ctx context.Context, args []string) {
	flagSet := flag.NewFlagSet("create", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Creates a fresh manifest chain covering a directory tree.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: gemato create [ARGS...]\n")
		flagSet.PrintDefaults()
		os.Exit(int(api.ExitUsage))
	}

	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetProfile|cmdhelper.FlagPresetSign)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	profile, err := cmdhelper.ResolveProfile(config)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	timestamp, err := config.ParsedTimestamp()
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}

	envelope, cleanup, err := cmdhelper.ResolveEnvelope(config)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer cleanup()

	root := cmdhelper.SubstituteHome(config.Root)
	logging.Basicf("Creating manifest chain at %s using profile %q", root, profile.Name)
	_, err = tree.Create(ctx, root, tree.CreateOptions{
		Profile:   profile,
		SignKeyID: config.SignKeyID,
		Envelope:  envelope,
		Timestamp: timestamp,
	})
	if err != nil {
		logging.Errorf("Creating manifest chain failed: %v", err)
		os.Exit(int(cmdhelper.ExitForError(err)))
	}
	logging.Basicf("Manifest chain created at %s", root)
}
