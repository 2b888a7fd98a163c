// Package update implements "gemato update": rescan a subtree of an
// existing manifest chain and rewrite its manifest plus every ancestor
// manifest whose recorded digest it affects.
package update

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
	flagSet := flag.NewFlagSet("update", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Rescans a subtree and rewrites its manifest chain.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: gemato update [ARGS...] [SUBTREE]\n")
		fmt.Fprintf(flagSet.Output(), "\nWith no SUBTREE, updates the whole tree rooted at --root.\n")
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
	if flagSet.NArg() > 1 {
		logging.Errorf("At most one subtree argument is accepted.")
		flagSet.Usage()
	}
	subtree := ""
	if flagSet.NArg() == 1 {
		subtree = flagSet.Arg(0)
	}

	envelope, cleanup, err := cmdhelper.ResolveEnvelope(config)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer cleanup()

	root := cmdhelper.SubstituteHome(config.Root)
	t, err := tree.Load(ctx, root, tree.LoadOptions{Envelope: envelope})
	if err != nil {
		logging.Errorf("Loading manifest chain failed: %v", err)
		os.Exit(int(cmdhelper.ExitForError(err)))
	}

	logging.Basicf("Updating %q under %s", subtree, root)
	if err := t.Update(ctx, subtree, tree.UpdateOptions{Profile: profile, SignKeyID: config.SignKeyID, Timestamp: timestamp}); err != nil {
		logging.Errorf("Updating manifest chain failed: %v", err)
		os.Exit(int(cmdhelper.ExitForError(err)))
	}
	logging.Basicf("Manifest chain updated at %s", root)
}
