// Package openpgpverify implements "gemato openpgp-verify": check a
// clearsigned file's OpenPGP signature without touching any manifest
// chain, the same primitive tree.Load uses on the root manifest.
package openpgpverify

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/projg2/gemato-go/api"
	"github.com/projg2/gemato-go/cmd/internal/cmdhelper"
	"github.com/projg2/gemato-go/internal/logging"
)

func Run(ctx context.Context, args []string) {
	flagSet := flag.NewFlagSet("openpgp-verify", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Verifies a clearsigned file's OpenPGP signature.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: gemato openpgp-verify [ARGS...] FILE\n")
		flagSet.PrintDefaults()
		os.Exit(int(api.ExitUsage))
	}

	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetSign)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
	}
	path := flagSet.Arg(0)

	envelope, cleanup, err := cmdhelper.ResolveEnvelope(config)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer cleanup()
	if !envelope.Available() {
		logging.Errorf("No OpenPGP tool available")
		os.Exit(int(api.ExitCryptographic))
	}

	f, err := os.Open(path)
	if err != nil {
		cmdhelper.FatalFmt("opening %s: %v", path, err)
	}
	defer f.Close()

	result, err := envelope.Verify(ctx, f)
	if err != nil {
		logging.Errorf("Signature verification failed: %v", err)
		os.Exit(int(cmdhelper.ExitForError(err)))
	}
	fmt.Printf("Good signature by %s, signed at %s\n", result.Fingerprint, result.SignedAt)
}
