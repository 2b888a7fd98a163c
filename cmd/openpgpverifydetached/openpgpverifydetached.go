// Package openpgpverifydetached implements "gemato openpgp-verify-detached":
// check a detached OpenPGP signature against the data file it covers.
package openpgpverifydetached

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
	flagSet := flag.NewFlagSet("openpgp-verify-detached", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Verifies a detached OpenPGP signature against its data file.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: gemato openpgp-verify-detached [ARGS...] DATA SIGNATURE\n")
		flagSet.PrintDefaults()
		os.Exit(int(api.ExitUsage))
	}

	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetSign)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	if flagSet.NArg() != 2 {
		flagSet.Usage()
	}
	dataPath, sigPath := flagSet.Arg(0), flagSet.Arg(1)

	envelope, cleanup, err := cmdhelper.ResolveEnvelope(config)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	defer cleanup()
	if !envelope.Available() {
		logging.Errorf("No OpenPGP tool available")
		os.Exit(int(api.ExitCryptographic))
	}

	data, err := os.Open(dataPath)
	if err != nil {
		cmdhelper.FatalFmt("opening %s: %v", dataPath, err)
	}
	defer data.Close()
	signature, err := os.ReadFile(sigPath)
	if err != nil {
		cmdhelper.FatalFmt("opening %s: %v", sigPath, err)
	}

	result, err := envelope.VerifyDetached(ctx, data, signature)
	if err != nil {
		logging.Errorf("Signature verification failed: %v", err)
		os.Exit(int(cmdhelper.ExitForError(err)))
	}
	fmt.Printf("Good signature by %s, signed at %s\n", result.Fingerprint, result.SignedAt)
}
