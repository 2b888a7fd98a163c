// Package hash implements "gemato hash": run the digest multiplexer over
// one or more files and print their digests, the same computation the
// manifest codec and scanner use internally.
package hash

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/projg2/gemato-go/api"
	"github.com/projg2/gemato-go/cmd/internal/cmdhelper"
	"github.com/projg2/gemato-go/internal/digest"
)

func Run(_ context.Context, args []string) {
	flagSet := flag.NewFlagSet("hash", flag.ExitOnError)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Hashes one or more files with the digest multiplexer.\n\n")
		fmt.Fprintf(flagSet.Output(), "Usage: gemato hash [ARGS...] FILES...\n")
		flagSet.PrintDefaults()
		os.Exit(int(api.ExitUsage))
	}

	config, err := cmdhelper.InjectGlobalFlagsAndConfigure(args, flagSet, cmdhelper.FlagPresetProfile)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}
	profile, err := cmdhelper.ResolveProfile(config)
	if err != nil {
		cmdhelper.FatalFmt("%v", err)
	}

	if flagSet.NArg() == 0 {
		flagSet.Usage()
	}

	exitCode := api.ExitSuccess
	for _, path := range flagSet.Args() {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			exitCode = api.ExitIO
			continue
		}
		sums, size, err := digest.Multiplex(f, profile.HashSet...)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			exitCode = api.ExitIO
			continue
		}
		fmt.Printf("%s\tSIZE=%d\n", path, size)
		for _, alg := range sums.Algorithms() {
			fmt.Printf("\t%s=%s\n", alg, sums[alg])
		}
	}
	os.Exit(int(exitCode))
}
