// Package root is the top-level command dispatch for gemato: it reads
// GEMATO_LOGGING before anything else, then routes to one of the verb
// subcommands by its first argument.
package root

import (
	"context"
	"fmt"
	"os"

	"github.com/projg2/gemato-go/api"
	"github.com/projg2/gemato-go/cmd/create"
	"github.com/projg2/gemato-go/cmd/hash"
	"github.com/projg2/gemato-go/cmd/openpgpverify"
	"github.com/projg2/gemato-go/cmd/openpgpverifydetached"
	"github.com/projg2/gemato-go/cmd/update"
	"github.com/projg2/gemato-go/cmd/verify"
	"github.com/projg2/gemato-go/internal/logging"
)

const usage = `Usage: gemato [COMMAND] [ARGS...]

Commands:
  verify                     Verify a tree against its manifest chain
  create                     Create a fresh manifest chain for a tree
  update                     Rescan a subtree and rewrite its manifest chain
  hash                       Hash one or more files with the multiplexer
  openpgp-verify             Verify a clearsigned manifest's signature
  openpgp-verify-detached    Verify a detached OpenPGP signature`

func Run(ctx context.Context, args []string) {
	setLogLevel()
	if len(args) < 2 {
		printUsage()
	}

	command := args[1]
	switch command {
	case "verify":
		verify.Run(ctx, args[2:])
	case "create":
		create.Run(ctx, args[2:])
	case "update":
		update.Run(ctx, args[2:])
	case "hash":
		hash.Run(ctx, args[2:])
	case "openpgp-verify":
		openpgpverify.Run(ctx, args[2:])
	case "openpgp-verify-detached":
		openpgpverifydetached.Run(ctx, args[2:])
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, usage)
	os.Exit(int(api.ExitUsage))
}

func setLogLevel() {
	level, ok := os.LookupEnv(api.LogLevelEnv)
	if !ok {
		return
	}
	logging.SetLevel(logging.FromString(level))
}
