// Package api holds the small amount of state every gemato subcommand
// shares: the global configuration type, the environment variable names
// that seed it, and the process exit-code contract.
package api

// ExitCode enumerates the process exit statuses every subcommand uses,
// so a caller scripting gemato can distinguish "the tree doesn't verify"
// from "gemato itself couldn't run".
type ExitCode int

const (
	ExitSuccess            ExitCode = 0
	ExitVerificationFailed ExitCode = 1
	ExitUsage              ExitCode = 2
	ExitCryptographic      ExitCode = 3
	ExitIO                 ExitCode = 4
)
