package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/benaskins/easykey/internal/vault"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitAuth     = 3
	exitNotFound = 4
)

// cli carries the global flags and streams for one invocation.
type cli struct {
	reason     string
	configPath string
	quiet      bool
	json       bool
	verbose    bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	open   opener
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "easykey",
		Short:         "Authenticated local secret vault",
		Long:          "Store secrets in the platform keystore. Every read, write and delete asks for user presence.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if c.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: level})))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.reason, "reason", "", "Reason shown in the authentication prompt and audit log")
	pf.BoolVarP(&c.quiet, "quiet", "q", false, "Print only the requested data")
	pf.BoolVar(&c.json, "json", false, "Print machine-readable JSON")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Verbose output and debug logging to stderr")
	pf.StringVar(&c.configPath, "config", "", "Config file (default ~/.easykey/config.yaml)")

	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	root.AddCommand(
		newSetCmd(c),
		newGetCmd(c),
		newRemoveCmd(c),
		newListCmd(c),
		newStatusCmd(c),
		newCleanupCmd(c),
		newServeCmd(c),
	)
	return root
}

// run executes one invocation and returns its exit code.
func run(args []string, in io.Reader, out, errOut io.Writer, open opener) int {
	c := &cli{in: in, out: out, errOut: errOut, open: open}
	root := newRootCmd(c)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		printError(errOut, err)
		return exitCode(err)
	}
	return exitOK
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, openSession))
}

func usageError(err error) error {
	return fmt.Errorf("%w: %v", vault.ErrInvalidArguments, err)
}

// checkArgs marks positional-argument failures as usage errors.
func checkArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidArguments):
		return exitUsage
	case errors.Is(err, vault.ErrAuthentication):
		return exitAuth
	case errors.Is(err, vault.ErrNotFound):
		return exitNotFound
	default:
		return exitFailure
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", color.RedString("error:"), err)
}
