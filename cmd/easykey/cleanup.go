package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/benaskins/easykey/internal/vault"
)

func newCleanupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove every secret and the vault metadata",
		Long:  "Remove every stored secret and the vault metadata. Asks for confirmation on stdin.",
		Args:  checkArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			errOut := cmd.ErrOrStderr()
			fmt.Fprintf(errOut, "%s This removes ALL secrets stored by easykey.\n", color.YellowString("!"))
			fmt.Fprint(errOut, "Type 'yes' to confirm: ")

			line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if strings.TrimSpace(line) != "yes" {
				fmt.Fprintln(errOut, "Cleanup cancelled.")
				return nil
			}

			s, err := c.open(c, "cli")
			if err != nil {
				return err
			}
			defer s.Close()

			v := s.vault
			token := v.RequestCleanup()

			var sp *spinner.Spinner
			if isTerminal(errOut) && !c.quiet {
				sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(errOut))
				sp.Suffix = " Removing secrets..."
				sp.Start()
			}
			report, err := v.Cleanup(cmd.Context(), token, c.reason)
			if sp != nil {
				sp.Stop()
			}
			if report == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.json {
				if perr := printJSON(out, report); perr != nil {
					return perr
				}
			} else {
				printCleanupReport(c, out, errOut, report)
			}
			return err
		},
	}
}

func printCleanupReport(c *cli, out, errOut io.Writer, report *vault.CleanupReport) {
	fmt.Fprintf(out, "Removed %d secrets using individual deletion.\n", report.Removed)
	if len(report.Failed) > 0 && !c.quiet {
		fmt.Fprintf(errOut, "%s %d secrets could not be removed individually and were swept: %s\n",
			color.YellowString("!"), len(report.Failed), strings.Join(report.Failed, ", "))
	}
}
