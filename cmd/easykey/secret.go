package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/easykey/internal/keystore"
	"github.com/benaskins/easykey/internal/secmem"
)

func newSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret",
		Long:  "Store a secret. If value is omitted, it is read from stdin, or prompted for without echo on a terminal.",
		Args:  checkArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var value []byte
			if len(args) == 2 {
				value = []byte(args[1])
			} else {
				b, err := readValue(cmd)
				if err != nil {
					return err
				}
				value = b
			}
			release := secmem.Lock(value)
			defer release()

			s, err := c.open(c, "cli")
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.vault.Set(cmd.Context(), name, value, c.reason); err != nil {
				return err
			}
			if !c.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s\n", color.GreenString("✓"), name)
			}
			return nil
		},
	}
}

// readValue reads a secret value from a hidden terminal prompt or from
// piped stdin, dropping one trailing newline.
func readValue(cmd *cobra.Command) ([]byte, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter secret value: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("reading value: %w", err)
		}
		return b, nil
	}

	b, err := io.ReadAll(io.LimitReader(in, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	return b, nil
}

func newGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print a secret",
		Args:  checkArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(c, "cli")
			if err != nil {
				return err
			}
			defer s.Close()

			value, err := s.vault.Get(cmd.Context(), args[0], c.reason)
			if err != nil {
				return err
			}
			release := secmem.Lock(value)
			defer release()

			out := cmd.OutOrStdout()
			if _, err := out.Write(value); err != nil {
				return err
			}
			if !c.quiet {
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Short:   "Delete a secret",
		Aliases: []string{"rm", "delete"},
		Args:    checkArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(c, "cli")
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.vault.Remove(cmd.Context(), args[0], c.reason); err != nil {
				return err
			}
			if !c.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", color.GreenString("✓"), args[0])
			}
			return nil
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List secret names",
		Aliases: []string{"ls"},
		Args:    checkArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(c, "cli")
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.vault.List(cmd.Context(), c.reason)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.json {
				return printJSON(out, records)
			}
			if !c.verbose {
				for _, r := range records {
					fmt.Fprintln(out, r.Name)
				}
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCREATED")
			for _, r := range records {
				created := "-"
				if !r.CreatedAt.IsZero() {
					created = r.CreatedAt.UTC().Format(keystore.TimeFormat)
				}
				fmt.Fprintf(w, "%s\t%s\n", r.Name, created)
			}
			return w.Flush()
		},
	}
}
