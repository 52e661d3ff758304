package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benaskins/easykey/internal/keystore"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the secret count and last access time",
		Args:  checkArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.open(c, "cli")
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.vault.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.json {
				return printJSON(out, st)
			}
			last := "-"
			if !st.LastAccess.IsZero() {
				last = st.LastAccess.UTC().Format(keystore.TimeFormat)
			}
			fmt.Fprintf(out, "secrets: %d\n", st.Secrets)
			fmt.Fprintf(out, "last_access: %s\n", last)
			return nil
		},
	}
}
