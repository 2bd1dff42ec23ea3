package main

import (
	"github.com/spf13/cobra"
)

func newPurgeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove the on-disk directory of every DELETED backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			removed, err := a.cat.Purge()
			if err != nil {
				return err
			}
			cmd.Printf("purged %d backup director%s\n", len(removed), plural(len(removed)))
			return nil
		},
	}
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
