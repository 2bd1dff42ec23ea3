package main

import (
	"github.com/spf13/cobra"
)

func newShowCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List backups in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			backups, err := a.cat.List(nil, nil)
			if err != nil {
				return err
			}
			for _, b := range backups {
				cmd.Printf("%s  %-11s  %-8s  tli=%d  start=%s  stop=%s\n",
					b.ID.Format("20060102_150405"), b.Mode, b.Status, b.TimelineID,
					b.StartLSN, b.StopLSN)
			}
			return nil
		},
	}
}
