package main

import (
	"time"

	"github.com/spf13/cobra"

	"pgrman/internal/engine"
)

func newValidateCmd(cfgFile *string) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Recompute CRC-32C over a backup's artifacts and flip it to CORRUPT on mismatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			backupID, err := time.ParseInLocation("20060102_150405", id, time.Local)
			if err != nil {
				return err
			}
			b, found, err := a.cat.Get(backupID)
			if err != nil {
				return err
			}
			if !found {
				cmd.Println("no such backup")
				return nil
			}
			return engine.Validate(a.cat, b)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "backup id, YYYYMMDD_HHMMSS")
	cmd.MarkFlagRequired("id")
	return cmd
}
