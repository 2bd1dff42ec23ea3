package main

import (
	"strings"

	"github.com/spf13/cobra"

	"pgrman/internal/backuprecord"
	"pgrman/internal/engine"
)

func newBackupCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Take a FULL, INCREMENTAL, or ARCHIVE backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			be := engine.NewBackupEngine(a.cat, a.conn, engine.BackupConfig{
				Mode:              backuprecord.Mode(strings.ToUpper(a.cfg.Mode)),
				Compress:          a.cfg.Compress,
				SmoothCheckpoint:  a.cfg.SmoothCheckpoint,
				WithServerlog:     a.cfg.WithServerlog,
				FullBackupOnError: a.cfg.FullBackupOnError,
				OmitSymlinks:      a.cfg.OmitSymlinks,
				DataDir:           a.cfg.DataDir,
				ServerlogDir:      a.cfg.ServerlogDir,
				ArchiveDir:        a.cfg.ArchiveDir,
				BlacklistFile:     a.cfg.BlacklistFile,
			})

			b, err := be.Run(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("backup %s (%s) %s\n", b.ID.Format("20060102_150405"), b.Mode, b.Status)
			return nil
		},
	}
}
