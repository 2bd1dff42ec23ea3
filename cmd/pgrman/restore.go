package main

import (
	"time"

	"github.com/spf13/cobra"

	"pgrman/internal/engine"
)

func newRestoreCmd(cfgFile *string) *cobra.Command {
	var (
		targetTime string
		targetXid  uint64
		inclusive  bool
		tli        uint32
		action     string
		hardCopy   bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a base backup plus its incremental chain to a recovery target",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			re := engine.NewRestoreEngine(a.cat, a.conn, engine.RestoreConfig{
				DataDir:    a.cfg.DataDir,
				ConfigDir:  a.cfg.ConfigDir,
				ArchiveDir: a.cfg.ArchiveDir,
				PgWalDir:   a.cfg.PgWalDir,
				StagingDir: a.cfg.StagingDir,
				HardCopy:   hardCopy,
				Version:    version,
			})

			target := engine.RestoreTarget{Inclusive: inclusive, Timeline: tli, Action: action}
			if targetTime != "" {
				t, err := time.ParseInLocation("2006-01-02 15:04:05", targetTime, time.Local)
				if err != nil {
					return err
				}
				target.Time = &t
			}
			if cmd.Flags().Changed("target-xid") {
				target.Xid = &targetXid
			}

			return re.Run(ctx, target)
		},
	}

	cmd.Flags().StringVar(&targetTime, "target-time", "", "recovery target time (YYYY-MM-DD HH:MM:SS)")
	cmd.Flags().Uint64Var(&targetXid, "target-xid", 0, "recovery target transaction id")
	cmd.Flags().BoolVar(&inclusive, "target-inclusive", true, "include the target xid/time itself")
	cmd.Flags().Uint32Var(&tli, "target-timeline", 0, "recovery target timeline (0 = newest on disk)")
	cmd.Flags().StringVar(&action, "target-action", "", "action once the target is reached: pause, promote, shutdown")
	cmd.Flags().BoolVar(&hardCopy, "hard-copy", false, "copy archived WAL instead of symlinking")
	return cmd
}
