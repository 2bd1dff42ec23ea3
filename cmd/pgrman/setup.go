package main

import (
	"context"
	"fmt"

	"pgrman/internal/catalog"
	"pgrman/internal/config"
	"pgrman/internal/logging"
	"pgrman/internal/pgconn"
)

// app bundles the collaborators every subcommand needs, built once
// from the loaded config.
type app struct {
	cfg  config.Config
	cat  *catalog.Catalog
	conn pgconn.Conn
}

func newApp(ctx context.Context, cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(cfg.LogLevel)

	cat := catalog.New(cfg.BackupCatalogDir)
	if idx, err := catalog.OpenIndex(cfg.BackupCatalogDir + "/index.sqlite"); err == nil {
		cat = cat.WithIndex(idx)
	} else {
		logging.For("cmd").Warn().Err(err).Msg("sqlite catalog index unavailable, falling back to filesystem scan only")
	}

	conn, err := pgconn.Dial(ctx, cfg.ConnDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to cluster: %w", err)
	}

	return &app{cfg: cfg, cat: cat, conn: conn}, nil
}

func (a *app) Close(ctx context.Context) {
	if a.conn != nil {
		_ = a.conn.Close(ctx)
	}
}
