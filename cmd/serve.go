package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/regq/internal/repositories"
	"github.com/desertthunder/regq/internal/server"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve runs the catalogue server until ctx is cancelled.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	dbCfg := r.config.Database
	if cmd.IsSet("db") {
		dbCfg.Path = cmd.String("db")
	}
	srvCfg := r.config.Server
	if cmd.IsSet("host") {
		srvCfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		srvCfg.Port = cmd.Int("port")
	}

	db, err := shared.OpenStoreDatabase(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if srvCfg.Token == "" {
		r.logger.Warn("server token is empty, the catalogue API is unauthenticated")
	}

	srv := server.New(repositories.NewDocumentStore(db), srvCfg, r.logger)
	r.logger.Info("serving catalogue", "addr", srv.Addr(), "database", dbCfg.Path)
	return srv.Run(ctx)
}
