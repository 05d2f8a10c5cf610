package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/executor"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/monitor"
	"github.com/kyleking/text2sql-router/internal/server"
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Description: `Serve /match_schema/, /generate-sql/, /validate-sql/ and /execute-query over HTTP.
Corpus embeddings are computed before the listener opens. Query execution is
disabled when the configured executor cannot be opened.`,
		Flags: withGlobalFlags(&cli.IntFlag{Name: "port", Usage: "Port to listen on"}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, p, err := openPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := executor.New(ctx, cfg.Executor)
	if err != nil {
		logging.WithError(err).Warn("Query execution disabled")

		runner = nil
	} else {
		defer runner.Close()
	}

	srv := server.New(p, runner, cfg.Server)

	if cfg.Debug.Enabled {
		mon := monitor.NewMemoryMonitor()
		mon.Start(ctx, 30*time.Second)
		defer mon.Stop()

		srv.WithMemoryMonitor(mon)
	}

	logging.WithFields(map[string]any{
		"databases": p.Corpus().Len(),
		"alloc_mb":  fmt.Sprintf("%.1f", monitor.Snapshot().AllocMB),
	}).Info("Pipeline ready")

	return srv.Run(ctx)
}
