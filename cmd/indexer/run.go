package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatops-tools/matrix-indexer/internal/cache"
	"github.com/chatops-tools/matrix-indexer/internal/cursor"
	"github.com/chatops-tools/matrix-indexer/internal/ingest"
	"github.com/chatops-tools/matrix-indexer/internal/matrix"
	"github.com/chatops-tools/matrix-indexer/internal/store"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the live sync loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := cfg.ValidateMatrix(); err != nil {
				return err
			}
			if !cfg.HasCredentials() {
				return fmt.Errorf("either matrix.password or matrix.access_token must be configured")
			}

			logger.Info("starting indexer",
				zap.String("homeserver", cfg.Matrix.Homeserver),
				zap.String("user_id", cfg.Matrix.UserID),
				zap.String("database", cfg.Database.Path),
			)

			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer func() { _ = s.Close() }()

			client := newMatrixClient()
			if err := client.Login(ctx); err != nil {
				// Bad credentials rule out forward progress; no retry.
				return fmt.Errorf("login: %w", err)
			}

			loop := ingest.NewLoop(
				client,
				s,
				cache.NewRecency(cfg.Sync.CacheSize),
				cursor.NewFile(cfg.Sync.StateFile),
				cfg.Sync.Timeout(),
				cfg.Sync.Backoff(),
				logger,
			)

			if err := loop.Run(ctx); err != nil {
				return fmt.Errorf("sync loop: %w", err)
			}
			return nil
		},
	}
}

func newMatrixClient() *matrix.HTTPClient {
	return matrix.NewClient(
		cfg.Matrix.Homeserver,
		cfg.Matrix.UserID,
		cfg.Matrix.Password,
		cfg.Matrix.AccessToken,
		cfg.Matrix.RatePerSecond,
		logger,
	)
}
