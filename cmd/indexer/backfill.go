package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatops-tools/matrix-indexer/internal/backfill"
	"github.com/chatops-tools/matrix-indexer/internal/cache"
	"github.com/chatops-tools/matrix-indexer/internal/store"
)

func backfillCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill [room_id]",
		Short: "Fetch historical events for one room, or all joined rooms",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if limit <= 0 {
				limit = cfg.Backfill.RoomLimit
			}

			if err := cfg.ValidateMatrix(); err != nil {
				return err
			}
			if !cfg.HasCredentials() {
				return fmt.Errorf("either matrix.password or matrix.access_token must be configured")
			}

			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer func() { _ = s.Close() }()

			client := newMatrixClient()
			if err := client.Login(ctx); err != nil {
				return fmt.Errorf("login: %w", err)
			}

			// A single immediate sync fills the client's room registry
			// with joined rooms and their earliest-known positions.
			if _, err := client.Sync(ctx, "", 0); err != nil {
				return fmt.Errorf("initial sync: %w", err)
			}

			walker := backfill.NewWalker(
				client,
				s,
				cache.NewRecency(cfg.Sync.CacheSize),
				cfg.Backfill.BatchSize,
				cfg.Backfill.BatchDelay(),
				cfg.Backfill.RoomDelay(),
				logger,
			)

			if len(args) == 1 {
				count, err := walker.BackfillRoom(ctx, args[0], limit)
				if err != nil {
					return fmt.Errorf("backfill %s: %w", args[0], err)
				}
				fmt.Printf("Backfilled %d events for %s\n", count, args[0])
				return nil
			}

			results, err := walker.BackfillAllRooms(ctx, limit)
			if err != nil {
				return fmt.Errorf("backfill sweep: %w", err)
			}

			rooms := make([]string, 0, len(results))
			total := 0
			for roomID, count := range results {
				rooms = append(rooms, roomID)
				total += count
			}
			sort.Strings(rooms)

			for _, roomID := range rooms {
				fmt.Printf("%s: %d events\n", roomID, results[roomID])
			}
			fmt.Printf("Total: %d events across %d rooms\n", total, len(rooms))

			logger.Info("backfill finished",
				zap.Int("rooms", len(rooms)), zap.Int("events", total))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events per room (default from config)")
	return cmd
}
