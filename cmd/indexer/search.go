package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatops-tools/matrix-indexer/internal/event"
	"github.com/chatops-tools/matrix-indexer/internal/store"
)

// withStore opens the store for a read-only command and closes it afterwards.
func withStore(fn func(s *store.SQLiteStore) error) error {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = s.Close() }()
	return fn(s)
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				stats, err := s.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println("=== Matrix Indexer Statistics ===")
				fmt.Printf("Total events: %d\n", stats.TotalEvents)
				fmt.Printf("Message events: %d\n", stats.MessageEvents)
				fmt.Printf("Unique rooms: %d\n", stats.UniqueRooms)
				fmt.Printf("Unique users: %d\n", stats.UniqueUsers)
				return nil
			})
		},
	}
}

func roomCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "room <room_id>",
		Short: "List events in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				records, err := s.EventsByRoom(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				printEvents(records)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func userCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "user <user_id>",
		Short: "List events sent by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				records, err := s.EventsBySender(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				printEvents(records)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Full-text search over message bodies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				records, err := s.SearchText(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				printEvents(records)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func dateCmd() *cobra.Command {
	var limit int
	var start, end string

	cmd := &cobra.Command{
		Use:   "date",
		Short: "List events in a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("parsing --start: %w", err)
			}
			endDate, err := time.Parse("2006-01-02", end)
			if err != nil {
				return fmt.Errorf("parsing --end: %w", err)
			}
			// inclusive end date
			endDate = endDate.Add(24*time.Hour - time.Millisecond)

			return withStore(func(s *store.SQLiteStore) error {
				records, err := s.EventsByTimeRange(cmd.Context(), startDate.UnixMilli(), endDate.UnixMilli(), limit)
				if err != nil {
					return err
				}
				printEvents(records)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func typeCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "type <event_type>",
		Short: "List events by type tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				records, err := s.EventsByType(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				printEvents(records)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func printEvents(records []*event.Record) {
	if len(records) == 0 {
		fmt.Println("No events found.")
		return
	}

	fmt.Printf("Found %d events:\n\n", len(records))
	for _, rec := range records {
		fmt.Println(formatEvent(rec))
	}
	fmt.Println()
}

func formatEvent(rec *event.Record) string {
	ts := time.UnixMilli(rec.OriginServerTS).Format("2006-01-02 15:04:05")

	if body := rec.Body(); body != "" {
		if len(body) > 80 {
			body = body[:80]
		}
		return fmt.Sprintf("[%s] %s: %s", ts, rec.Sender, body)
	}
	return fmt.Sprintf("[%s] %s from %s", ts, rec.Type, rec.Sender)
}
