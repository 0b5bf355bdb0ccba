package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/admin"
	"github.com/tendant/studyshare/pkg/studyshare/reclaim"
	repopg "github.com/tendant/studyshare/pkg/studyshare/repo/postgres"
)

// withRuntime builds the runtime, runs fn and drains the runtime afterwards.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: close: %v\n", err)
		}
	}()
	return fn(ctx, rt)
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("course", "", "filter by course")
	cmd.Flags().String("term", "", "filter by term")
	cmd.Flags().String("subject", "", "filter by subject")
	cmd.Flags().String("kind", "", "filter by kind (notes, past-questions, books, ...)")
	cmd.Flags().StringSlice("status", nil, "filter by status (pending, approved, rejected)")
	cmd.Flags().String("owner-id", "", "filter by owner UUID")
	cmd.Flags().Int("limit", 100, "maximum results")
	cmd.Flags().Int("offset", 0, "pagination offset")
}

func filtersFromFlags(cmd *cobra.Command) (admin.ItemFilters, error) {
	var filters admin.ItemFilters
	filters.Course, _ = cmd.Flags().GetString("course")
	filters.Term, _ = cmd.Flags().GetString("term")
	filters.Subject, _ = cmd.Flags().GetString("subject")
	if kind, _ := cmd.Flags().GetString("kind"); kind != "" {
		filters.Kind = studyshare.NormalizeCategory(studyshare.CategoryKey{Kind: studyshare.Kind(kind)}).Kind
	}
	statuses, _ := cmd.Flags().GetStringSlice("status")
	for _, s := range statuses {
		filters.Statuses = append(filters.Statuses, studyshare.ItemStatus(strings.ToLower(s)))
	}
	if raw, _ := cmd.Flags().GetString("owner-id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filters, fmt.Errorf("invalid --owner-id: %w", err)
		}
		filters.OwnerID = &id
	}
	if cmd.Flags().Lookup("limit") != nil {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		filters.Limit, filters.Offset = &limit, &offset
	}
	return filters, nil
}

func printItems(items []*studyshare.Item) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tCATEGORY\tFILE\tOWNER\tSTATUS\tCREDIT\tCREATED\n")
	for _, item := range items {
		category := fmt.Sprintf("%s/%s/%s/%s", item.Category.Course, item.Category.Term, item.Category.Subject, item.Category.Kind)
		if item.Category.Year != "" {
			category += "/" + item.Category.Year
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f\t%s\n",
			item.ID,
			truncate(category, 40),
			truncate(item.FileName, 25),
			truncate(item.OwnerName, 15),
			item.Status,
			item.Credit,
			item.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
}

// NewPendingCommand lists the moderation queue
func NewPendingCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending submissions, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				resp, err := rt.admin.ListPending(ctx, admin.ListPendingRequest{Limit: limit, Offset: offset})
				if err != nil {
					return fmt.Errorf("failed to list pending items: %w", err)
				}
				if useJSON(cmd) {
					return printJSON(resp)
				}

				for _, p := range resp.Items {
					printItems([]*studyshare.Item{p.Item})
					if len(p.Siblings) > 0 {
						fmt.Println("  approved in category:")
						for _, s := range p.Siblings {
							fmt.Printf("    %s  %s  (%s)\n", s.ID, s.FileName, s.OwnerName)
						}
					}
					fmt.Println()
				}
				fmt.Printf("Total: %d", len(resp.Items))
				if resp.HasMore {
					fmt.Printf(" (has more, use --offset=%d to continue)", offset+len(resp.Items))
				}
				fmt.Println()
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	return cmd
}

// NewListCommand lists items with optional filtering
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items with optional filtering",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := filtersFromFlags(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				resp, err := rt.admin.ListItems(ctx, admin.ListItemsRequest{Filters: filters})
				if err != nil {
					return fmt.Errorf("failed to list items: %w", err)
				}
				if useJSON(cmd) {
					return printJSON(resp)
				}
				printItems(resp.Items)
				fmt.Printf("\nTotal: %d", len(resp.Items))
				if resp.HasMore {
					fmt.Printf(" (has more, use --offset=%d to continue)", resp.Offset+resp.Limit)
				}
				fmt.Println()
				return nil
			})
		},
	}
	addFilterFlags(cmd)
	return cmd
}

// NewCountCommand counts items with optional filtering
func NewCountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count items with optional filtering",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := filtersFromFlags(cmd)
			if err != nil {
				return err
			}
			filters.Limit, filters.Offset = nil, nil
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				resp, err := rt.admin.CountItems(ctx, admin.CountRequest{Filters: filters})
				if err != nil {
					return fmt.Errorf("failed to count items: %w", err)
				}
				if useJSON(cmd) {
					return printJSON(resp)
				}
				fmt.Printf("Total count: %d\n", resp.Count)
				return nil
			})
		},
	}
	addFilterFlags(cmd)
	return cmd
}

// NewStatsCommand prints aggregated statistics
func NewStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Get aggregated statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := filtersFromFlags(cmd)
			if err != nil {
				return err
			}
			filters.Limit, filters.Offset = nil, nil
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				resp, err := rt.admin.GetStatistics(ctx, admin.StatisticsRequest{
					Filters: filters,
					Options: admin.DefaultStatisticsOptions(),
				})
				if err != nil {
					return fmt.Errorf("failed to get statistics: %w", err)
				}
				if useJSON(cmd) {
					return printJSON(resp)
				}

				stats := resp.Statistics
				fmt.Println("=== Item Statistics ===")
				fmt.Printf("\nTotal Count: %d\n", stats.TotalCount)
				if len(stats.ByStatus) > 0 {
					fmt.Println("\nBy Status:")
					for status, count := range stats.ByStatus {
						fmt.Printf("  %-15s: %d\n", status, count)
					}
				}
				if len(stats.ByKind) > 0 {
					fmt.Println("\nBy Kind:")
					for kind, count := range stats.ByKind {
						fmt.Printf("  %-15s: %d\n", kind, count)
					}
				}
				if stats.OldestItem != nil && stats.NewestItem != nil {
					fmt.Println("\nTime Range:")
					fmt.Printf("  Oldest: %s\n", stats.OldestItem.Format(time.RFC3339))
					fmt.Printf("  Newest: %s\n", stats.NewestItem.Format(time.RFC3339))
				}
				fmt.Printf("\nComputed at: %s\n", resp.ComputedAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	addFilterFlags(cmd)
	return cmd
}

func printDecision(cmd *cobra.Command, result *studyshare.ModerationResult) error {
	if useJSON(cmd) {
		return printJSON(result)
	}
	fmt.Printf("Item %s is now %s (decision %s)\n", result.Item.ID, result.Item.Status, result.Decision.ID)
	if result.Replaced != nil {
		fmt.Printf("Replaced %s (%s)\n", result.Replaced.ID, result.Replaced.FileName)
	}
	return nil
}

// NewApproveCommand approves a pending item
func NewApproveCommand() *cobra.Command {
	var replace, reason string

	cmd := &cobra.Command{
		Use:   "approve <item-id>",
		Short: "Approve a pending item, optionally replacing an approved one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id: %w", err)
			}
			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}
			req := studyshare.ApproveRequest{Actor: actor, ItemID: itemID, Reason: reason}
			if replace != "" {
				target, err := uuid.Parse(replace)
				if err != nil {
					return fmt.Errorf("invalid --replace: %w", err)
				}
				req.ReplaceItemID = &target
			}

			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				result, err := rt.Service.Approve(ctx, req)
				if err != nil {
					return err
				}
				return printDecision(cmd, result)
			})
		},
	}

	cmd.Flags().StringVar(&replace, "replace", "", "approved item to retire in favour of this one")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the decision")
	return cmd
}

// NewRejectCommand rejects a pending item
func NewRejectCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <item-id>",
		Short: "Reject a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id: %w", err)
			}
			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				result, err := rt.Service.Reject(ctx, studyshare.RejectRequest{Actor: actor, ItemID: itemID, Reason: reason})
				if err != nil {
					return err
				}
				return printDecision(cmd, result)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

// NewRemoveCommand removes an approved item
func NewRemoveCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove an approved item and its blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id: %w", err)
			}
			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				result, err := rt.Service.Remove(ctx, studyshare.RemoveRequest{Actor: actor, ItemID: itemID, Reason: reason})
				if err != nil {
					return err
				}
				return printDecision(cmd, result)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "removal reason")
	return cmd
}

// NewHistoryCommand prints the activity and decisions of an item
func NewHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <item-id>",
		Short: "Show the activity and decision history of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id: %w", err)
			}
			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				history, err := rt.Service.ItemHistory(ctx, actor, itemID)
				if err != nil {
					return err
				}
				if useJSON(cmd) {
					return printJSON(history)
				}

				fmt.Printf("=== History of %s ===\n", itemID)
				fmt.Println("\nDecisions:")
				for _, d := range history.Decisions {
					fmt.Printf("  %s  %-8s by %s", d.CreatedAt.Format(time.RFC3339), d.Decision, d.AdminName)
					if d.Reason != "" {
						fmt.Printf("  (%s)", d.Reason)
					}
					fmt.Println()
				}
				fmt.Println("\nActivity:")
				for _, e := range history.Activity {
					fmt.Printf("  %s  %-18s session %s\n", e.Action.Timestamp.Format(time.RFC3339), e.Category, e.SessionID)
				}
				return nil
			})
		},
	}
}

// NewSessionsCommand browses the audit ledger
func NewSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "List audit sessions or show the events of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if len(args) == 0 {
					ids, err := rt.admin.ListSessions(ctx)
					if err != nil {
						return err
					}
					if useJSON(cmd) {
						return printJSON(ids)
					}
					for _, id := range ids {
						fmt.Println(id)
					}
					return nil
				}

				events, err := rt.admin.GetSessionLogs(ctx, args[0])
				if err != nil {
					return err
				}
				if useJSON(cmd) {
					return printJSON(events)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "TIME\tACTOR\tACTION\tITEM\tSTATUS\n")
				for _, e := range events {
					item := "-"
					if e.ItemID != nil {
						item = e.ItemID.String()
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.ActorName, e.ActionType, item, e.ItemStatus)
				}
				return w.Flush()
			})
		},
	}
}

// NewReclaimCommand retries deletes of orphaned blobs
func NewReclaimCommand() *cobra.Command {
	var opts reclaim.Options

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Delete blobs whose best-effort delete failed earlier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				opts.OnProgress = func(processed, total int64) {
					fmt.Fprintf(os.Stderr, "processed %d entries\n", processed)
				}
				result, err := reclaim.New(rt.Repository, rt.Service).Run(ctx, opts)
				if err != nil {
					return fmt.Errorf("reclaim failed: %w", err)
				}
				if useJSON(cmd) {
					return printJSON(result)
				}

				fmt.Printf("Found: %d  Reclaimed: %d  Failed: %d  Skipped: %d\n",
					result.TotalFound, result.TotalReclaimed, result.TotalFailed, result.TotalSkipped)
				for _, id := range result.FailedIDs {
					fmt.Printf("  failed: %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 100, "queue entries read per batch")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "skip entries that failed this many times (0 = no limit)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report without deleting")
	return cmd
}

// NewMigrateCommand applies the postgres schema
func NewMigrateCommand() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending postgres migrations (DATABASE_URL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := os.Getenv("DATABASE_URL")
			if dsn == "" || dsn == "memory" {
				return fmt.Errorf("DATABASE_URL must point at postgres")
			}
			ctx := cmd.Context()

			if status {
				db, err := sql.Open("pgx", dsn)
				if err != nil {
					return err
				}
				defer db.Close()
				statuses, err := repopg.MigrationStatus(ctx, db)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				for _, s := range statuses {
					applied := "pending"
					if !s.AppliedAt.IsZero() {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%5d  %-40s  %s\n", s.Source.Version, s.Source.Path, applied)
				}
				return nil
			}

			results, err := repopg.MigrateDSN(ctx, dsn)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("Schema is up to date")
			}
			for _, r := range results {
				fmt.Printf("applied %d %s in %s\n", r.Source.Version, r.Source.Path, r.Duration)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "show migration status instead of applying")
	return cmd
}
