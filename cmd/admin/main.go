package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/admin"
	"github.com/tendant/studyshare/pkg/studyshare/config"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "studyshare-admin",
		Short: "Moderation and maintenance CLI for studyshare",
		Long: `Studyshare Admin CLI

Works directly against the configured database, blob stores and ledgers.
Configuration is read from the environment (and a .env file), using the
same variables as the server: DATABASE_URL, STORAGE_URL, ACTIVITY_URL,
LEDGER_URL.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "output as JSON")
	rootCmd.PersistentFlags().String("admin-name", "admin-cli", "name recorded on decisions")
	rootCmd.PersistentFlags().String("admin-id", "", "admin UUID recorded on decisions (random when empty)")

	rootCmd.AddCommand(NewPendingCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewCountCommand())
	rootCmd.AddCommand(NewStatsCommand())
	rootCmd.AddCommand(NewApproveCommand())
	rootCmd.AddCommand(NewRejectCommand())
	rootCmd.AddCommand(NewRemoveCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewSessionsCommand())
	rootCmd.AddCommand(NewReclaimCommand())
	rootCmd.AddCommand(NewMigrateCommand())

	return rootCmd
}

// runtime bundles what a command needs; close it when done.
type runtime struct {
	*config.Runtime
	admin admin.AdminService
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	rt, err := cfg.Build(ctx, cfg.NewLogger(os.Stderr))
	if err != nil {
		return nil, err
	}
	return &runtime{
		Runtime: rt,
		admin:   admin.New(rt.Repository, admin.WithAuditLedger(rt.Ledger)),
	}, nil
}

func actorFromFlags(cmd *cobra.Command) (studyshare.Actor, error) {
	name, _ := cmd.Flags().GetString("admin-name")
	raw, _ := cmd.Flags().GetString("admin-id")

	id := uuid.New()
	if raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return studyshare.Actor{}, fmt.Errorf("invalid --admin-id: %w", err)
		}
		id = parsed
	}
	return studyshare.Actor{ID: id, Name: name, Role: studyshare.RoleAdmin}, nil
}

func useJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
