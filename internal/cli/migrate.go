package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Run:   runMigrate,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Run:   runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fail("Failed to load config", err)
	}
	cfg.Database.AutoMigrate = false

	ctx := context.Background()
	store, db, err := openHistory(ctx, cfg)
	if err != nil {
		fail("Failed to connect to database", err)
	}
	defer func() {
		_ = store.Close()
	}()

	if err := db.Migrate(ctx); err != nil {
		fail("Failed to migrate", err)
	}
	fmt.Println("Migrations applied")
}

func runMigrateStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fail("Failed to load config", err)
	}
	cfg.Database.AutoMigrate = false

	ctx := context.Background()
	store, db, err := openHistory(ctx, cfg)
	if err != nil {
		fail("Failed to connect to database", err)
	}
	defer func() {
		_ = store.Close()
	}()

	states, err := db.MigrationStatus(ctx)
	if err != nil {
		fail("Failed to read migration status", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "VERSION\tSOURCE\tSTATE")
	for _, s := range states {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Source, state)
	}
	_ = w.Flush()
}
