package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convhub/convhub/config"
	"github.com/convhub/convhub/db"
	"github.com/convhub/convhub/errors"
	"github.com/convhub/convhub/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the ConvHub database",
	Long: `db — Manage ConvHub database operations

Examples:
  convhub db stats     # Show job and user counts
  convhub db migrate   # Apply pending schema migrations`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display job counts by lifecycle status plus registered user totals",
	RunE:  runDbStats,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbMigrateCmd)
}

func openConfiguredDB() (*sql.DB, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open database")
	}
	return database, cfg.Database.Path, nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, dbPath, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	var untaken, taken, finished, users int
	err = database.QueryRow(`
		SELECT
			COUNT(CASE WHEN status = 'untaken' THEN 1 END),
			COUNT(CASE WHEN status = 'taken' THEN 1 END),
			COUNT(CASE WHEN status = 'finished' THEN 1 END)
		FROM jobs
	`).Scan(&untaken, &taken, &finished)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query job stats: %w", err)
	}

	err = database.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&users)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query user stats: %w", err)
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:  %s\n", dbPath)
	fmt.Printf("Untaken Jobs:   %d\n", untaken)
	fmt.Printf("Taken Jobs:     %d\n", taken)
	fmt.Printf("Finished Jobs:  %d\n", finished)
	fmt.Printf("Users:          %d\n", users)
	return nil
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, dbPath, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "migration failed")
	}

	fmt.Printf("Database at %s is up to date\n", dbPath)
	return nil
}
