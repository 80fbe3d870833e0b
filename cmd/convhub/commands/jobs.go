package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/convhub/convhub/db"
	"github.com/convhub/convhub/errors"
	"github.com/convhub/convhub/job"
	"github.com/convhub/convhub/logger"
)

// JobsCmd groups read-only job inspection commands.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect job records",
	Long: `jobs — Inspect job records from the command line

Examples:
  convhub jobs ls                   # List all jobs
  convhub jobs ls --status untaken  # Only untaken jobs
  convhub jobs show <id>            # Show one job in full`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	RunE:  runJobsLs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsStatusFlag string

func init() {
	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	jobsLsCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "Filter by status (untaken, taken, finished)")
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	if jobsStatusFlag != "" && !job.IsValidStatus(jobsStatusFlag) {
		return errors.Newf("unknown status %q (want untaken, taken or finished)", jobsStatusFlag)
	}

	database, _, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	query := `SELECT id FROM jobs ORDER BY posted_at DESC`
	queryArgs := []interface{}{}
	if jobsStatusFlag != "" {
		query = `SELECT id FROM jobs WHERE status = ? ORDER BY posted_at DESC`
		queryArgs = append(queryArgs, jobsStatusFlag)
	}

	rows, err := database.Query(query, queryArgs...)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	store := job.NewStore(database)
	tableData := pterm.TableData{{"ID", "Title", "Status", "Lister", "Taker", "Applicants", "Price"}}

	count := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return errors.Wrap(err, "failed to scan job id")
		}
		j, err := store.Get(context.Background(), id)
		if err != nil {
			return err
		}
		tableData = append(tableData, []string{
			shortID(j.ID),
			j.Title,
			string(j.Status),
			shortID(j.Lister),
			shortID(j.Taker),
			fmt.Sprintf("%d", len(j.Applicants)),
			fmt.Sprintf("%d", j.Price),
		})
		count++
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to iterate jobs")
	}

	if count == 0 {
		pterm.Info.Println("No jobs found")
		return nil
	}

	return pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	database, _, err := openConfiguredDB()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	store := job.NewStore(database)
	j, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Job %s\n", j.ID)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Title:       %s\n", j.Title)
	fmt.Printf("Status:      %s\n", j.Status)
	fmt.Printf("Lister:      %s\n", j.Lister)
	if j.Taker != "" {
		fmt.Printf("Taker:       %s\n", j.Taker)
	}
	fmt.Printf("Price:       %d\n", j.Price)
	fmt.Printf("Address:     %s\n", j.Address)
	if len(j.Categories) > 0 {
		fmt.Printf("Categories:  %s\n", strings.Join(j.Categories, ", "))
	}
	fmt.Printf("Posted:      %s\n", j.PostedAt.Format("2006-01-02 15:04"))
	if j.TakenAt != nil {
		fmt.Printf("Taken:       %s\n", j.TakenAt.Format("2006-01-02 15:04"))
	}
	if j.PaymentProofRef != "" {
		fmt.Printf("Proof:       %s\n", j.PaymentProofRef)
	}
	if j.Rating > 0 {
		fmt.Printf("Rating:      %.1f\n", j.Rating)
	}
	if len(j.Applicants) > 0 {
		fmt.Printf("\nApplicants:\n")
		for _, a := range j.Applicants {
			fmt.Printf("  %s (%s)\n", a.UserID, a.Status)
		}
	}
	return nil
}

// shortID truncates an ID to 8 characters for table display
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
