package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var (
	statusFilter string
	statusLimit  int
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display stored test runs",
		Long: `Display stored test runs with their status, artifact, and suite counts.
Shows an aggregate count per status followed by the most recent runs.

Use --status to filter by run status, --limit to bound the table.`,
		Example: `  testgate status
  testgate status --status aborted
  testgate status --limit 5`,
		RunE: statusRun,
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "only show runs with this status (pending, announced, aborted)")
	cmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum number of runs to show")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	log.Info("status request", "status", statusFilter, "limit", statusLimit)

	total, byStatus, err := globalEngine.RunCounts()
	if err != nil {
		return fmt.Errorf("counting test runs: %w", err)
	}

	fmt.Println("Test Run Status")
	fmt.Println("===============")
	fmt.Println("")
	fmt.Printf("Total runs: %d\n", total)

	statuses := make([]string, 0, len(byStatus))
	for status := range byStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Printf("  %-12s %d\n", status+":", byStatus[status])
	}
	fmt.Println("")

	runs, err := globalStore.ListTestRuns(statusFilter, statusLimit)
	if err != nil {
		return fmt.Errorf("listing test runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No test runs found matching criteria")
		return nil
	}

	fmt.Printf("%-38s %-10s %-24s %7s %18s\n", "ID", "Status", "Artifact", "Suites", "Created")
	fmt.Println(strings.Repeat("-", 102))

	for _, run := range runs {
		artifact := run.ArtifactIdentity
		if artifact == "" {
			artifact = run.ArtifactID
		}
		if len(artifact) > 24 {
			artifact = artifact[:21] + "..."
		}

		fmt.Printf("%-38s %-10s %-24s %7d %18s\n",
			run.ID,
			run.Status,
			artifact,
			run.SuiteCount,
			run.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	fmt.Println("")

	return nil
}
