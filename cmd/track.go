package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samogod/trainconf/pkg/database"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	trackStatus string
	trackAll    bool
)

var trackCmd = &cobra.Command{
	Use:   "track [name]",
	Short: "Query the configuration run registry",
	Long:  `Query the run registry for a specific configuration or all configurations`,
	Run:   runTrack,
}

func init() {
	trackCmd.Flags().StringVar(&trackStatus, "status", "", "filter by status (valid, warn, invalid)")
	trackCmd.Flags().BoolVar(&trackAll, "all", false, "query all configurations")
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) {
	if !trackAll && len(args) == 0 {
		color.Red("Error: either provide a configuration name or use --all flag")
		cmd.Help()
		os.Exit(1)
	}

	if trackAll && len(args) > 0 {
		color.Red("Error: cannot use both a name and --all flag together")
		cmd.Help()
		os.Exit(1)
	}

	orch := newOrchestrator()
	defer orch.Close()

	db := orch.GetDB()
	if !db.IsEnabled() {
		color.Red("Error: Database is not enabled. Please enable it in config.yaml")
		os.Exit(1)
	}

	if trackStatus != "" {
		trackStatus = strings.ToUpper(trackStatus)
	}

	ctx, cancel := context.WithTimeout(context.Background(), orch.GetConfig().Timeout())
	defer cancel()

	var records []database.RunRecord
	var err error
	if trackAll {
		records, err = db.QueryAllRuns(ctx, trackStatus)
	} else {
		records, err = db.QueryRuns(ctx, args[0], trackStatus)
	}
	if err != nil {
		color.Red("Failed to query database: %v", err)
		os.Exit(1)
	}

	if !trackAll && len(records) == 0 {
		color.Yellow("[INF] Configuration %s not found in database.", args[0])
		os.Exit(0)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("NAME\tDIGEST\tMAX_STEPS\tSCHEDULE_STEPS\tWARNINGS\tSTATUS\tFIRST_SEEN\tLAST_SEEN"))
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, r := range records {
		statusColor := color.GreenString
		if r.Status == database.StatusInvalid {
			statusColor = color.RedString
		} else if r.Status == database.StatusWarn {
			statusColor = color.YellowString
		}

		digest := r.Digest
		if len(digest) > 12 {
			digest = digest[:12]
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.Name,
			digest,
			r.MaxSteps,
			r.ScheduleSteps,
			r.Warnings,
			statusColor(r.Status),
			r.FirstSeen.Format("2006-01-02 15:04:05"),
			r.LastSeen.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	color.Green("\nTotal records: %d", len(records))
}
