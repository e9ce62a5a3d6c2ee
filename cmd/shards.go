package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	shardsFile    string
	shardsSection string
	shardsTask    int
	shardsWorkers int
)

var shardsCmd = &cobra.Command{
	Use:   "shards",
	Short: "Show which dataset files a task reads",
	Long:  `Discover the HDF5 files of an input section and show the shard a task streams, split across its loader workers`,
	Example: `  trainconf shards -f llama_7b.yaml
  trainconf shards -f llama_7b.yaml -section eval_input -task 1`,
	Run: runShards,
}

func init() {
	shardsCmd.Flags().StringVarP(&shardsFile, "file", "f", "", "training configuration")
	shardsCmd.Flags().StringVar(&shardsSection, "section", "train_input", "input section to plan (train_input, eval_input)")
	shardsCmd.Flags().IntVar(&shardsTask, "task", 0, "task id to plan for")
	shardsCmd.Flags().IntVar(&shardsWorkers, "workers", 0, "loader workers to split across (default: the section's num_workers)")
	rootCmd.AddCommand(shardsCmd)
}

func runShards(cmd *cobra.Command, args []string) {
	if shardsFile == "" {
		color.Red("Error: -f (file) is required")
		cmd.Help()
		os.Exit(1)
	}

	orch := newOrchestrator()
	defer orch.Close()

	plan, err := orch.ShardPlan(shardsFile, shardsSection, shardsTask)
	if err != nil {
		color.Red("Failed to plan shards: %v", err)
		os.Exit(1)
	}

	color.Cyan("[INF] Task %d/%d reads %d of %d files, per-system batch %d",
		plan.TaskID, plan.NumTasks, len(plan.Files), len(plan.AllFiles), plan.PerSystemBatchSize)
	if plan.Shuffled {
		color.Cyan("[INF] Files shuffled with seed %d", plan.Seed)
	}
	for i, group := range plan.Features.Groups {
		color.Cyan("[INF] Features[%d] (%s): %s", i, plan.Features.Source, strings.Join(group, ", "))
	}
	fmt.Println()

	workers := shardsWorkers
	if workers <= 0 {
		workers = max(plan.NumWorkers, 1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("WORKER\tORDER\tFILE"))
	for worker := 0; worker < workers; worker++ {
		files, err := plan.WorkerFiles(worker, workers)
		if err != nil {
			color.Red("Failed to split files: %v", err)
			os.Exit(1)
		}
		for i, f := range files {
			fmt.Fprintf(w, "%d\t%d\t%s\n", worker, i, filepath.Base(f))
		}
	}
	w.Flush()
}
