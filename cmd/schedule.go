package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/samogod/trainconf/pkg/orchestrator"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	scheduleFile   string
	scheduleStride int
	scheduleOutput string
	scheduleIndex  bool
	scheduleAt     int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Sample and export the learning-rate schedule",
	Long:  `Resolve the learning-rate schedule of a training configuration, sample it and export the curve as JSONL, optionally indexing it into Elasticsearch`,
	Example: `  trainconf schedule -f llama_7b.yaml
  trainconf schedule -f llama_7b.yaml -at 41373
  trainconf schedule -f llama_7b.yaml -stride 100 -o curve.jsonl -es`,
	Run: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVarP(&scheduleFile, "file", "f", "", "training configuration")
	scheduleCmd.Flags().IntVar(&scheduleStride, "stride", 0, "sample every N steps")
	scheduleCmd.Flags().StringVarP(&scheduleOutput, "output", "o", "", "JSONL file to write the curve to")
	scheduleCmd.Flags().BoolVar(&scheduleIndex, "es", false, "index the sampled schedule into elasticsearch")
	scheduleCmd.Flags().IntVar(&scheduleAt, "at", -1, "print the learning rate at one step")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) {
	if scheduleFile == "" {
		color.Red("Error: -f (file) is required")
		cmd.Help()
		os.Exit(1)
	}

	orch := newOrchestrator()
	defer orch.Close()

	if scheduleAt >= 0 {
		rate, err := orch.RateAt(scheduleFile, scheduleAt)
		if err != nil {
			color.Red("Failed to resolve schedule: %v", err)
			os.Exit(1)
		}
		fmt.Printf("%d\t%g\n", scheduleAt, rate)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), orch.GetConfig().Timeout())
	defer cancel()

	result, err := orch.ExportSchedule(ctx, orchestrator.ScheduleOptions{
		Path:       scheduleFile,
		Stride:     scheduleStride,
		OutputFile: scheduleOutput,
		Index:      scheduleIndex,
	})
	if err != nil {
		color.Red("Schedule export failed: %v", err)
		os.Exit(1)
	}

	if silent {
		return
	}

	sched := result.Schedule
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("SEGMENT\tSCHEDULER\tSTART\tSTEPS\tINITIAL_LR\tEND_LR"))
	for _, span := range sched.Spans() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%g\t%g\n",
			span.Index, span.Scheduler, span.Start, span.Steps, span.InitialRate, span.EndRate)
	}
	w.Flush()

	color.Green("\nTotal steps: %d, points written: %d", sched.Total(), len(result.Points))
}
