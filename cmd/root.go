package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samogod/trainconf/pkg/config"
	"github.com/samogod/trainconf/pkg/database"
	"github.com/samogod/trainconf/pkg/dataset"
	"github.com/samogod/trainconf/pkg/elastic"
	"github.com/samogod/trainconf/pkg/orchestrator"
	"github.com/samogod/trainconf/pkg/schema"
	"github.com/samogod/trainconf/pkg/session"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configFile    string
	file          string
	fileList      string
	outputFile    string
	jsonFormat    bool
	silent        bool
	stats         bool
	strict        bool
	verbose       bool
	checks        string
	excludeChecks string
)

var Verbose bool

var rootCmd = &cobra.Command{
	Use:   "trainconf",
	Short: "training configuration checker",
	Long:  `load, validate and inspect YAML training configurations and their learning-rate schedules`,
	Run:   runCheck,
}

// long flags that are accepted with a single dash
var singleDashFlags = []string{
	"fL", "silent", "stats", "strict", "checks", "ec",
	"stride", "es", "at", "section", "task", "workers",
	"status", "all",
}

func Execute() {
	hasSilentFlag := false
	for i, arg := range os.Args {
		for _, name := range singleDashFlags {
			if arg == "-"+name {
				os.Args[i] = "--" + name
			}
		}
		if arg == "-silent" {
			hasSilentFlag = true
		}
	}

	if !hasSilentFlag {
		printBanner()
	}

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func DebugLog(format string, args ...interface{}) {
	if Verbose {
		fmt.Printf("[DBG] "+format+"\n", args...)
	}
}

func setDebugLogFunctions() {
	Verbose = true
	config.DebugLog = DebugLog
	schema.DebugLog = DebugLog
	dataset.DebugLog = DebugLog
	orchestrator.DebugLog = DebugLog
	session.DebugLog = DebugLog
	database.DebugLog = DebugLog
	elastic.DebugLog = DebugLog
}

func init() {
	rootCmd.SetHelpTemplate(`Usage:
  {{.UseLine}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}

{{if .HasAvailableSubCommands}}Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}Flags:
INPUT:
   -f, -file string        training configuration to check
   -fL, -list string       file containing list of configurations to check

CHECKS:
   -checks string          comma-separated list of checks to run (e.g., 'schedule-continuity,data-loader')
   -ec string              comma-separated list of checks to exclude (e.g., 'unused-fields')
   -strict                 treat warnings as failures

SCHEDULE:
   -stride int             sample every N steps (default: derived from schedule_samples)
   -at int                 print the learning rate at one step
   -es                     index the sampled schedule into elasticsearch

SHARDS:
   -section string         input section to plan (train_input, eval_input)
   -task int               task id to plan for
   -workers int            loader workers to split the task's files across

TRACK:
   -status string          filter by status (valid, warn, invalid)
   -all                    query all configurations

OUTPUT:
   -o, -output string      file to write output to
   -j, -json               write output in JSONL(ines) format
   -silent                 silent mode - no banner or extra output
   -stats                  display check statistics

CONFIGURATION:
   -c, -config string      settings file path (default: config/config.yaml)

OPTIMIZATION:
   -v, -verbose            enable verbose/debug output
{{if .HasAvailableSubCommands}}
Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "settings file path (default: config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "silent mode - no banner or extra output")

	rootCmd.Flags().StringVarP(&file, "file", "f", "", "training configuration to check")
	rootCmd.Flags().StringVar(&fileList, "fL", "", "file containing list of configurations to check")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "file to write output to")
	rootCmd.Flags().BoolVarP(&jsonFormat, "json", "j", false, "write output in JSONL(ines) format")
	rootCmd.Flags().BoolVar(&stats, "stats", false, "display check statistics")
	rootCmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as failures")
	rootCmd.Flags().StringVar(&checks, "checks", "", "comma-separated list of checks to run")
	rootCmd.Flags().StringVar(&excludeChecks, "ec", "", "comma-separated list of checks to exclude")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(updateCmd)
}

func newOrchestrator() *orchestrator.Orchestrator {
	if verbose {
		setDebugLogFunctions()
	}

	orch, err := orchestrator.NewOrchestrator(configFile)
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}
	return orch
}

func runCheck(cmd *cobra.Command, args []string) {
	if file == "" && fileList == "" {
		color.Red("Error: either -f (file) or -fL (file-list) is required")
		cmd.Help()
		os.Exit(1)
	}

	if file != "" && fileList != "" {
		color.Red("Error: cannot use both -f and -fL flags together")
		cmd.Help()
		os.Exit(1)
	}

	orch := newOrchestrator()
	defer orch.Close()

	var files []string
	if file != "" {
		files = append(files, file)
	}

	if fileList != "" {
		listed, err := readFilesFromList(fileList)
		if err != nil {
			color.Red("Failed to read file list: %v", err)
			os.Exit(1)
		}
		files = listed
	}

	var out io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			color.Red("Failed to create output file: %v", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	allValid := true
	for _, path := range files {
		DebugLog("checking %s", path)

		result, err := orch.RunCheck(orchestrator.CheckOptions{
			Path:          path,
			Checks:        checks,
			ExcludeChecks: excludeChecks,
			Strict:        strict,
		})
		if err != nil {
			color.Red("Check failed for %s: %v", path, err)
			allValid = false
			continue
		}

		if err := writeResult(out, result); err != nil {
			color.Red("Output error for %s: %v", path, err)
			allValid = false
			continue
		}

		if stats && !silent && result.Err == nil {
			displayStatistics(result)
		}

		if !result.Valid {
			allValid = false
		}
	}

	if !allValid {
		orch.Close()
		os.Exit(1)
	}
}

func readFilesFromList(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var files []string
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no configuration files found in list")
	}

	return files, nil
}

func printBanner() {
	banner := color.CyanString(`
┌┬┐┬─┐┌─┐┬┌┐┌┌─┐┌─┐┌┐┌┌─┐
 │ ├┬┘├─┤││││└┐│  │ ││││├┤
 ┴ ┴└─┴ ┴┴┘└┘└─┘└─┘┘└┘└   @samogod
`)
	info := color.HiBlackString("training configuration & learning-rate schedule checker")
	fmt.Println(banner)
	fmt.Println(info)
	fmt.Println()
}

type WarningOutput struct {
	Check   string `json:"check"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

type CheckOutput struct {
	File          string          `json:"file"`
	Name          string          `json:"name"`
	Digest        string          `json:"digest"`
	Valid         bool            `json:"valid"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	ErrorPath     string          `json:"error_path,omitempty"`
	MaxSteps      int             `json:"max_steps,omitempty"`
	ScheduleSteps int             `json:"schedule_steps,omitempty"`
	Warnings      []WarningOutput `json:"warnings,omitempty"`
	DurationMs    float64         `json:"duration_ms"`
}

func newCheckOutput(result *orchestrator.CheckResult) CheckOutput {
	out := CheckOutput{
		File:       result.Path,
		Name:       result.Name,
		Digest:     result.Digest,
		Valid:      result.Valid,
		DurationMs: result.Duration.Seconds() * 1000,
	}

	if result.Err != nil {
		out.Error = result.Err.Error()
		var ce *schema.ConfigError
		if errors.As(result.Err, &ce) {
			out.ErrorKind = ce.Kind.String()
			out.ErrorPath = ce.Path
		}
	}

	if result.Config != nil {
		out.MaxSteps = result.Config.RunConfig.MaxSteps
		out.ScheduleSteps = result.Config.Optimizer.TotalSteps()
	}

	for _, w := range result.Warnings {
		out.Warnings = append(out.Warnings, WarningOutput{Check: w.Check, Path: w.Path, Message: w.Msg})
	}

	return out
}

func writeResult(w io.Writer, result *orchestrator.CheckResult) error {
	if jsonFormat {
		jsonBytes, err := json.Marshal(newCheckOutput(result))
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(jsonBytes))
		return err
	}

	// plain text keeps colors only on the terminal
	colored := w == io.Writer(os.Stdout)
	line := func(c func(string, ...interface{}) string, format string, args ...interface{}) error {
		msg := fmt.Sprintf(format, args...)
		if colored {
			msg = c("%s", msg)
		}
		_, err := fmt.Fprintln(w, msg)
		return err
	}

	if result.Err != nil {
		return line(color.RedString, "[INVALID] %s: %v", result.Path, result.Err)
	}

	for _, warning := range result.Warnings {
		if err := line(color.YellowString, "[WARN] %s: %s", result.Path, warning); err != nil {
			return err
		}
	}

	if !result.Valid {
		return line(color.RedString, "[INVALID] %s: %d warnings in strict mode", result.Path, len(result.Warnings))
	}

	return line(color.GreenString, "[VALID] %s: %d steps, %d schedule segments, %d warnings in %v",
		result.Path,
		result.Config.RunConfig.MaxSteps,
		len(result.Config.Optimizer.LearningRate),
		len(result.Warnings),
		result.Duration,
	)
}

func displayStatistics(result *orchestrator.CheckResult) {
	fmt.Println()

	color.Cyan("[INF] Printing check statistics for %s", result.Path)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, " Check\tDuration\tWarnings")
	fmt.Fprintln(w, " "+strings.Repeat("─", 50))

	for _, stat := range result.CheckStats {
		duration := fmt.Sprintf("%.3fms", stat.Duration.Seconds()*1000)
		if stat.Duration.Seconds() >= 1 {
			duration = fmt.Sprintf("%.3fs", stat.Duration.Seconds())
		}
		fmt.Fprintf(w, " %s\t%s\t%d\n", stat.Name, duration, stat.Warnings)
	}
	w.Flush()

	fmt.Println()
}
