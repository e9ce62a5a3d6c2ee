package cmd

import (
	"fmt"
	"os"

	"github.com/samogod/trainconf/pkg/update"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update trainconf to the latest version",
	Long: `Update trainconf to the latest version from GitHub releases.
This command will:
  - Check for the latest release on GitHub
  - Download the appropriate binary for your platform
  - Verify it against the release checksums when published
  - Replace the current binary with the new version`,
	Example: `  trainconf update
  trainconf update -v`,
	Run: runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) {
	fmt.Println()

	orch := newOrchestrator()
	defer orch.Close()

	if err := update.CheckAndUpdate(orch.GetSession().Client, "v"+Version, verbose); err != nil {
		color.Red("Update failed: %v", err)
		os.Exit(1)
	}
}
