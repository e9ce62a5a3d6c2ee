package cmd

import (
	"fmt"

	"github.com/samogod/trainconf/pkg/schema"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	Version   = "1.0.0"
	BuildDate = "2026-10-19"
	Author    = "samogod"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display version, build date, author and available checks for trainconf",
	Run: func(cmd *cobra.Command, args []string) {
		printVersionInfo()
	},
}

func printVersionInfo() {
	color.Green("Current Version:    %s", Version)
	fmt.Printf("Build Date:         %s\n", BuildDate)
	fmt.Printf("Author:             %s\n", Author)
	fmt.Printf("Checks:             %v\n", schema.CheckNames())
	fmt.Println()
}
