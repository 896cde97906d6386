package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "dumpforge",
	Short:         "Dumpforge: compile property-dump archives into a browsable snapshot",
	Long: `Dumpforge turns a directory of per-class property-dump archives into a
SQLite snapshot plus size-capped chunk files, indexed for random access
by object name.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
