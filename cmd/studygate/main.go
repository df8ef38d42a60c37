package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "studygate",
	Short:         "Generation gateway for study material",
	Long:          "studygate manages provider API keys, quotas, and cached generation of summaries, exam questions, and document Q&A.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
