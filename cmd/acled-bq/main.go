package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/acled-bq/pkg/config"
)

var version = "0.1.0"

// errRunFailed is returned when the run ends with the failed outcome and
// FAIL_ON_ERROR is set.
var errRunFailed = errors.New("ingestion run failed")

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "acled-bq",
		Short: "Copy ACLED conflict events into BigQuery",
		Long: `acled-bq pages through the ACLED REST API and loads every page into a
BigQuery table as one load job. All settings come from environment variables
(a .env file in the working directory is read first).

Required:
  ACLED_API_URL   base query URL including credentials and filters`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	root.SetOut(out)

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one ingestion (the default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List the built-in ingestion profiles",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Available profiles (INGEST_PROFILE):")
			for _, p := range config.Profiles() {
				limit := "unbounded"
				if p.MaxRecords > 0 {
					limit = fmt.Sprintf("max %d records", p.MaxRecords)
				}
				fmt.Fprintf(w, "  - %-7s %s pagination, batch %d, %s, %s: %s\n",
					p.Name, p.Pagination, p.BatchSize, p.WriteMode, limit, p.Description)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "acled-bq v%s\n", version)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	return root
}
