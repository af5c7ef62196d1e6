/*
Copyright © 2025 The tometran authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tometran/tometran/internal/store"
)

var logDBPath string

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Manage the raw LLM exchange log",
	Long:  `List, export, and clear the SQLite log of raw LLM exchanges.`,
}

var logRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded translation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.New(logDBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		runs, err := db.ListRuns(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDOCUMENT\tSOURCE\tTARGET\tUNITS\tUNRESOLVED\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				r.ID, r.DocumentTitle, r.SourceLang, r.TargetLang,
				r.UnitCount, r.UnresolvedCount, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var logListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List a run's exchanges in completion order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.New(logDBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		exchanges, err := db.ListExchanges(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list exchanges: %w", err)
		}

		if len(exchanges) == 0 {
			fmt.Println("No exchanges for this run.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tVARIANT\tATTEMPTS\tERROR\tRESPONSE")
		for _, e := range exchanges {
			snippet := e.Response
			if len(snippet) > 60 {
				snippet = snippet[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				e.TaskID, e.Variant, e.Attempts, e.Error, snippet)
		}
		return w.Flush()
	},
}

var logExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's raw exchanges as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.New(logDBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		return db.ExportJSONL(context.Background(), args[0], os.Stdout)
	},
}

var logStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show exchange log statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.New(logDBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Total runs:      %d\n", stats.TotalRuns)
		fmt.Printf("Total exchanges: %d\n", stats.TotalExchanges)
		fmt.Printf("Failed tasks:    %d\n", stats.FailedTasks)
		return nil
	},
}

var logClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all recorded runs and exchanges",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.New(logDBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		n, err := db.Clear(context.Background())
		if err != nil {
			return fmt.Errorf("failed to clear log: %w", err)
		}
		fmt.Printf("Cleared %d exchange(s) from the log.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.PersistentFlags().StringVar(&logDBPath, "db", "./data/tometran.db", "Database path")

	logCmd.AddCommand(logRunsCmd)
	logCmd.AddCommand(logListCmd)
	logCmd.AddCommand(logExportCmd)
	logCmd.AddCommand(logStatsCmd)
	logCmd.AddCommand(logClearCmd)
}
