package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func createLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the outcome log",
	}

	cmd.AddCommand(createLogExportCmd())

	return cmd
}

func createLogExportCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export outcome log entries as JSON lines",
		Long: `Export the most recent outcome log entries, newest first,
one JSON object per line.

EXAMPLES:
  rolewarden log export
  rolewarden log export --limit 500 > outcomes.jsonl
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogExport(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1000, "number of entries to export")

	return cmd
}

func runLogExport(limit int) error {
	if limit < 1 {
		return fmt.Errorf("limit must be positive")
	}

	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.ListOutcomes(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing outcomes: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encoding entry: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "%d entry(s) exported\n", len(entries))
	return nil
}
