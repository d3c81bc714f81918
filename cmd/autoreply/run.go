package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/autoreply/internal/services/autoreply"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process all active accounts once and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.close()

		sum := a.runner.Run(cmd.Context(), autoreply.OriginManual)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
		if sum.Aborted() {
			return fmt.Errorf("run failed: %w", sum.Err)
		}
		return nil
	},
}
