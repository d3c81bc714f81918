package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var processedLimitFlag int

var processedCmd = &cobra.Command{
	Use:   "processed <email>",
	Short: "List the most recently answered messages of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.processed.Recent(cmd.Context(), args[0], processedLimitFlag)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROCESSED\tSENDER\tSUBJECT\tMESSAGE-ID")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				rec.ProcessedAt.Format("2006-01-02 15:04:05"), rec.Sender, rec.Subject, rec.MessageID)
		}
		return w.Flush()
	},
}

func init() {
	processedCmd.Flags().IntVar(&processedLimitFlag, "limit", 20, "Maximum number of records")
}
