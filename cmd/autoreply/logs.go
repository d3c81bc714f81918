package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/autoreply/internal/config"
	"github.com/gotrs-io/autoreply/internal/ledger"
)

var (
	logsLevelFlag   string
	logsAccountFlag string
	logsLimitFlag   int
	logsClearFlag   bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show or clear the activity log",
	Long: `Prints activity log entries newest first. The log file is read as it is
on disk, so entries a running server has not flushed yet are not shown.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsLevelFlag, "level", "", "Only show INFO, WARNING or ERROR entries")
	logsCmd.Flags().StringVar(&logsAccountFlag, "account", "", "Only show entries for this account")
	logsCmd.Flags().IntVar(&logsLimitFlag, "limit", 50, "Maximum number of entries (0 for all)")
	logsCmd.Flags().BoolVar(&logsClearFlag, "clear", false, "Delete all entries")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	lg, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	defer lg.Close()

	if logsClearFlag {
		if err := lg.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logs cleared")
		return nil
	}

	f := ledger.Filter{Account: logsAccountFlag, Limit: logsLimitFlag}
	if logsLevelFlag != "" {
		if f.Level, err = ledger.ParseLevel(logsLevelFlag); err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tLEVEL\tACCOUNT\tMESSAGE")
	for _, e := range lg.Query(f) {
		account := e.AccountName()
		if account == "" {
			account = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Level, account, e.Message)
	}
	return w.Flush()
}
