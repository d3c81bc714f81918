package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/autoreply/internal/models"
)

var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Aliases: []string{"account"},
	Short:   "Manage the mailboxes that are polled",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		accounts, err := a.accounts.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tIMAP\tSMTP\tACTIVE")
		for _, acc := range accounts {
			fmt.Fprintf(w, "%d\t%s\t%s:%d\t%s:%d\t%t\n",
				acc.ID, acc.Email, acc.IMAPHost, acc.IMAPPort, acc.SMTPHost, acc.SMTPPort, acc.IsActive)
		}
		return w.Flush()
	},
}

var (
	addIMAPHostFlag string
	addIMAPPortFlag int
	addSMTPHostFlag string
	addSMTPPortFlag int
	addPasswordFlag string
	addInactiveFlag bool
)

var accountsAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Add an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		acc := &models.EmailAccount{
			Email:    args[0],
			IMAPHost: addIMAPHostFlag,
			IMAPPort: addIMAPPortFlag,
			SMTPHost: addSMTPHostFlag,
			SMTPPort: addSMTPPortFlag,
			Password: addPasswordFlag,
			IsActive: !addInactiveFlag,
		}
		if err := a.accounts.Create(cmd.Context(), acc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "account %s added (id %d)\n", acc.Email, acc.ID)
		return nil
	},
}

func init() {
	accountsAddCmd.Flags().StringVar(&addIMAPHostFlag, "imap-host", "", "IMAP server host (required)")
	accountsAddCmd.Flags().IntVar(&addIMAPPortFlag, "imap-port", 993, "IMAP server port")
	accountsAddCmd.Flags().StringVar(&addSMTPHostFlag, "smtp-host", "", "SMTP server host (required)")
	accountsAddCmd.Flags().IntVar(&addSMTPPortFlag, "smtp-port", 465, "SMTP server port")
	accountsAddCmd.Flags().StringVar(&addPasswordFlag, "password", "", "Mailbox password")
	accountsAddCmd.Flags().BoolVar(&addInactiveFlag, "inactive", false, "Create the account without polling it")
	_ = accountsAddCmd.MarkFlagRequired("imap-host")
	_ = accountsAddCmd.MarkFlagRequired("smtp-host")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(setActiveCmd("activate", "Resume polling an account", true))
	accountsCmd.AddCommand(setActiveCmd("deactivate", "Stop polling an account", false))
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.accounts.SetActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s %sd\n", args[0], use)
			return nil
		},
	}
}
