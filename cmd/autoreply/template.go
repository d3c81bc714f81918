package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/autoreply/internal/models"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Show or change the reply content",
}

var templateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current reply content",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		tmpl, err := a.templates.Get(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if tmpl == nil {
			fmt.Fprintln(out, "no reply content configured")
			return nil
		}
		fmt.Fprintf(out, "Updated:     %s\n", tmpl.UpdatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Format:      %s\n", tmpl.Format)
		if tmpl.SenderName != "" {
			fmt.Fprintf(out, "Sender name: %s\n", tmpl.SenderName)
		}
		if tmpl.HasFixedSubject() {
			fmt.Fprintf(out, "Subject:     %s\n", tmpl.Subject)
		}
		fmt.Fprintf(out, "\n%s\n", tmpl.Content)
		return nil
	},
}

var (
	templateFileFlag    string
	templateSenderFlag  string
	templateSubjectFlag string
	templateFormatFlag  string
)

var templateSetCmd = &cobra.Command{
	Use:   "set [content]",
	Short: "Store new reply content",
	Long: `Stores new reply content. The content is taken from the argument, from
--file, or from standard input when neither is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := templateContent(cmd, args)
		if err != nil {
			return err
		}

		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		saved, err := a.templates.Save(cmd.Context(), models.ReplyTemplate{
			Content:    content,
			SenderName: templateSenderFlag,
			Subject:    templateSubjectFlag,
			Format:     templateFormatFlag,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reply content saved (%d characters)\n", len(saved.Content))
		return nil
	},
}

func init() {
	templateSetCmd.Flags().StringVarP(&templateFileFlag, "file", "f", "", "Read content from a file")
	templateSetCmd.Flags().StringVar(&templateSenderFlag, "sender-name", "", "Display name used in the From header")
	templateSetCmd.Flags().StringVar(&templateSubjectFlag, "subject", "", "Fixed subject instead of Re: <original>")
	templateSetCmd.Flags().StringVar(&templateFormatFlag, "format", "", "Content format: text or markdown")

	templateCmd.AddCommand(templateShowCmd)
	templateCmd.AddCommand(templateSetCmd)
}

func templateContent(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case templateFileFlag != "":
		data, err := os.ReadFile(templateFileFlag)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", templateFileFlag, err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		content := strings.TrimRight(string(data), "\n")
		if strings.TrimSpace(content) == "" {
			return "", fmt.Errorf("reply content is empty")
		}
		return content, nil
	}
}
