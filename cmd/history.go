package cmd

import (
	"fmt"
	"strings"

	"booth-bridge/db"
	"booth-bridge/ui"

	"github.com/spf13/cobra"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [projectPath]",
	Short: "Show recently imported archives",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, err := projectPathArg(cmd, args)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := bootstrap(projectPath)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.history.Recent(limit)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderHistory(records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Number of records to show")
}

func renderHistory(records []db.ImportRecord) string {
	if len(records) == 0 {
		return "No archives imported yet.\n"
	}
	var b strings.Builder
	b.WriteString(ui.HeaderStyle.Render(fmt.Sprintf("%-19s %-36s %-16s %-8s %s", "When", "Archive", "Product", "Packages", "Status")))
	b.WriteString("\n")
	for _, r := range records {
		fmt.Fprintf(&b, "  %-19s %-36s %-16s %-8d %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			ui.Truncate(r.ArchiveName, 34),
			r.ProductID,
			r.PackageCount,
			ui.ImportStatus(string(r.Status)))
		if r.Message != "" && r.Status != db.StatusImported {
			b.WriteString(ui.MutedStyle.Render("    "+r.Message) + "\n")
		}
	}
	return b.String()
}
