package cmd

import (
	"fmt"
	"sort"
	"strings"

	"booth-bridge/catalog"
	"booth-bridge/ui"

	"github.com/spf13/cobra"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog [projectPath]",
	Short: "Show the synced BOOTH library",
	Long: `Prints every product in the project's catalog with its install state.
Use --installed to only list products that were already imported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, err := projectPathArg(cmd, args)
		if err != nil {
			return err
		}
		onlyInstalled, _ := cmd.Flags().GetBool("installed")

		a, err := bootstrap(projectPath)
		if err != nil {
			return err
		}
		defer a.Close()

		products, err := a.store.Load()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderCatalog(products, onlyInstalled))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().Bool("installed", false, "Only list installed products")
}

func renderCatalog(products []catalog.Product, onlyInstalled bool) string {
	sorted := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		if onlyInstalled && !p.Installed {
			continue
		}
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Title) < strings.ToLower(sorted[j].Title)
	})

	if len(sorted) == 0 {
		return "No products in the catalog. Sync your BOOTH library from the browser extension.\n"
	}

	var b strings.Builder
	b.WriteString(ui.HeaderStyle.Render(fmt.Sprintf("%-16s %-40s %-20s %-10s %s", "ID", "Title", "Author", "Source", "State")))
	b.WriteString("\n")
	for _, p := range sorted {
		fmt.Fprintf(&b, "  %-16s %-40s %-20s %-10s %s\n",
			p.ID, ui.Truncate(p.Title, 38), ui.Truncate(p.Author, 18), p.Source, ui.Installed(p.Installed))
		if p.Installed && p.ImportPath != "" {
			b.WriteString(ui.MutedStyle.Render("    → "+p.ImportPath) + "\n")
		}
	}
	fmt.Fprintf(&b, "\n%d products\n", len(sorted))
	return b.String()
}
