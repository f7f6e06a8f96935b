package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"booth-bridge/bridge"
	"booth-bridge/correlate"

	"github.com/spf13/cobra"
)

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Tell a running relay which product a downloaded file belongs to",
	Long: `Posts a download notification to the relay so that an archive with a
non-standard name is still matched when it lands in Downloads.
Example: booth-bridge notify --file "Outfit v2.zip" --product 123456`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		file, _ := cmd.Flags().GetString("file")
		product, _ := cmd.Flags().GetString("product")
		download, _ := cmd.Flags().GetString("download")

		n, err := buildNotification(file, product, download, time.Now())
		if err != nil {
			return err
		}
		size, err := bridge.NewClient(addr, "booth-bridge/cli").NotifyDownload(cmd.Context(), n)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s (%d pending)\n", n.Filename, size)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.Flags().String("addr", fmt.Sprintf("localhost:%d", bridge.DefaultPort), "Relay address")
	notifyCmd.Flags().String("file", "", "Downloaded file name")
	notifyCmd.Flags().String("product", "", "BOOTH item id (123456 or booth_123456)")
	notifyCmd.Flags().String("download", "", "BOOTH downloadable id")
	_ = notifyCmd.MarkFlagRequired("file")
}

// buildNotification validates CLI input. Bare numeric product ids get the
// booth_ prefix used by the catalog.
func buildNotification(file, product, download string, now time.Time) (correlate.Notification, error) {
	file = filepath.Base(strings.TrimSpace(file))
	if file == "" || file == "." {
		return correlate.Notification{}, fmt.Errorf("--file is required")
	}
	product = strings.TrimSpace(product)
	download = strings.TrimSpace(download)
	if product == "" && download == "" {
		return correlate.Notification{}, fmt.Errorf("one of --product or --download is required")
	}
	if product != "" && !strings.HasPrefix(product, "booth_") {
		product = correlate.ProductID(product)
	}
	return correlate.Notification{
		Filename:   file,
		ProductID:  product,
		DownloadID: download,
		Timestamp:  now.UnixMilli(),
	}, nil
}
