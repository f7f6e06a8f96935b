package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"booth-bridge/archive"
	"booth-bridge/correlate"
	"booth-bridge/watcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// rescanCmd represents the rescan command
var rescanCmd = &cobra.Command{
	Use:   "rescan [projectPath]",
	Short: "Import booth_*.zip archives already sitting in Downloads",
	Long: `Scans the Downloads folder for archives following the booth_<id>.zip
naming convention that were never imported (by SHA-1) and extracts them.
Useful after the relay was not running while downloads finished.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectPath, err := projectPathArg(cmd, args)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		jobs, _ := cmd.Flags().GetInt("jobs")

		a, err := bootstrap(projectPath)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := rescanDownloads(a.cfg.DownloadsDir, a.history, a.extractor, rescanOptions{
			DryRun: dryRun,
			Jobs:   jobs,
			Log:    a.log.Named("rescan"),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rescanCmd)
	rescanCmd.Flags().Bool("dry-run", false, "List archives that would be imported without extracting them")
	rescanCmd.Flags().IntP("jobs", "j", 2, "Number of archives extracted concurrently")
}

// importChecker answers whether an archive hash was already imported.
type importChecker interface {
	Imported(sha1 string) (bool, error)
}

type rescanOptions struct {
	DryRun bool
	Jobs   int
	Log    *zap.SugaredLogger
}

type rescanSummary struct {
	Found    int
	Skipped  int
	Imported int64
	Failed   int64
	Pending  []string
}

func (s rescanSummary) String() string {
	if len(s.Pending) > 0 && s.Imported == 0 && s.Failed == 0 {
		return fmt.Sprintf("%d archives found, %d already imported, would import: %v", s.Found, s.Skipped, s.Pending)
	}
	return fmt.Sprintf("%d archives found, %d already imported, %d imported, %d failed", s.Found, s.Skipped, s.Imported, s.Failed)
}

// rescanDownloads extracts every convention-named archive in dir whose
// hash is not yet recorded as imported.
func rescanDownloads(dir string, checker importChecker, ex watcher.Extractor, opts rescanOptions) (rescanSummary, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var summary rescanSummary

	entries, err := os.ReadDir(dir)
	if err != nil {
		return summary, fmt.Errorf("reading downloads folder: %w", err)
	}

	type job struct {
		path   string
		target archive.Target
	}
	var jobs []job
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := correlate.ParseArchiveName(entry.Name())
		if !ok {
			continue
		}
		summary.Found++
		path := filepath.Join(dir, entry.Name())

		hash, err := archive.HashFile(path)
		if err != nil {
			log.Warnw("Failed to calculate hash", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		done, err := checker.Imported(hash)
		if err != nil {
			return summary, err
		}
		if done {
			log.Debugw("Archive already imported", zap.String("file", entry.Name()))
			summary.Skipped++
			continue
		}
		jobs = append(jobs, job{path: path, target: archive.Target{ProductID: id.ProductID, Subfolder: id.Subfolder}})
		summary.Pending = append(summary.Pending, entry.Name())
	}
	sort.Strings(summary.Pending)

	if opts.DryRun || len(jobs) == 0 {
		return summary, nil
	}

	var imported, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(max(opts.Jobs, 1))
	for _, j := range jobs {
		g.Go(func() error {
			if _, err := ex.Extract(j.path, j.target); err != nil {
				log.Warnw("Rescan import failed", zap.String("file", filepath.Base(j.path)), zap.Error(err))
				failed.Add(1)
				return nil
			}
			imported.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary.Imported = imported.Load()
	summary.Failed = failed.Load()
	return summary, nil
}
