package cmd

import (
	"context"

	"booth-bridge/correlate"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runServe runs the HTTP relay and the Downloads watcher until ctx is
// cancelled or the listener fails.
func runServe(ctx context.Context, projectPath string) error {
	a, err := bootstrap(projectPath)
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Infow("BOOTH bridge starting",
		zap.String("project", a.cfg.ProjectPath),
		zap.String("addr", a.cfg.Addr()),
		zap.String("downloads", a.cfg.DownloadsDir),
		zap.String("staging", a.cfg.StagingDir))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx, a.cfg.Addr())
	})
	g.Go(func() error {
		return a.loop.Run(gctx)
	})

	err = g.Wait()
	a.log.Info("BOOTH bridge stopped")
	return err
}

func (a *app) notifyLocal(_ context.Context, n correlate.Notification) error {
	a.tracker.Insert(n)
	return nil
}
