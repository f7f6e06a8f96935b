package cmd

import (
	"fmt"

	"booth-bridge/archive"
	"booth-bridge/bridge"
	"booth-bridge/catalog"
	"booth-bridge/clock"
	"booth-bridge/config"
	"booth-bridge/correlate"
	"booth-bridge/db"
	"booth-bridge/logger"
	"booth-bridge/progress"
	"booth-bridge/thumbnail"
	"booth-bridge/watcher"

	"go.uber.org/zap"
)

// app is every long-lived component of the relay, built once and shared
// by reference.
type app struct {
	cfg        config.Config
	log        *zap.SugaredLogger
	store      *catalog.Store
	history    *db.History
	progress   *progress.Tracker
	extractor  *archive.Extractor
	tracker    *correlate.Tracker
	correlator *correlate.Correlator
	resolver   *correlate.ArchiveResolver
	server     *bridge.Server
	loop       *watcher.Loop
}

// bootstrap handles shared initialization logic for commands.
func bootstrap(projectPath string) (*app, error) {
	cfg, err := config.LoadConfig(projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Log.Warnw("Invalid LOG_LEVEL, keeping info", zap.String("level", cfg.LogLevel))
	}
	if err := logger.AddFileSink(cfg.LogPath); err != nil {
		logger.Log.Warnw("File logging disabled", zap.Error(err))
	}
	log := logger.Log

	conn, err := db.Open(cfg.DatabasePath, logger.ZapLogger)
	if err != nil {
		return nil, err
	}
	log.Infow("Database initialized", zap.String("path", cfg.DatabasePath))

	clk := clock.Real{}
	a := &app{
		cfg:      cfg,
		log:      log,
		store:    catalog.NewStore(cfg.CatalogPath, cfg.BackupPath, log.Named("catalog")),
		history:  db.NewHistory(conn),
		progress: progress.NewTracker(clk, cfg.ProgressReset),
		tracker:  correlate.NewTracker(clk, cfg.TrackingTTL, log.Named("tracking")),
	}
	a.extractor = archive.New(archive.Options{
		StagingDir: cfg.StagingDir,
		ImportRoot: cfg.ImportRoot,
		Installer:  a.store,
		Recorder:   a.history,
		Progress:   a.progress,
		Clock:      clk,
		Log:        log.Named("archive"),
	})
	// Browser events posted to the relay land straight in the tracking map.
	a.correlator = correlate.NewCorrelator(nil, nil, correlate.NotifierFunc(a.notifyLocal), clk, log.Named("correlate"))
	a.resolver = correlate.NewArchiveResolver(a.tracker, a.store, log.Named("resolve"))
	a.server = bridge.NewServer(bridge.Options{
		Catalog:      a.store,
		Thumbnails:   thumbnail.NewFetcher(cfg.ThumbnailTimeout, cfg.UserAgent, log.Named("thumbnail")),
		ThumbnailDir: cfg.ThumbnailDir,
		ThumbnailRef: config.BridgeDirName + "/thumbnails",
		Progress:     a.progress,
		Tracker:      a.tracker,
		Correlator:   a.correlator,
		History:      a.history,
		Log:          log.Named("http"),
	})
	a.loop = watcher.New(watcher.Options{
		Dir:         cfg.DownloadsDir,
		SettleDelay: cfg.SettleDelay,
		Resolver:    a.resolver,
		Extractor:   a.extractor,
		Clock:       clk,
		Log:         log.Named("watch"),
	})

	if _, err := a.store.Load(); err != nil {
		log.Warnw("Catalog is unreadable, starting from an empty catalog", zap.Error(err))
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.history.Close(); err != nil {
		a.log.Warnw("Failed to close database", zap.Error(err))
	}
}
