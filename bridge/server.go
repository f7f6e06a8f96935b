// Package bridge is the local HTTP relay between the browser extension,
// the Unity editor window and the import pipeline.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"booth-bridge/catalog"
	"booth-bridge/correlate"
	"booth-bridge/db"
	"booth-bridge/progress"

	"go.uber.org/zap"
)

// DefaultPort is the port the extension and editor window expect.
const DefaultPort = 4823

// maxBodyBytes caps request bodies; a full library sync is well below it.
const maxBodyBytes = 32 << 20

// Catalog is the part of the catalog store the relay writes to.
type Catalog interface {
	Upsert(batch []catalog.Product) (catalog.UpsertResult, error)
}

// Thumbnails downloads product thumbnails.
type Thumbnails interface {
	Fetch(ctx context.Context, url, destinationPath string) bool
}

// ProgressSource exposes the current extraction progress.
type ProgressSource interface {
	Snapshot() progress.State
}

// HistorySource lists recent imports.
type HistorySource interface {
	Recent(limit int) ([]db.ImportRecord, error)
}

type Options struct {
	Catalog    Catalog
	Thumbnails Thumbnails
	// ThumbnailDir is where thumbnails are stored on disk and
	// ThumbnailRef the project-relative prefix written into the catalog.
	ThumbnailDir string
	ThumbnailRef string
	Progress     ProgressSource
	Tracker      *correlate.Tracker
	Correlator   *correlate.Correlator
	History      HistorySource
	Log          *zap.SugaredLogger
}

// Server serves the relay endpoints.
type Server struct {
	catalog    Catalog
	thumbnails Thumbnails
	thumbDir   string
	thumbRef   string
	progress   ProgressSource
	tracker    *correlate.Tracker
	correlator *correlate.Correlator
	history    HistorySource
	log        *zap.SugaredLogger
}

func NewServer(opts Options) *Server {
	s := &Server{
		catalog:    opts.Catalog,
		thumbnails: opts.Thumbnails,
		thumbDir:   opts.ThumbnailDir,
		thumbRef:   opts.ThumbnailRef,
		progress:   opts.Progress,
		tracker:    opts.Tracker,
		correlator: opts.Correlator,
		history:    opts.History,
		log:        opts.Log,
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.thumbRef == "" {
		s.thumbRef = "BoothBridge/thumbnails"
	}
	return s
}

// Handler returns the routed handler with CORS and panic recovery applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.only(http.MethodPost, s.handleSync))
	mux.HandleFunc("/download-notify", s.only(http.MethodPost, s.handleDownloadNotify))
	mux.HandleFunc("/download-map", s.only(http.MethodPost, s.handleDownloadMap))
	mux.HandleFunc("/download-event", s.only(http.MethodPost, s.handleDownloadEvent))
	mux.HandleFunc("/progress", s.only(http.MethodGet, s.handleProgress))
	mux.HandleFunc("/history", s.only(http.MethodGet, s.handleHistory))
	mux.HandleFunc("/", s.handleNotFound)
	return s.recoverer(cors(mux))
}

// ListenAndServe runs the relay on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.log.Desugar().Named("http")),
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		case <-done:
		}
	}()
	defer close(done)

	s.log.Infow("Relay listening", zap.String("addr", ln.Addr().String()))
	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving relay: %w", err)
	}
	s.log.Info("Relay stopped")
	return nil
}

func (s *Server) only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			s.handleNotFound(w, r)
			return
		}
		next(w, r)
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer keeps a failing request from taking the relay down.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Errorw("Request handler panicked", zap.String("method", r.Method), zap.String("path", r.URL.Path),
					zap.Any("panic", v), zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, errors.New("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
