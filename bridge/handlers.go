package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"booth-bridge/catalog"
	"booth-bridge/correlate"
	"booth-bridge/db"
	"booth-bridge/progress"
	"booth-bridge/thumbnail"

	"go.uber.org/zap"
)

// SyncResponse answers POST /sync.
type SyncResponse struct {
	Success    bool `json:"success"`
	Count      int  `json:"count"`
	Updated    int  `json:"updated"`
	Added      int  `json:"added"`
	Thumbnails int  `json:"thumbnails"`
}

// NotifyResponse answers POST /download-notify.
type NotifyResponse struct {
	Success         bool `json:"success"`
	TrackingMapSize int  `json:"trackingMapSize"`
}

// MapResponse answers POST /download-map.
type MapResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// Browser download states accepted by POST /download-event.
const (
	EventCreated     = "created"
	EventFilename    = "filename"
	EventComplete    = "complete"
	EventInterrupted = "interrupted"
)

// DownloadEvent is one browser download lifecycle change.
type DownloadEvent struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// EventResponse answers POST /download-event.
type EventResponse struct {
	Success    bool                  `json:"success"`
	Tracked    bool                  `json:"tracked"`
	Resolution *correlate.Resolution `json:"resolution,omitempty"`
}

// HistoryEntry is the wire form of an import record.
type HistoryEntry struct {
	ID           uint      `json:"id"`
	ArchiveName  string    `json:"archiveName"`
	ProductID    string    `json:"productId"`
	Subfolder    string    `json:"subfolder,omitempty"`
	PackageCount int       `json:"packageCount"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var batch []catalog.Product
	if err := decodeBody(w, r, &batch); err != nil {
		s.log.Errorw("Sync body rejected", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Infow("Sync received", zap.Int("count", len(batch)))

	fetched := s.resolveThumbnails(r, batch)

	res, err := s.catalog.Upsert(batch)
	if err != nil {
		s.log.Errorw("Sync failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if s.correlator != nil {
		n := s.correlator.Anticipations().Register(catalog.DownloadMap(batch))
		s.log.Debugw("Anticipated downloads refreshed", zap.Int("urls", n))
	}

	s.log.Infow("Sync finished", zap.Int("updated", res.Updated), zap.Int("added", res.Added),
		zap.Int("thumbnails", fetched), zap.Int("total", res.Total))
	writeJSON(w, http.StatusOK, SyncResponse{
		Success:    true,
		Count:      len(batch),
		Updated:    res.Updated,
		Added:      res.Added,
		Thumbnails: fetched,
	})
}

// resolveThumbnails fills LocalThumbnailPath for every record with a
// thumbnail URL and returns how many images were newly downloaded.
func (s *Server) resolveThumbnails(r *http.Request, batch []catalog.Product) int {
	if s.thumbnails == nil || s.thumbDir == "" {
		return 0
	}
	fetched := 0
	for i := range batch {
		p := &batch[i]
		if p.ThumbnailURL == "" || p.ID == "" {
			continue
		}
		name := thumbnail.FileName(p.ID)
		dest := filepath.Join(s.thumbDir, name)
		ref := path.Join(s.thumbRef, name)

		if _, err := os.Stat(dest); err == nil {
			p.LocalThumbnailPath = ref
			continue
		}
		if s.thumbnails.Fetch(r.Context(), p.ThumbnailURL, dest) {
			p.LocalThumbnailPath = ref
			fetched++
		} else {
			p.LocalThumbnailPath = ""
			s.log.Warnw("Thumbnail unavailable", zap.String("id", p.ID))
		}
	}
	return fetched
}

func (s *Server) handleDownloadNotify(w http.ResponseWriter, r *http.Request) {
	var n correlate.Notification
	if err := decodeBody(w, r, &n); err != nil {
		s.log.Errorw("Download notification rejected", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	size := 0
	if s.tracker != nil {
		size, _ = s.tracker.Insert(n)
	}
	writeJSON(w, http.StatusOK, NotifyResponse{Success: true, TrackingMapSize: size})
}

func (s *Server) handleDownloadMap(w http.ResponseWriter, r *http.Request) {
	var downloads map[string][]string
	if err := decodeBody(w, r, &downloads); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	count := 0
	if s.correlator != nil {
		count = s.correlator.Anticipations().Register(downloads)
	}
	s.log.Infow("Download map registered", zap.Int("products", len(downloads)), zap.Int("urls", count))
	writeJSON(w, http.StatusOK, MapResponse{Success: true, Count: count})
}

func (s *Server) handleDownloadEvent(w http.ResponseWriter, r *http.Request) {
	var ev DownloadEvent
	if err := decodeBody(w, r, &ev); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.correlator == nil {
		writeError(w, http.StatusInternalServerError, errors.New("download correlation is disabled"))
		return
	}
	if ev.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing download id"))
		return
	}

	resp := EventResponse{Success: true}
	switch ev.State {
	case EventCreated:
		res := s.correlator.OnDownloadStarted(ev.ID, ev.URL, ev.Filename)
		resp.Tracked = res.Resolved()
		resp.Resolution = &res
	case EventFilename:
		s.correlator.OnFilenameChanged(ev.ID, ev.Filename)
	case EventComplete:
		sent, err := s.correlator.OnDownloadCompleted(r.Context(), ev.ID, ev.Filename)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Tracked = sent
	case EventInterrupted:
		s.correlator.OnDownloadInterrupted(ev.ID)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown download state %q", ev.State))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	state := progress.Idle()
	if s.progress != nil {
		state = s.progress.Snapshot()
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []HistoryEntry{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.history.Recent(limit)
	if err != nil {
		s.log.Errorw("Failed to read import history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toHistoryEntry(rec))
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.log.Debugw("No route", zap.String("method", r.Method), zap.String("path", r.URL.Path))
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func toHistoryEntry(rec db.ImportRecord) HistoryEntry {
	return HistoryEntry{
		ID:           rec.ID,
		ArchiveName:  rec.ArchiveName,
		ProductID:    rec.ProductID,
		Subfolder:    rec.Subfolder,
		PackageCount: rec.PackageCount,
		Status:       string(rec.Status),
		Message:      rec.Message,
		CreatedAt:    rec.CreatedAt,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}
