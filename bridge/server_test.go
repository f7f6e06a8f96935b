package bridge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"booth-bridge/bridge"
	"booth-bridge/catalog"
	"booth-bridge/clock"
	"booth-bridge/correlate"
	"booth-bridge/db"
	"booth-bridge/progress"
	"booth-bridge/thumbnail"

	"go.uber.org/zap"
)

type fixture struct {
	store      *catalog.Store
	thumbDir   string
	tracker    *correlate.Tracker
	correlator *correlate.Correlator
	progress   *progress.Tracker
	clock      *clock.Fake
	relay      *httptest.Server
	images     *httptest.Server
}

type staticHistory []db.ImportRecord

func (h staticHistory) Recent(limit int) ([]db.ImportRecord, error) { return h, nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := zap.NewNop().Sugar()
	f := &fixture{
		store:    catalog.NewStore(filepath.Join(dir, "booth_assets.json"), filepath.Join(dir, "booth_assets.backup.json"), log),
		thumbDir: filepath.Join(dir, "thumbnails"),
		clock:    clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	if err := os.MkdirAll(f.thumbDir, 0755); err != nil {
		t.Fatal(err)
	}
	f.tracker = correlate.NewTracker(f.clock, time.Hour, log)
	f.correlator = correlate.NewCorrelator(nil, nil, correlate.NotifierFunc(func(_ context.Context, n correlate.Notification) error {
		f.tracker.Insert(n)
		return nil
	}), f.clock, log)
	f.progress = progress.NewTracker(f.clock, 3*time.Second)

	f.images = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("img"))
	}))
	t.Cleanup(f.images.Close)

	srv := bridge.NewServer(bridge.Options{
		Catalog:      f.store,
		Thumbnails:   thumbnail.NewFetcher(5*time.Second, "test", log),
		ThumbnailDir: f.thumbDir,
		Progress:     f.progress,
		Tracker:      f.tracker,
		Correlator:   f.correlator,
		History: staticHistory{
			{ArchiveName: "booth_1.zip", ProductID: "booth_1", PackageCount: 2, Status: db.StatusImported},
		},
		Log: log,
	})
	f.relay = httptest.NewServer(srv.Handler())
	t.Cleanup(f.relay.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.relay.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(filepath.Join(f.thumbDir, "booth_3.jpg"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	batch := []catalog.Product{
		{ID: "booth_1", Title: "One", ThumbnailURL: f.images.URL + "/1.jpg",
			DownloadLinks: []catalog.DownloadLink{{URL: "https://booth.pm/downloadables/501"}}},
		{ID: "booth_2", Title: "Two", ThumbnailURL: f.images.URL + "/broken.jpg", LocalThumbnailPath: "stale"},
		{ID: "booth_3", Title: "Three", ThumbnailURL: f.images.URL + "/3.jpg"},
		{ID: "booth_4", Title: "Four"},
	}
	body, _ := json.Marshal(batch)

	resp := f.post(t, "/sync", string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[bridge.SyncResponse](t, resp)
	want := bridge.SyncResponse{Success: true, Count: 4, Added: 4, Thumbnails: 1}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}

	products, err := f.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	paths := map[string]string{}
	for _, p := range products {
		paths[p.ID] = p.LocalThumbnailPath
	}
	if paths["booth_1"] != "BoothBridge/thumbnails/booth_1.jpg" {
		t.Errorf("booth_1 thumbnail = %q", paths["booth_1"])
	}
	if paths["booth_2"] != "" {
		t.Errorf("failed thumbnail should be cleared, got %q", paths["booth_2"])
	}
	if paths["booth_3"] != "BoothBridge/thumbnails/booth_3.jpg" {
		t.Errorf("cached thumbnail = %q", paths["booth_3"])
	}

	if res := f.correlator.Resolve("https://booth.pm/downloadables/501?x=1"); res.Kind != correlate.ByAnticipatedURL || res.ProductID != "booth_1" {
		t.Errorf("sync did not refresh anticipations: %+v", res)
	}
}

func TestSync_PreservesInstallState(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/sync", `[{"id":"booth_9","title":"Nine"}]`)
	if _, err := f.store.MarkInstalled("booth_9", "Assets/ImportedAssets/booth_9/"); err != nil {
		t.Fatal(err)
	}

	resp := f.post(t, "/sync", `[{"id":"booth_9","title":"Nine v2","installed":false}]`)
	got := decode[bridge.SyncResponse](t, resp)
	if got.Updated != 1 || got.Added != 0 {
		t.Errorf("response = %+v", got)
	}
	products, _ := f.store.Load()
	if len(products) != 1 || !products[0].Installed || products[0].Title != "Nine v2" {
		t.Errorf("products = %+v", products)
	}
}

func TestSync_BadJSON(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/sync", `{not json`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["success"] != false || body["error"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestDownloadNotify(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/download-notify", `{"filename":"Outfit.zip","boothId":"booth_5","timestamp":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[bridge.NotifyResponse](t, resp); !got.Success || got.TrackingMapSize != 1 {
		t.Errorf("response = %+v", got)
	}

	// The first entry is stamped 1970 and is swept by the next insert.
	resp = f.post(t, "/download-notify", `{"filename":"Other.zip","downloadId":"77"}`)
	if got := decode[bridge.NotifyResponse](t, resp); got.TrackingMapSize != 1 {
		t.Errorf("stale entry was not swept: %+v", got)
	}

	if resp := f.post(t, "/download-notify", `nope`); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("bad body status = %d", resp.StatusCode)
	}
}

func TestDownloadEvents_FeedTracker(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/download-map", `{"booth_42":["https://booth.pm/downloadables/900"]}`)
	if got := decode[bridge.MapResponse](t, resp); got.Count != 1 {
		t.Fatalf("map response = %+v", got)
	}

	resp = f.post(t, "/download-event", `{"id":"7","state":"created","url":"https://booth.pm/downloadables/900?sig=abc","filename":"x.zip"}`)
	created := decode[bridge.EventResponse](t, resp)
	if !created.Tracked || created.Resolution == nil || created.Resolution.ProductID != "booth_42" ||
		created.Resolution.Kind != correlate.ByAnticipatedURL {
		t.Fatalf("created = %+v", created)
	}
	f.post(t, "/download-event", `{"id":"7","state":"filename","filename":"Cute Dress.zip"}`)
	resp = f.post(t, "/download-event", `{"id":"7","state":"complete","filename":"/home/u/Downloads/Cute Dress.zip"}`)
	if got := decode[bridge.EventResponse](t, resp); !got.Tracked {
		t.Fatalf("complete = %+v", got)
	}

	n, ok := f.tracker.Take("Cute Dress.zip")
	if !ok || n.ProductID != "booth_42" {
		t.Errorf("tracker entry = %+v, %v", n, ok)
	}

	if resp := f.post(t, "/download-event", `{"id":"8","state":"paused"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown state status = %d", resp.StatusCode)
	}
}

func TestProgress(t *testing.T) {
	f := newFixture(t)
	f.progress.Begin("booth_1.zip", "extracting")
	f.progress.Advance(60, "searching")

	resp, err := http.Get(f.relay.URL + "/progress")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	got := decode[progress.State](t, resp)
	if !got.Active || got.Stage != progress.StageExtracting || got.Percent != 60 || got.FileName != "booth_1.zip" {
		t.Errorf("progress = %+v", got)
	}
}

func TestRouting(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/nowhere", http.StatusNotFound},
		{http.MethodGet, "/sync", http.StatusNotFound},
		{http.MethodPost, "/progress", http.StatusNotFound},
		{http.MethodOptions, "/sync", http.StatusOK},
		{http.MethodOptions, "/anything", http.StatusOK},
		{http.MethodGet, "/history", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, f.relay.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("CORS header = %q", got)
			}
		})
	}
}

type panickyCatalog struct{}

func (panickyCatalog) Upsert([]catalog.Product) (catalog.UpsertResult, error) { panic("disk on fire") }

func TestPanicBecomes500(t *testing.T) {
	srv := bridge.NewServer(bridge.Options{Catalog: panickyCatalog{}})
	relay := httptest.NewServer(srv.Handler())
	defer relay.Close()

	resp, err := http.Post(relay.URL+"/sync", "application/json", strings.NewReader(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}

	// The relay keeps serving after a panic.
	resp2, err := http.Get(relay.URL + "/progress")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("follow-up status = %d", resp2.StatusCode)
	}
}
