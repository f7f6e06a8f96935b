package correlate_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"booth-bridge/clock"
	"booth-bridge/correlate"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	sent []correlate.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n correlate.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func TestResolve_Precedence(t *testing.T) {
	a := &correlate.Anticipations{}
	a.Register(map[string][]string{
		"booth_100": {"https://booth.pm/downloadables/555"},
		"booth_300": {"https://booth.pm/ja/items/4242"},
	})
	c := correlate.NewCorrelator(a, nil, nil, clock.NewFake(epoch), nil)

	tests := []struct {
		name       string
		url        string
		kind       correlate.Kind
		product    string
		downloadID string
	}{
		{"anticipated beats downloadable", "https://booth.pm/downloadables/555?token=x", correlate.ByAnticipatedURL, "booth_100", ""},
		{"downloadable id only", "https://booth.pm/downloadables/777", correlate.ByDownloadID, "", "777"},
		{"anticipated beats item", "https://booth.pm/ja/items/4242?from=library", correlate.ByAnticipatedURL, "booth_300", ""},
		{"item page", "https://someone.booth.pm/items/4242", correlate.ByItemID, "booth_4242", ""},
		{"foreign host ignored", "https://example.com/items/4242", correlate.Unresolved, "", ""},
		{"no identifier", "https://booth.pm/library", correlate.Unresolved, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Resolve(tt.url)
			if res.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", res.Kind, tt.kind)
			}
			got, _ := res.Product()
			if got != tt.product {
				t.Errorf("product = %q, want %q", got, tt.product)
			}
			if res.DownloadID != tt.downloadID {
				t.Errorf("downloadId = %q, want %q", res.DownloadID, tt.downloadID)
			}
		})
	}
}

func TestResolution_PartialHasNoProduct(t *testing.T) {
	res, ok := correlate.ResolveDownloadable("https://booth.pm/downloadables/9")
	if !ok {
		t.Fatal("expected a downloadable resolution")
	}
	if _, ok := res.Product(); ok {
		t.Error("a downloadable id must not count as a product")
	}
}

func TestAnticipations_RegisterReplaces(t *testing.T) {
	a := &correlate.Anticipations{}
	a.Register(map[string][]string{"booth_1": {"https://booth.pm/downloadables/1"}})
	if n := a.Register(map[string][]string{"booth_2": {"https://booth.pm/downloadables/2", " "}}); n != 1 {
		t.Fatalf("registered %d urls, want 1", n)
	}
	if _, ok := a.Match("https://booth.pm/downloadables/1"); ok {
		t.Error("old snapshot should be gone")
	}
	res, ok := a.Match("https://booth.pm/downloadables/2?x=1")
	if !ok || res.ProductID != "booth_2" || res.DownloadIndex != 0 {
		t.Errorf("match = %+v, %v", res, ok)
	}
}

func TestAnticipations_MatchPrefersExactAndBoundaries(t *testing.T) {
	a := &correlate.Anticipations{}
	a.Register(map[string][]string{
		"booth_1": {"https://booth.pm/downloadables/123"},
		"booth_2": {"https://booth.pm/downloadables/1234"},
		"booth_3": {"https://booth.pm/downloadables/9/"},
	})

	tests := []struct {
		name    string
		url     string
		ok      bool
		product string
	}{
		{"exact wins over shorter prefix", "https://booth.pm/downloadables/1234", true, "booth_2"},
		{"exact with query", "https://booth.pm/downloadables/123?t=1", true, "booth_1"},
		{"prefix at slash", "https://booth.pm/downloadables/123/file.zip", true, "booth_1"},
		{"prefix ending in slash", "https://booth.pm/downloadables/9/file.zip", true, "booth_3"},
		{"no partial number", "https://booth.pm/downloadables/12345", false, ""},
		{"bare host", "https://booth.pm/", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := a.Match(tt.url)
			if ok != tt.ok || res.ProductID != tt.product {
				t.Errorf("Match(%q) = %+v, %v", tt.url, res, ok)
			}
		})
	}
}

func TestKind_TextRoundTrip(t *testing.T) {
	for _, k := range []correlate.Kind{correlate.Unresolved, correlate.ByAnticipatedURL, correlate.ByDownloadID, correlate.ByItemID} {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", k, err)
		}
		var got correlate.Kind
		if err := got.UnmarshalText(text); err != nil || got != k {
			t.Errorf("UnmarshalText(%q) = %v, %v", text, got, err)
		}
	}

	var res correlate.Resolution
	if err := json.Unmarshal([]byte(`{"kind":"item_id","productId":"booth_5"}`), &res); err != nil {
		t.Fatal(err)
	}
	if res.Kind != correlate.ByItemID || res.ProductID != "booth_5" {
		t.Errorf("decoded %+v", res)
	}
	if err := json.Unmarshal([]byte(`{"kind":"guess"}`), &res); err == nil {
		t.Error("unknown kind should fail to decode")
	}
}

func TestCorrelator_Lifecycle(t *testing.T) {
	fc := clock.NewFake(epoch)
	n := &recordingNotifier{}
	c := correlate.NewCorrelator(nil, nil, n, fc, nil)
	ctx := context.Background()

	c.OnDownloadStarted("1", "https://booth.pm/items/12345", "tmp.zip")
	c.OnFilenameChanged("1", "Avatar_v2.zip")
	c.OnDownloadStarted("2", "https://example.com/file.zip", "other.zip")
	c.OnDownloadStarted("3", "https://booth.pm/downloadables/8", "broken.zip")
	if got := c.InFlight(); got != 2 {
		t.Fatalf("in flight = %d, want 2", got)
	}

	sent, err := c.OnDownloadCompleted(ctx, "1", `C:\Users\me\Downloads\Avatar_v2.zip`)
	if err != nil || !sent {
		t.Fatalf("completed: sent=%v err=%v", sent, err)
	}
	if sent, _ := c.OnDownloadCompleted(ctx, "2", "/tmp/other.zip"); sent {
		t.Error("unresolved download must not notify")
	}
	c.OnDownloadInterrupted("3")
	if sent, _ := c.OnDownloadCompleted(ctx, "3", "/tmp/broken.zip"); sent {
		t.Error("interrupted download must not notify")
	}

	if len(n.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.sent))
	}
	got := n.sent[0]
	if got.Filename != "Avatar_v2.zip" || got.ProductID != "booth_12345" {
		t.Errorf("notification = %+v", got)
	}
	if got.Timestamp != epoch.UnixMilli() {
		t.Errorf("timestamp = %d", got.Timestamp)
	}
	if c.InFlight() != 0 {
		t.Errorf("in flight = %d after completion", c.InFlight())
	}
}

func TestCorrelator_NotifierError(t *testing.T) {
	n := &recordingNotifier{err: errors.New("relay down")}
	c := correlate.NewCorrelator(nil, nil, n, clock.NewFake(epoch), nil)
	c.OnDownloadStarted("1", "https://booth.pm/items/1", "a.zip")
	if _, err := c.OnDownloadCompleted(context.Background(), "1", "a.zip"); err == nil {
		t.Fatal("expected notifier error")
	}
	if c.InFlight() != 0 {
		t.Error("entry should be discarded even when notify fails")
	}
}

func TestTracker_Expiry(t *testing.T) {
	fc := clock.NewFake(epoch)
	tr := correlate.NewTracker(fc, time.Hour, nil)

	if size, ok := tr.Insert(correlate.Notification{Filename: "a.zip", ProductID: "booth_1"}); !ok || size != 1 {
		t.Fatalf("insert a: size=%d ok=%v", size, ok)
	}
	fc.Advance(time.Hour + time.Second)
	if size, _ := tr.Insert(correlate.Notification{Filename: "b.zip", DownloadID: "9"}); size != 1 {
		t.Fatalf("size after sweep = %d, want 1", size)
	}
	if tr.Has("a.zip") {
		t.Error("expired entry survived the sweep")
	}
}

func TestTracker_InsertRejectsIncomplete(t *testing.T) {
	tr := correlate.NewTracker(clock.NewFake(epoch), 0, nil)
	if _, ok := tr.Insert(correlate.Notification{Filename: "x.zip"}); ok {
		t.Error("notification without identity should be dropped")
	}
	if _, ok := tr.Insert(correlate.Notification{ProductID: "booth_1"}); ok {
		t.Error("notification without filename should be dropped")
	}
	if tr.Len() != 0 {
		t.Errorf("len = %d", tr.Len())
	}
}

func TestTracker_TakeConsumes(t *testing.T) {
	tr := correlate.NewTracker(clock.NewFake(epoch), time.Hour, nil)
	tr.Insert(correlate.Notification{Filename: "/home/me/Downloads/pack.zip", ProductID: "booth_5"})
	n, ok := tr.Take("pack.zip")
	if !ok || n.ProductID != "booth_5" {
		t.Fatalf("take = %+v, %v", n, ok)
	}
	if _, ok := tr.Take("pack.zip"); ok {
		t.Error("second take should miss")
	}
}

func TestParseArchiveName(t *testing.T) {
	tests := []struct {
		name      string
		ok        bool
		product   string
		subfolder string
	}{
		{"booth_222.zip", true, "booth_222", ""},
		{"booth_222_3.zip", true, "booth_222", "variant_3"},
		{"/downloads/booth_7.zip", true, "booth_7", ""},
		{"booth_abc.zip", false, "", ""},
		{"booth_1.ZIP", true, "booth_1", ""},
		{"booth_1_2.Zip", true, "booth_1", "variant_2"},
		{"my_booth_1.zip", false, "", ""},
		{"booth_1_2_3.zip", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := correlate.ParseArchiveName(tt.name)
			if ok != tt.ok || id.ProductID != tt.product || id.Subfolder != tt.subfolder {
				t.Errorf("got %+v, %v", id, ok)
			}
		})
	}
}

type lookupFunc func(string) (string, int, bool)

func (f lookupFunc) FindByDownloadID(id string) (string, int, bool) { return f(id) }

func TestArchiveResolver(t *testing.T) {
	fc := clock.NewFake(epoch)
	tr := correlate.NewTracker(fc, time.Hour, nil)
	lookup := lookupFunc(func(id string) (string, int, bool) {
		if id == "55" {
			return "booth_900", 1, true
		}
		return "", 0, false
	})
	r := correlate.NewArchiveResolver(tr, lookup, nil)

	tr.Insert(correlate.Notification{Filename: "booth_1.zip", ProductID: "booth_999"})
	tr.Insert(correlate.Notification{Filename: "Renamed.zip", ProductID: "booth_321"})
	tr.Insert(correlate.Notification{Filename: "partial.zip", DownloadID: "55"})
	tr.Insert(correlate.Notification{Filename: "orphan.zip", DownloadID: "56"})

	t.Run("convention wins over tracking", func(t *testing.T) {
		id, ok := r.Resolve("booth_1.zip")
		if !ok || id.ProductID != "booth_1" || id.Source != correlate.SourceFilename {
			t.Errorf("got %+v, %v", id, ok)
		}
	})
	t.Run("tracking hit is consumed", func(t *testing.T) {
		id, ok := r.Resolve("Renamed.zip")
		if !ok || id.ProductID != "booth_321" {
			t.Errorf("got %+v, %v", id, ok)
		}
		if _, ok := r.Resolve("Renamed.zip"); ok {
			t.Error("second resolve should miss")
		}
	})
	t.Run("download id upgraded via catalog", func(t *testing.T) {
		id, ok := r.Resolve("partial.zip")
		if !ok || id.ProductID != "booth_900" {
			t.Errorf("got %+v, %v", id, ok)
		}
	})
	t.Run("unknown download id", func(t *testing.T) {
		if _, ok := r.Resolve("orphan.zip"); ok {
			t.Error("expected miss")
		}
	})
	t.Run("unrelated archive", func(t *testing.T) {
		if _, ok := r.Resolve("holiday.zip"); ok {
			t.Error("expected miss")
		}
	})
}
