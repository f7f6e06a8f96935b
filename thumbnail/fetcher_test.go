package thumbnail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/ok.jpg":
			w.Write([]byte("jpeg-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "test-agent", zap.NewNop().Sugar())
	dir := t.TempDir()

	t.Run("success", func(t *testing.T) {
		dest := filepath.Join(dir, FileName("booth_1"))
		if !f.Fetch(context.Background(), srv.URL+"/ok.jpg", dest) {
			t.Fatal("Fetch returned false")
		}
		data, err := os.ReadFile(dest)
		if err != nil || string(data) != "jpeg-bytes" {
			t.Errorf("file content = %q, err = %v", data, err)
		}
		if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
			t.Error("partial file left behind")
		}
	})

	t.Run("non-200", func(t *testing.T) {
		dest := filepath.Join(dir, FileName("booth_2"))
		if f.Fetch(context.Background(), srv.URL+"/missing.jpg", dest) {
			t.Fatal("Fetch returned true for 404")
		}
		if _, err := os.Stat(dest); !os.IsNotExist(err) {
			t.Error("destination created on failure")
		}
	})

	t.Run("cached file skips network", func(t *testing.T) {
		dest := filepath.Join(dir, FileName("booth_3"))
		if err := os.WriteFile(dest, []byte("old"), 0644); err != nil {
			t.Fatal(err)
		}
		before := hits.Load()
		if !f.Fetch(context.Background(), srv.URL+"/ok.jpg", dest) {
			t.Fatal("Fetch returned false for cached file")
		}
		if hits.Load() != before {
			t.Error("network was used for a cached thumbnail")
		}
		data, _ := os.ReadFile(dest)
		if string(data) != "old" {
			t.Error("cached thumbnail was overwritten")
		}
	})

	t.Run("network error", func(t *testing.T) {
		dest := filepath.Join(dir, FileName("booth_4"))
		if f.Fetch(context.Background(), "http://127.0.0.1:1/x.jpg", dest) {
			t.Fatal("Fetch returned true for unreachable host")
		}
	})
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(50*time.Millisecond, "", zap.NewNop().Sugar())
	dest := filepath.Join(t.TempDir(), FileName("booth_slow"))

	start := time.Now()
	if f.Fetch(context.Background(), srv.URL+"/slow.jpg", dest) {
		t.Fatal("Fetch returned true on timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Fetch took %v, timeout not enforced", elapsed)
	}
}
