package correlate

import (
	"context"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"booth-bridge/clock"

	"go.uber.org/zap"
)

var (
	downloadablesPattern = regexp.MustCompile(`/downloadables/(\d+)`)
	itemsPattern         = regexp.MustCompile(`/items/(\d+)`)
)

// DefaultHosts are the marketplace hosts whose URLs the path resolvers
// inspect.
var DefaultHosts = []string{"booth.pm", "pximg.net"}

// Resolver is one link of the resolution chain.
type Resolver func(observedURL string) (Resolution, bool)

// Notification is what a completed, resolved download reports to the relay.
// Timestamp is in Unix milliseconds.
type Notification struct {
	Filename   string `json:"filename"`
	FullPath   string `json:"fullPath,omitempty"`
	ProductID  string `json:"boothId,omitempty"`
	DownloadID string `json:"downloadId,omitempty"`
	Index      int    `json:"downloadIndex,omitempty"`
	URL        string `json:"url,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// Notifier receives completed downloads.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

type browserDownload struct {
	url        string
	filename   string
	resolution Resolution
	started    time.Time
}

// Correlator follows browser downloads from start to completion.
type Correlator struct {
	anticipations *Anticipations
	resolvers     []Resolver
	notifier      Notifier
	clock         clock.Clock
	log           *zap.SugaredLogger

	mu        sync.Mutex
	downloads map[string]*browserDownload
}

// NewCorrelator builds the standard chain: anticipated URL, downloadable
// id, item id. Path resolvers only look at URLs on hosts.
func NewCorrelator(a *Anticipations, hosts []string, n Notifier, c clock.Clock, log *zap.SugaredLogger) *Correlator {
	if a == nil {
		a = &Anticipations{}
	}
	if hosts == nil {
		hosts = DefaultHosts
	}
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Correlator{
		anticipations: a,
		resolvers: []Resolver{
			a.Match,
			onHosts(hosts, ResolveDownloadable),
			onHosts(hosts, ResolveItem),
		},
		notifier:  n,
		clock:     c,
		log:       log,
		downloads: make(map[string]*browserDownload),
	}
}

// Anticipations returns the table the first resolver consults.
func (c *Correlator) Anticipations() *Anticipations { return c.anticipations }

// Resolve runs the chain; the first hit wins.
func (c *Correlator) Resolve(observedURL string) Resolution {
	for _, r := range c.resolvers {
		if res, ok := r(observedURL); ok {
			return res
		}
	}
	return Resolution{}
}

// OnDownloadStarted resolves a new browser download. Unresolved downloads
// are not tracked and will never produce a notification.
func (c *Correlator) OnDownloadStarted(id, observedURL, filename string) Resolution {
	res := c.Resolve(observedURL)
	if !res.Resolved() {
		c.log.Debugw("Ignoring untracked download", zap.String("download", id), zap.String("url", observedURL))
		return res
	}

	c.mu.Lock()
	c.downloads[id] = &browserDownload{url: observedURL, filename: filename, resolution: res, started: c.clock.Now()}
	size := len(c.downloads)
	c.mu.Unlock()

	c.log.Infow("Tracking download", zap.String("download", id), zap.Stringer("resolution", res), zap.Int("in_flight", size))
	return res
}

// OnFilenameChanged records the browser's final file name for a download.
func (c *Correlator) OnFilenameChanged(id, filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.downloads[id]; ok && filename != "" {
		d.filename = filename
	}
}

// OnDownloadCompleted notifies the relay about a tracked download and
// forgets it. It reports whether a notification was sent.
func (c *Correlator) OnDownloadCompleted(ctx context.Context, id, finalPath string) (bool, error) {
	c.mu.Lock()
	d, ok := c.downloads[id]
	delete(c.downloads, id)
	c.mu.Unlock()
	if !ok {
		return false, nil
	}

	if finalPath == "" {
		finalPath = d.filename
	}
	n := Notification{
		Filename:   baseName(finalPath),
		FullPath:   finalPath,
		DownloadID: d.resolution.DownloadID,
		Index:      d.resolution.DownloadIndex,
		URL:        d.url,
		Timestamp:  c.clock.Now().UnixMilli(),
	}
	n.ProductID, _ = d.resolution.Product()

	if c.notifier == nil {
		return false, nil
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.log.Warnw("Download notification failed", zap.String("download", id), zap.Error(err))
		return false, err
	}
	c.log.Infow("Download completed", zap.String("download", id), zap.String("filename", n.Filename), zap.String("product_id", n.ProductID))
	return true, nil
}

// OnDownloadInterrupted forgets a download without notifying.
func (c *Correlator) OnDownloadInterrupted(id string) {
	c.mu.Lock()
	d, ok := c.downloads[id]
	delete(c.downloads, id)
	c.mu.Unlock()
	if ok {
		c.log.Warnw("Download interrupted", zap.String("download", id), zap.Stringer("resolution", d.resolution))
	}
}

// InFlight returns the number of tracked browser downloads.
func (c *Correlator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.downloads)
}

// ResolveDownloadable extracts the id of a ".../downloadables/<id>" URL.
func ResolveDownloadable(observedURL string) (Resolution, bool) {
	m := downloadablesPattern.FindStringSubmatch(urlPath(observedURL))
	if m == nil {
		return Resolution{}, false
	}
	return Resolution{Kind: ByDownloadID, DownloadID: m[1]}, true
}

// ResolveItem extracts the product of a ".../items/<id>" URL.
func ResolveItem(observedURL string) (Resolution, bool) {
	m := itemsPattern.FindStringSubmatch(urlPath(observedURL))
	if m == nil {
		return Resolution{}, false
	}
	return Resolution{Kind: ByItemID, ProductID: ProductID(m[1])}, true
}

func onHosts(hosts []string, r Resolver) Resolver {
	return func(observedURL string) (Resolution, bool) {
		if !hostAllowed(observedURL, hosts) {
			return Resolution{}, false
		}
		return r(observedURL)
	}
}

func hostAllowed(raw string, hosts []string) bool {
	if len(hosts) == 0 {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func urlPath(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return u.Path
	}
	return stripQuery(raw)
}

// baseName strips both separators since browsers report native paths.
func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return filepath.Base(filepath.FromSlash(p))
}
