package correlate

import (
	"sort"
	"strings"
	"sync"
)

type anticipated struct {
	url       string // query stripped
	productID string
	index     int
}

// Anticipations is the snapshot of download URLs seen in the last scrape.
// Each Register replaces the whole table.
type Anticipations struct {
	mu      sync.RWMutex
	entries []anticipated
}

// Register replaces the table with productId → download URLs. Entries are
// ordered by product id, then link order, so lookups are deterministic.
func (a *Anticipations) Register(downloads map[string][]string) int {
	ids := make([]string, 0, len(downloads))
	for id := range downloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var entries []anticipated
	for _, id := range ids {
		for i, u := range downloads[id] {
			u = stripQuery(strings.TrimSpace(u))
			if u == "" {
				continue
			}
			entries = append(entries, anticipated{url: u, productID: id, index: i})
		}
	}

	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()
	return len(entries)
}

// Len returns the number of anticipated URLs.
func (a *Anticipations) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Match resolves observed against the table. Queries are ignored on both
// sides. An exact match anywhere in the table wins; otherwise the longest
// entry that prefixes observed at a path boundary is used.
func (a *Anticipations) Match(observed string) (Resolution, bool) {
	base := stripQuery(observed)
	if base == "" {
		return Resolution{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, e := range a.entries {
		if base == e.url {
			return Resolution{Kind: ByAnticipatedURL, ProductID: e.productID, DownloadIndex: e.index}, true
		}
	}

	best := -1
	for i, e := range a.entries {
		if !prefixAtBoundary(base, e.url) {
			continue
		}
		if best < 0 || len(e.url) > len(a.entries[best].url) {
			best = i
		}
	}
	if best < 0 {
		return Resolution{}, false
	}
	e := a.entries[best]
	return Resolution{Kind: ByAnticipatedURL, ProductID: e.productID, DownloadIndex: e.index}, true
}

// prefixAtBoundary reports whether prefix covers s up to a "/" separator,
// so ".../downloadables/123" does not claim ".../downloadables/1234".
func prefixAtBoundary(s, prefix string) bool {
	if len(prefix) >= len(s) || !strings.HasPrefix(s, prefix) {
		return false
	}
	return strings.HasSuffix(prefix, "/") || s[len(prefix)] == '/'
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
