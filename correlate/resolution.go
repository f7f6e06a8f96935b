// Package correlate matches anonymous downloads to BOOTH products.
//
// Three weakly reliable channels feed it: download URLs anticipated from
// the last library scrape, identifiers embedded in the download URL, and
// the archive file name itself. Browser-side events are resolved by
// Correlator; the relay-side filename map lives in Tracker.
package correlate

import "fmt"

// Kind tags how a download was resolved.
type Kind int

const (
	Unresolved Kind = iota
	ByAnticipatedURL
	ByDownloadID
	ByItemID
)

func (k Kind) String() string {
	switch k {
	case ByAnticipatedURL:
		return "anticipated_url"
	case ByDownloadID:
		return "download_id"
	case ByItemID:
		return "item_id"
	default:
		return "unresolved"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unresolved", "":
		*k = Unresolved
	case "anticipated_url":
		*k = ByAnticipatedURL
	case "download_id":
		*k = ByDownloadID
	case "item_id":
		*k = ByItemID
	default:
		return fmt.Errorf("unknown resolution kind %q", text)
	}
	return nil
}

// Resolution is the result of resolving one observed download URL. Only
// ByAnticipatedURL and ByItemID carry a product id; ByDownloadID carries
// an opaque downloadable id that still needs mapping.
type Resolution struct {
	Kind          Kind   `json:"kind"`
	ProductID     string `json:"productId,omitempty"`
	DownloadIndex int    `json:"downloadIndex"`
	DownloadID    string `json:"downloadId,omitempty"`
}

// Resolved reports whether the download should be tracked at all.
func (r Resolution) Resolved() bool { return r.Kind != Unresolved }

// Product returns the product id for full resolutions.
func (r Resolution) Product() (string, bool) {
	switch r.Kind {
	case ByAnticipatedURL, ByItemID:
		return r.ProductID, r.ProductID != ""
	}
	return "", false
}

func (r Resolution) String() string {
	switch r.Kind {
	case ByAnticipatedURL:
		return fmt.Sprintf("%s[%d] via anticipated url", r.ProductID, r.DownloadIndex)
	case ByDownloadID:
		return "downloadable " + r.DownloadID
	case ByItemID:
		return r.ProductID + " via item url"
	}
	return "unresolved"
}

// ProductID builds the catalog id for a numeric BOOTH item id.
func ProductID(numeric string) string { return "booth_" + numeric }
