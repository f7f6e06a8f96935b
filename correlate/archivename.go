package correlate

import (
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
)

var archiveNamePattern = regexp.MustCompile(`^booth_(\d+)(?:_(\d+))?\.(?i:zip)$`)

// Identity is what the watch loop needs to extract an archive.
type Identity struct {
	ProductID string
	Subfolder string
	Source    string
}

// Identity sources.
const (
	SourceFilename = "filename"
	SourceTracking = "tracking"
)

// ParseArchiveName applies the booth_<id>.zip / booth_<id>_<n>.zip
// convention. Variants land in subfolder variant_<n>.
func ParseArchiveName(name string) (Identity, bool) {
	m := archiveNamePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return Identity{}, false
	}
	id := Identity{ProductID: ProductID(m[1]), Source: SourceFilename}
	if m[2] != "" {
		id.Subfolder = "variant_" + m[2]
	}
	return id, true
}

// DownloadLookup maps an opaque downloadable id back to a product.
type DownloadLookup interface {
	FindByDownloadID(downloadID string) (productID string, index int, ok bool)
}

// ArchiveResolver decides which product an archive in Downloads belongs to.
type ArchiveResolver struct {
	tracker *Tracker
	lookup  DownloadLookup
	log     *zap.SugaredLogger
}

func NewArchiveResolver(t *Tracker, lookup DownloadLookup, log *zap.SugaredLogger) *ArchiveResolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ArchiveResolver{tracker: t, lookup: lookup, log: log}
}

// Resolve tries the naming convention, then the tracking map. A tracking
// hit is consumed even when it cannot be turned into a product id.
func (r *ArchiveResolver) Resolve(filename string) (Identity, bool) {
	if id, ok := ParseArchiveName(filename); ok {
		return id, true
	}
	if r.tracker == nil {
		return Identity{}, false
	}
	n, ok := r.tracker.Take(filename)
	if !ok {
		return Identity{}, false
	}
	if n.ProductID != "" {
		return Identity{ProductID: n.ProductID, Source: SourceTracking}, true
	}
	if n.DownloadID != "" && r.lookup != nil {
		if productID, _, found := r.lookup.FindByDownloadID(n.DownloadID); found {
			r.log.Debugw("Resolved downloadable via catalog", zap.String("download_id", n.DownloadID), zap.String("product_id", productID))
			return Identity{ProductID: productID, Source: SourceTracking}, true
		}
	}
	r.log.Warnw("Tracked download has no known product", zap.String("filename", filename), zap.String("download_id", n.DownloadID))
	return Identity{}, false
}
