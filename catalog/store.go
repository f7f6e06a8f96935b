package catalog

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var downloadablesPattern = regexp.MustCompile(`downloadables/(\d+)`)

// Store owns the on-disk catalog and its single-generation backup.
// Every mutation is a load → modify → save cycle under one mutex.
type Store struct {
	path       string
	backupPath string
	log        *zap.SugaredLogger
	mu         sync.Mutex
}

// NewStore creates a Store for the catalog at path, backed up to backupPath.
func NewStore(path, backupPath string, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{path: path, backupPath: backupPath, log: log}
}

// Path returns the live catalog path.
func (s *Store) Path() string { return s.path }

// BackupPath returns the backup catalog path.
func (s *Store) BackupPath() string { return s.backupPath }

// Load reads the catalog. If the live document is corrupt the backup is
// tried; if both fail an empty catalog is returned together with an error
// wrapping ErrCorrupt. A missing live file is a fresh install, not an error.
func (s *Store) Load() ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]Product, error) {
	products, err := readFile(s.path)
	if err == nil {
		s.log.Debugw("Catalog loaded", zap.String("path", s.path), zap.Int("count", len(products)))
		return products, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		s.log.Debugw("Catalog file does not exist yet", zap.String("path", s.path))
		return []Product{}, nil
	}

	s.log.Warnw("Failed to read catalog, trying backup", zap.String("path", s.path), zap.Error(err))
	backup, backupErr := readFile(s.backupPath)
	if backupErr == nil {
		s.log.Warnw("Catalog restored from backup", zap.String("path", s.backupPath), zap.Int("count", len(backup)))
		return backup, nil
	}

	s.log.Warnw("Backup unreadable, continuing with an empty catalog",
		zap.String("path", s.backupPath),
		zap.Error(backupErr),
	)
	return []Product{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
}

// save must be called with s.mu held.
func (s *Store) save(products []Product) error {
	if err := writeWithBackup(s.path, s.backupPath, products); err != nil {
		s.log.Errorw("Failed to save catalog", zap.String("path", s.path), zap.Int("count", len(products)), zap.Error(err))
		return err
	}
	s.log.Infow("Catalog saved", zap.String("path", s.path), zap.Int("count", len(products)))
	return nil
}

// Upsert merges a freshly scraped batch into the catalog and persists the
// result once. Existing records keep their installed state, import path and
// notes; everything else comes from the scrape. Records are processed in
// batch order, so a later duplicate id overwrites an earlier one.
func (s *Store) Upsert(batch []Product) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products, err := s.load()
	if err != nil {
		s.log.Warnw("Merging into an empty catalog", zap.Error(err))
	}

	var res UpsertResult
	for _, incoming := range batch {
		if i := IndexOf(products, incoming.ID); i >= 0 {
			existing := products[i]
			incoming.Installed = existing.Installed
			incoming.ImportPath = existing.ImportPath
			incoming.Notes = existing.Notes
			products[i] = incoming
			res.Updated++
			s.log.Debugw("Updated product", zap.String("id", incoming.ID))
			continue
		}
		incoming.Installed = false
		incoming.ImportPath = ""
		products = append(products, incoming)
		res.Added++
		s.log.Debugw("Added product", zap.String("id", incoming.ID))
	}
	res.Total = len(products)

	if err := s.save(products); err != nil {
		return res, err
	}
	return res, nil
}

// MarkInstalled flips the installed flag of the product with the given id.
// It reports whether the product was found; an absent id is not an error.
func (s *Store) MarkInstalled(id, importPath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products, err := s.load()
	if err != nil {
		s.log.Warnw("Catalog unreadable while marking installed", zap.String("id", id), zap.Error(err))
	}

	i := IndexOf(products, id)
	if i < 0 {
		s.log.Warnw("Product not found in catalog", zap.String("id", id))
		return false, nil
	}

	products[i].Installed = true
	products[i].ImportPath = importPath
	if err := s.save(products); err != nil {
		return true, err
	}
	s.log.Infow("Product marked installed", zap.String("id", id), zap.String("title", products[i].Title), zap.String("import_path", importPath))
	return true, nil
}

// FindByDownloadID maps a "/downloadables/<id>" identifier to the product
// whose download links contain it, returning the link index as well.
func (s *Store) FindByDownloadID(downloadID string) (string, int, bool) {
	if downloadID == "" {
		return "", 0, false
	}
	products, err := s.Load()
	if err != nil {
		return "", 0, false
	}
	for _, p := range products {
		for i, link := range p.DownloadLinks {
			m := downloadablesPattern.FindStringSubmatch(link.URL)
			if m != nil && m[1] == downloadID {
				return p.ID, i, true
			}
		}
	}
	return "", 0, false
}

// DownloadMap returns productId → download URLs for every product in batch
// that exposes at least one link, in the shape the correlator expects.
func DownloadMap(batch []Product) map[string][]string {
	out := make(map[string][]string)
	for _, p := range batch {
		var urls []string
		for _, link := range p.DownloadLinks {
			if strings.TrimSpace(link.URL) == "" {
				continue
			}
			urls = append(urls, link.URL)
		}
		if len(urls) == 0 {
			delete(out, p.ID)
			continue
		}
		out[p.ID] = urls
	}
	return out
}
