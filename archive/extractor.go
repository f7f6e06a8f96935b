// Package archive unpacks downloaded ZIP archives and stages the Unity
// packages they contain for the editor-side importer.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"booth-bridge/clock"
	"booth-bridge/db"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/japanese"
)

var (
	ErrArchiveNotFound = errors.New("archive not found")
	ErrNoPackages      = errors.New("archive contains no " + PackageExt + " files")
)

// zip general purpose flag bit 11: names are UTF-8.
const flagUTF8 = 0x800

// Target identifies what an archive belongs to. Both fields may be empty.
type Target struct {
	ProductID string
	Subfolder string
}

// Result describes a finished extraction.
type Result struct {
	Entries    int
	Packages   []string // staged paths
	Skipped    []SkippedPath
	ImportPath string
}

// Installer flips a product's installed state.
type Installer interface {
	MarkInstalled(id, importPath string) (bool, error)
}

// Recorder stores extraction outcomes.
type Recorder interface {
	Record(rec db.ImportRecord) error
}

// Reporter receives progress for GET /progress.
type Reporter interface {
	Begin(fileName, message string)
	Advance(percent int, message string)
	Complete(message string)
	Fail(message string)
}

// Options configures an Extractor.
type Options struct {
	StagingDir  string
	ScratchRoot string // defaults to os.TempDir()
	ImportRoot  string // prefix of the importPath written to the catalog
	Installer   Installer
	Recorder    Recorder
	Progress    Reporter
	Clock       clock.Clock
	Log         *zap.SugaredLogger
}

// Extractor turns a downloaded ZIP into staged package files.
type Extractor struct {
	opts Options
	log  *zap.SugaredLogger
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.ScratchRoot == "" {
		opts.ScratchRoot = os.TempDir()
	}
	if opts.ImportRoot == "" {
		opts.ImportRoot = "Assets/ImportedAssets"
	}
	if opts.Progress == nil {
		opts.Progress = nopReporter{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Extractor{opts: opts, log: log}
}

// ImportPath is the catalog importPath for a target.
func (e *Extractor) ImportPath(t Target) string {
	p := path.Join(e.opts.ImportRoot, t.ProductID)
	if t.Subfolder != "" {
		p = path.Join(p, t.Subfolder)
	}
	return p + "/"
}

// Extract unpacks zipPath into a fresh scratch directory, stages every
// package file it finds and, when the target names a product, marks that
// product installed. The scratch directory is always removed. An archive
// without packages yields ErrNoPackages and leaves catalog and staging
// untouched.
func (e *Extractor) Extract(zipPath string, target Target) (Result, error) {
	log := e.log.With(zap.String("archive", filepath.Base(zipPath)), zap.String("product_id", target.ProductID))
	fileName := filepath.Base(zipPath)

	stat, err := os.Stat(zipPath)
	if err != nil {
		log.Errorw("Archive does not exist", zap.String("path", zipPath), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %s", ErrArchiveNotFound, zipPath)
	}

	rec := db.ImportRecord{ArchiveName: fileName, ProductID: target.ProductID, Subfolder: target.Subfolder}
	if sum, err := HashFile(zipPath); err == nil {
		rec.ArchiveSHA1 = sum
	} else {
		log.Warnw("Failed to hash archive", zap.Error(err))
	}

	log.Infow("Extracting archive", zap.Int64("size_bytes", stat.Size()), zap.String("subfolder", target.Subfolder))
	e.opts.Progress.Begin(fileName, "Opening archive...")

	res, err := e.extract(zipPath, target, log)
	switch {
	case errors.Is(err, ErrNoPackages):
		rec.Status = db.StatusNoPackages
		rec.Message = err.Error()
		e.opts.Progress.Fail("No " + PackageExt + " files found")
	case err != nil:
		rec.Status = db.StatusFailed
		rec.Message = err.Error()
		e.opts.Progress.Fail("Error: " + err.Error())
	default:
		rec.Status = db.StatusImported
		rec.PackageCount = len(res.Packages)
		e.opts.Progress.Complete(fmt.Sprintf("Done: %d %s file(s)", len(res.Packages), PackageExt))
	}
	e.record(rec, log)

	if err != nil {
		log.Warnw("Extraction did not stage any package", zap.Error(err))
		return res, err
	}
	log.Infow("Extraction finished", zap.Int("packages", len(res.Packages)))
	return res, nil
}

func (e *Extractor) extract(zipPath string, target Target, log *zap.SugaredLogger) (res Result, err error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return res, fmt.Errorf("opening zip: %w", err)
	}
	defer reader.Close()

	res.Entries = len(reader.File)
	log.Infow("Archive opened", zap.Int("entries", res.Entries))
	e.opts.Progress.Advance(10, "Reading archive...")

	scratch, err := e.makeScratch(target)
	if err != nil {
		return res, err
	}
	defer e.removeScratch(scratch, log)

	e.opts.Progress.Advance(30, fmt.Sprintf("Extracting %d entries...", res.Entries))
	escaped, err := unpack(reader.File, scratch)
	res.Skipped = append(res.Skipped, escaped...)
	for _, s := range escaped {
		log.Warnw("Skipped unsafe archive entry", zap.String("entry", s.Path), zap.Error(s.Err))
	}
	if err != nil {
		return res, err
	}

	e.opts.Progress.Advance(60, "Searching for "+PackageExt+" files...")
	found, skipped := FindPackages(scratch)
	res.Skipped = append(res.Skipped, skipped...)
	for _, s := range skipped {
		log.Warnw("Skipped unreadable path", zap.String("path", s.Path), zap.Error(s.Err))
	}
	if len(found) == 0 {
		return res, ErrNoPackages
	}
	log.Infow("Packages found", zap.Int("count", len(found)))

	if err := os.MkdirAll(e.opts.StagingDir, 0755); err != nil {
		return res, fmt.Errorf("creating staging directory: %w", err)
	}
	for i, src := range found {
		name := filepath.Base(src)
		dst := filepath.Join(e.opts.StagingDir, name)
		e.opts.Progress.Advance(70+(i+1)*20/len(found), "Copying "+name)
		size, err := copyFile(src, dst)
		if err != nil {
			return res, fmt.Errorf("staging %s: %w", name, err)
		}
		log.Infow("Package staged", zap.String("file", name), zap.Int64("size_bytes", size))
		res.Packages = append(res.Packages, dst)
	}

	if target.ProductID != "" {
		res.ImportPath = e.ImportPath(target)
		if e.opts.Installer != nil {
			if _, err := e.opts.Installer.MarkInstalled(target.ProductID, res.ImportPath); err != nil {
				log.Errorw("Failed to update catalog after extraction", zap.Error(err))
			}
		}
	}

	e.opts.Progress.Advance(95, "Cleaning up...")
	return res, nil
}

func (e *Extractor) makeScratch(target Target) (string, error) {
	if err := os.MkdirAll(e.opts.ScratchRoot, 0755); err != nil {
		return "", fmt.Errorf("creating scratch root: %w", err)
	}
	prefix := "booth_temp_"
	if target.ProductID != "" {
		prefix += target.ProductID + "_"
	}
	prefix += fmt.Sprintf("%d_", e.opts.Clock.Now().UnixNano())
	dir, err := os.MkdirTemp(e.opts.ScratchRoot, prefix)
	if err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	return dir, nil
}

func (e *Extractor) removeScratch(dir string, log *zap.SugaredLogger) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warnw("Failed to remove scratch directory", zap.String("path", dir), zap.Error(err))
	}
}

func (e *Extractor) record(rec db.ImportRecord, log *zap.SugaredLogger) {
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.Record(rec); err != nil {
		log.Warnw("Failed to record import history", zap.Error(err))
	}
}

// unpack writes every entry below dest. Entries whose path would escape
// dest are skipped and returned.
func unpack(files []*zip.File, dest string) ([]SkippedPath, error) {
	var skipped []SkippedPath
	for _, f := range files {
		name := entryName(f)
		target, ok := safeJoin(dest, name)
		if !ok {
			skipped = append(skipped, SkippedPath{Path: name, Err: errors.New("entry escapes extraction directory")})
			continue
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				return skipped, fmt.Errorf("creating %s: %w", name, err)
			}
			continue
		}
		if err := writeEntry(f, target); err != nil {
			return skipped, fmt.Errorf("extracting %s: %w", name, err)
		}
	}
	return skipped, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// entryName returns the entry's name, decoding legacy Shift-JIS names
// written without the UTF-8 flag.
func entryName(f *zip.File) string {
	name := f.Name
	if f.Flags&flagUTF8 == 0 && !utf8.ValidString(name) {
		if decoded, err := japanese.ShiftJIS.NewDecoder().String(name); err == nil {
			name = decoded
		}
	}
	return strings.ReplaceAll(name, `\`, "/")
}

func safeJoin(root, name string) (string, bool) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}

type nopReporter struct{}

func (nopReporter) Begin(string, string) {}
func (nopReporter) Advance(int, string) {}
func (nopReporter) Complete(string) {}
func (nopReporter) Fail(string) {}
