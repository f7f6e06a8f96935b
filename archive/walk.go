package archive

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PackageExt is the extension of importable Unity packages.
const PackageExt = ".unitypackage"

// SkippedPath is an entry the walk could not read.
type SkippedPath struct {
	Path string
	Err  error
}

// IsPackage reports whether name ends in PackageExt, ignoring case.
func IsPackage(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), PackageExt)
}

// FindPackages walks root depth-first with an explicit stack and returns
// every regular file ending in PackageExt. Entries that cannot be read are
// collected in skipped and the walk carries on.
func FindPackages(root string) (found []string, skipped []SkippedPath) {
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			// ReadDir may still return the entries read before the error.
			skipped = append(skipped, SkippedPath{Path: dir, Err: err})
		}

		for _, ent := range entries {
			path := filepath.Join(dir, ent.Name())
			info, err := ent.Info()
			if err != nil {
				skipped = append(skipped, SkippedPath{Path: path, Err: err})
				continue
			}
			if info.IsDir() {
				stack = append(stack, path)
				continue
			}
			if info.Mode().IsRegular() && IsPackage(ent.Name()) {
				found = append(found, path)
			}
		}
	}
	sort.Strings(found)
	return found, skipped
}
