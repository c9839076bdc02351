package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tierDirs maps a classification category to its archive tier directory.
// Unrecognized categories fall through to the uncategorized bucket rather
// than blocking the run.
var tierDirs = map[string]string{
	"production_ready":     "01_PRODUCTION_READY",
	"active_production":    "02_ACTIVE_PRODUCTION",
	"finished_experiments": "03_FINISHED_EXPERIMENTS",
	"development":          "04_DEVELOPMENT",
	"complex_sketches":     "05_COMPLEX_SKETCHES",
	"simple_ideas":         "06_SIMPLE_IDEAS",
	"archived_samples":     "07_ARCHIVED_SAMPLES",
	"exports":              "08_EXPORTS_FOR_JELLYFIN",
	"collaborations":       "09_COLLABORATIONS",
	"archive":              "10_ARCHIVE",
}

const defaultTierDir = "00_UNCATEGORIZED"

// maxSuffix bounds the conflict-resolution loop; hitting it means the
// target directory holds thousands of identically named entries.
const maxSuffix = 10000

// Resolver maps categories to archive tier directories and reserves
// collision-free target paths under them.
type Resolver struct {
	root string
}

// New creates a resolver rooted at the archive root directory
func New(root string) *Resolver {
	return &Resolver{root: root}
}

// TargetDir returns the tier directory for a category. Total over all
// inputs: unknown categories map to the uncategorized bucket.
func (r *Resolver) TargetDir(category string) string {
	dir, ok := tierDirs[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		dir = defaultTierDir
	}
	return filepath.Join(r.root, dir)
}

// EnsureDir creates the directory if it does not exist
func (r *Resolver) EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Reserve returns a collision-free path for displayName under targetDir and
// claims it with an exclusive create, so concurrent workers resolving the
// same name can never be handed the same candidate. The reservation is an
// empty directory (dir items) or an empty file (file items); the transfer
// overwrites it.
func (r *Resolver) Reserve(targetDir, displayName string, isDir bool) (string, error) {
	name := sanitizeName(displayName)

	for i := 0; i < maxSuffix; i++ {
		candidate := filepath.Join(targetDir, candidateName(name, i))

		var err error
		if isDir {
			err = os.Mkdir(candidate, 0o755)
		} else {
			var f *os.File
			f, err = os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
			if err == nil {
				f.Close()
			}
		}

		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to reserve %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf("no free name for %q under %s", displayName, targetDir)
}

// Plan returns the path Reserve would hand out without claiming it.
// Used in dry-run mode, where nothing may be created under the archive root.
func (r *Resolver) Plan(targetDir, displayName string) string {
	name := sanitizeName(displayName)

	for i := 0; i < maxSuffix; i++ {
		candidate := filepath.Join(targetDir, candidateName(name, i))
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}

	return filepath.Join(targetDir, name)
}

func candidateName(name string, attempt int) string {
	if attempt == 0 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, attempt)
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.ReplaceAll(name, "/", "_")
	if name == "" || name == "." || name == ".." {
		name = "unnamed"
	}
	return name
}
