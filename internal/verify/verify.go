package verify

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Verifier confirms post-copy equivalence between source and target.
// Verification is strictly read-only; neither tree is ever mutated.
type Verifier struct {
	// checksum enables byte-for-byte digest comparison. When disabled,
	// files are compared by size only.
	checksum bool
}

// New creates a verifier
func New(checksum bool) *Verifier {
	return &Verifier{checksum: checksum}
}

// Verify reports whether src and dst hold equivalent content. A mismatch
// is a normal outcome, not an error: false is returned for any content
// difference and for unreadable paths.
func (v *Verifier) Verify(src, dst string) bool {
	ok, _ := v.Check(src, dst)
	return ok
}

// Check is Verify with the first mismatch described, for operator logs
func (v *Verifier) Check(src, dst string) (bool, string) {
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return false, fmt.Sprintf("source unreadable: %v", err)
	}
	dstInfo, err := os.Lstat(dst)
	if err != nil {
		return false, fmt.Sprintf("target unreadable: %v", err)
	}

	if srcInfo.IsDir() != dstInfo.IsDir() {
		return false, "source and target differ in kind (file vs directory)"
	}

	if srcInfo.IsDir() {
		return v.checkTree(src, dst)
	}
	return v.checkFile(src, dst, srcInfo.Size(), dstInfo.Size())
}

func (v *Verifier) checkFile(src, dst string, srcSize, dstSize int64) (bool, string) {
	if srcSize != dstSize {
		return false, fmt.Sprintf("size mismatch: source %d bytes, target %d bytes", srcSize, dstSize)
	}
	if !v.checksum {
		return true, ""
	}

	srcSum, err := digest(src)
	if err != nil {
		return false, fmt.Sprintf("failed to hash source: %v", err)
	}
	dstSum, err := digest(dst)
	if err != nil {
		return false, fmt.Sprintf("failed to hash target: %v", err)
	}

	if !bytes.Equal(srcSum, dstSum) {
		return false, fmt.Sprintf("checksum mismatch for %s", filepath.Base(src))
	}
	return true, ""
}

// checkTree recursively confirms no additions, deletions or modifications
// between the two trees. Transient artifacts excluded by the transfer are
// ignored on both sides.
func (v *Verifier) checkTree(src, dst string) (bool, string) {
	srcFiles, err := listFiles(src)
	if err != nil {
		return false, fmt.Sprintf("failed to walk source: %v", err)
	}
	dstFiles, err := listFiles(dst)
	if err != nil {
		return false, fmt.Sprintf("failed to walk target: %v", err)
	}

	for _, rel := range sortedKeys(srcFiles) {
		dstSize, ok := dstFiles[rel]
		if !ok {
			return false, fmt.Sprintf("missing in target: %s", rel)
		}
		if ok, detail := v.checkFile(filepath.Join(src, rel), filepath.Join(dst, rel), srcFiles[rel], dstSize); !ok {
			return false, fmt.Sprintf("%s: %s", rel, detail)
		}
	}

	for _, rel := range sortedKeys(dstFiles) {
		if _, ok := srcFiles[rel]; !ok {
			return false, fmt.Sprintf("unexpected in target: %s", rel)
		}
	}

	return true, ""
}

func listFiles(root string) (map[string]int64, error) {
	files := make(map[string]int64)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isTransient(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files[rel] = info.Size()
		return nil
	})

	return files, err
}

func digest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

var transientExts = map[string]struct{}{
	".tmp":        {},
	".bak":        {},
	".swp":        {},
	".part":       {},
	".crdownload": {},
}

func isTransient(name string) bool {
	if strings.HasSuffix(name, "~") {
		return true
	}
	_, ok := transientExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
