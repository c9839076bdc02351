package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FailureKind classifies a transfer failure
type FailureKind int

const (
	KindNone FailureKind = iota
	// KindIO covers filesystem read/write/permission failures; these are
	// candidates for retry.
	KindIO
	// KindOther covers cancellation and timeout.
	KindOther
)

// Outcome is the tagged result of one transfer
type Outcome struct {
	OK    bool
	Kind  FailureKind
	Err   error
	Bytes int64
}

func success(bytes int64) Outcome {
	return Outcome{OK: true, Bytes: bytes}
}

func failure(err error) Outcome {
	kind := KindIO
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindOther
	}
	return Outcome{Kind: kind, Err: err}
}

// transientExts are artifact suffixes excluded from directory copies
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

// Executor performs the data copy for one item. It never deletes the
// source; RemoveSource is a separate, explicitly invoked step.
type Executor struct {
	dryRun bool
	logger *zap.Logger
}

// NewExecutor creates a transfer executor
func NewExecutor(dryRun bool, logger *zap.Logger) *Executor {
	return &Executor{dryRun: dryRun, logger: logger}
}

// Transfer copies src to dst preserving content, mode and mtime. Safe to
// re-run on the same pair: files already present at dst with matching size
// and mtime are skipped, anything else is overwritten in place. In dry-run
// mode no I/O happens and the outcome is unconditionally successful.
func (e *Executor) Transfer(ctx context.Context, src, dst string) Outcome {
	if e.dryRun {
		e.logger.Info("Would transfer",
			zap.String("source", src),
			zap.String("target", dst),
		)
		return success(0)
	}

	info, err := os.Lstat(src)
	if err != nil {
		return failure(fmt.Errorf("failed to stat source: %w", err))
	}

	if info.IsDir() {
		bytes, err := e.copyTree(ctx, src, dst)
		if err != nil {
			return failure(err)
		}
		return success(bytes)
	}

	bytes, err := e.copyFile(ctx, src, dst, info)
	if err != nil {
		return failure(err)
	}
	return success(bytes)
}

// RemoveSource deletes the source after a confirmed verification. Opt-in
// and irreversible; callers gate this on the item being marked migrated.
func (e *Executor) RemoveSource(src string) error {
	if e.dryRun {
		return nil
	}
	return os.RemoveAll(src)
}

func (e *Executor) copyTree(ctx context.Context, src, dst string) (int64, error) {
	var total int64

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
			// MkdirAll masks the mode with the umask; restore it.
			return os.Chmod(target, info.Mode().Perm())
		}

		if isTransient(d.Name()) {
			e.logger.Debug("Skipping transient artifact", zap.String("path", path))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		n, err := e.copyFile(ctx, path, target, info)
		total += n
		return err
	})

	if err != nil {
		return total, fmt.Errorf("failed to copy tree %s: %w", src, err)
	}
	return total, nil
}

func (e *Executor) copyFile(ctx context.Context, src, dst string, srcInfo os.FileInfo) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Resume semantics: an up-to-date target file is not rewritten.
	if dstInfo, err := os.Stat(dst); err == nil {
		if dstInfo.Size() == srcInfo.Size() &&
			dstInfo.ModTime().Equal(srcInfo.ModTime()) {
			return 0, nil
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("failed to create target %s: %w", dst, err)
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("failed to copy %s: %w", src, err)
	}

	if err := os.Chmod(dst, srcInfo.Mode().Perm()); err != nil {
		return n, fmt.Errorf("failed to set mode on %s: %w", dst, err)
	}
	if err := os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return n, fmt.Errorf("failed to set mtime on %s: %w", dst, err)
	}

	return n, nil
}
