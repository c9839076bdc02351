package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestTransferSingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "track.wav")
	dst := filepath.Join(dir, "dst", "track.wav")
	writeFile(t, src, "audio data")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))

	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	e := NewExecutor(false, zap.NewNop())
	out := e.Transfer(context.Background(), src, dst)

	require.True(t, out.OK, "transfer failed: %v", out.Err)
	assert.Equal(t, int64(len("audio data")), out.Bytes)
	assert.Equal(t, "audio data", readFile(t, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime), "mtime not preserved")
}

func TestTransferDirectoryExcludesTransientArtifacts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "My Project")
	dst := filepath.Join(dir, "dst", "My Project")

	writeFile(t, filepath.Join(src, "project.als"), "project")
	writeFile(t, filepath.Join(src, "Samples", "kick.wav"), "kick")
	writeFile(t, filepath.Join(src, "session.tmp"), "scratch")
	writeFile(t, filepath.Join(src, "old.bak"), "backup")
	writeFile(t, filepath.Join(src, "notes.txt~"), "editor backup")

	e := NewExecutor(false, zap.NewNop())
	out := e.Transfer(context.Background(), src, dst)
	require.True(t, out.OK, "transfer failed: %v", out.Err)

	assert.Equal(t, "project", readFile(t, filepath.Join(dst, "project.als")))
	assert.Equal(t, "kick", readFile(t, filepath.Join(dst, "Samples", "kick.wav")))

	for _, name := range []string{"session.tmp", "old.bak", "notes.txt~"} {
		_, err := os.Stat(filepath.Join(dst, name))
		assert.True(t, os.IsNotExist(err), "%s should not be copied", name)
	}
}

func TestTransferPreservesDirectoryMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "proj")
	dst := filepath.Join(dir, "dst", "proj")

	writeFile(t, filepath.Join(src, "Samples", "kick.wav"), "kick")
	require.NoError(t, os.Chmod(filepath.Join(src, "Samples"), 0o700))
	t.Cleanup(func() { os.Chmod(filepath.Join(src, "Samples"), 0o755) })

	e := NewExecutor(false, zap.NewNop())
	out := e.Transfer(context.Background(), src, dst)
	require.True(t, out.OK, "transfer failed: %v", out.Err)

	info, err := os.Stat(filepath.Join(dst, "Samples"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestTransferResumesWithoutDuplicating(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "proj")
	dst := filepath.Join(dir, "dst", "proj")

	writeFile(t, filepath.Join(src, "done.wav"), "complete file")
	writeFile(t, filepath.Join(src, "partial.wav"), "full content of this file")

	e := NewExecutor(false, zap.NewNop())
	out := e.Transfer(context.Background(), src, dst)
	require.True(t, out.OK)

	// Simulate an interrupted earlier copy: truncate one target file.
	writeFile(t, filepath.Join(dst, "partial.wav"), "full cont")

	out = e.Transfer(context.Background(), src, dst)
	require.True(t, out.OK)
	assert.Equal(t, "full content of this file", readFile(t, filepath.Join(dst, "partial.wav")))
	assert.Equal(t, "complete file", readFile(t, filepath.Join(dst, "done.wav")))

	// Up-to-date files are skipped, so a full re-run copies nothing.
	out = e.Transfer(context.Background(), src, dst)
	require.True(t, out.OK)
	assert.Equal(t, int64(0), out.Bytes)
}

func TestTransferMissingSourceIsIOFailure(t *testing.T) {
	dir := t.TempDir()

	e := NewExecutor(false, zap.NewNop())
	out := e.Transfer(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))

	assert.False(t, out.OK)
	assert.Equal(t, KindIO, out.Kind)
	assert.Error(t, out.Err)
}

func TestTransferCancelledContextIsNotIO(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "a.wav"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewExecutor(false, zap.NewNop())
	out := e.Transfer(ctx, src, filepath.Join(dir, "dst"))

	assert.False(t, out.OK)
	assert.Equal(t, KindOther, out.Kind)
}

func TestDryRunPerformsNoIO(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst", "proj")
	writeFile(t, filepath.Join(src, "a.wav"), "a")

	e := NewExecutor(true, zap.NewNop())
	out := e.Transfer(context.Background(), src, dst)

	assert.True(t, out.OK)
	_, err := os.Stat(dst)
	assert.True(t, os.IsNotExist(err))

	// Dry-run succeeds even for a missing source.
	out = e.Transfer(context.Background(), filepath.Join(dir, "nope"), dst)
	assert.True(t, out.OK)
}

func TestRemoveSourceIsNoOpInDryRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "a.wav"), "a")

	require.NoError(t, NewExecutor(true, zap.NewNop()).RemoveSource(src))
	_, err := os.Stat(src)
	assert.NoError(t, err)

	require.NoError(t, NewExecutor(false, zap.NewNop()).RemoveSource(src))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}
