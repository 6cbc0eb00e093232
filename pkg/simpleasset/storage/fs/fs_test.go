package fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func newBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := New(Config{BaseDir: dir, NoSync: true})
	require.NoError(t, err)
	return b, dir
}

func tmpEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, tmpDirName))
	require.NoError(t, err)
	return len(entries)
}

func TestFSBackend_BasicOps(t *testing.T) {
	b, dir := newBackend(t)
	ctx := context.Background()
	name := "owners/u1/ab/abcdef.txt"
	data := []byte("hello fs")

	ok, err := b.Exists(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := simpleasset.WriteAtomic(ctx, b, name, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	ok, err = b.Exists(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := b.Stat(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)

	rc, err := b.Open(ctx, name)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	_, err = os.Stat(filepath.Join(dir, "owners", "u1", "ab", "abcdef.txt"))
	assert.NoError(t, err)
	assert.Equal(t, 0, tmpEntries(t, dir))
}

func TestFSBackend_PublishExisting(t *testing.T) {
	b, dir := newBackend(t)
	ctx := context.Background()
	name := "owners/u1/ab/abcdef.txt"

	_, err := simpleasset.WriteAtomic(ctx, b, name, strings.NewReader("first"))
	require.NoError(t, err)

	_, err = simpleasset.WriteAtomic(ctx, b, name, strings.NewReader("second"))
	assert.ErrorIs(t, err, simpleasset.ErrObjectExists)

	rc, err := b.Open(ctx, name)
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "first", string(got))
	assert.Equal(t, 0, tmpEntries(t, dir))
}

func TestFSBackend_DiscardLeavesNothing(t *testing.T) {
	b, dir := newBackend(t)
	ctx := context.Background()

	w, err := b.NewWriter(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	assert.Equal(t, 1, tmpEntries(t, dir))

	require.NoError(t, w.Discard())
	require.NoError(t, w.Discard())
	assert.Equal(t, 0, tmpEntries(t, dir))

	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFSBackend_ConcurrentPublishSingleWinner(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()
	name := "owners/u1/cd/cdef.bin"

	const writers = 8
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = simpleasset.WriteAtomic(ctx, b, name, strings.NewReader("same bytes"))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, simpleasset.ErrObjectExists)
	}
	assert.Equal(t, 1, winners)
}

func TestFSBackend_RejectsEscapingNames(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	for _, name := range []string{"../outside", "/etc/passwd", "owners/../../x", ".tmp", ".tmp/blob-1"} {
		_, err := b.Exists(ctx, name)
		assert.ErrorIs(t, err, simpleasset.ErrInvalidRequest, name)
	}
}

func TestFSBackend_NotFound(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	_, err := b.Open(ctx, "owners/u1/zz/missing")
	assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)
	_, err = b.Stat(ctx, "owners/u1/zz/missing")
	assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)
}

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base directory is required")
}
