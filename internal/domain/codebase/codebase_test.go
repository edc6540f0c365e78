package codebase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/curserve/internal/domain/matcher"
)

func buildSnapshot(t *testing.T, files map[string]string, opts Options) *Snapshot {
	t.Helper()
	root := writeTree(t, files)
	snap, err := Build(root, NewWalker(), opts)
	require.NoError(t, err)
	t.Cleanup(snap.Close)
	return snap
}

func TestBuildFiltersFiles(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"a.txt":     "hello world\n",
		"empty.txt": "",
		"blob.dat":  "elf\x00header",
	}, Options{})

	assert.Equal(t, 1, snap.FileCount())
	require.NotNil(t, snap.File("a.txt"))
	assert.Equal(t, "hello world\n", string(snap.File("a.txt").Bytes()))
	assert.Equal(t, int64(12), snap.TotalBytes)
	assert.Zero(t, snap.MapFailures)
}

func TestBuildSkipsOversizeFiles(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"small.txt": "ok\n",
		"big.txt":   "0123456789abcdef",
	}, Options{MaxFileSize: 8})

	assert.Equal(t, 1, snap.FileCount())
	assert.Nil(t, snap.File("big.txt"))
}

func TestBuildEmptyCodebase(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{}, Options{})
	assert.Zero(t, snap.FileCount())
	assert.Zero(t, snap.TotalBytes)

	res, err := snap.Search(matcher.New(), "anything", true, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Zero(t, res.FilesScanned)
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "gone"), NewWalker(), Options{})
	assert.ErrorIs(t, err, ErrRootInaccessible)
}

func TestSearchBasic(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"a.txt": "hello world\nsecond line\n",
	}, Options{})

	res, err := snap.Search(matcher.New(), "hello", true, 0)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "a.txt", res.Matches[0].Path)
	assert.Equal(t, 1, res.Matches[0].LineNumber)
	assert.Equal(t, "hello world", res.Matches[0].Line)
	assert.Equal(t, 0, res.Matches[0].ByteOffset)
	assert.Equal(t, 1, res.TotalMatches)
	assert.Equal(t, 1, res.FilesScanned)
	assert.GreaterOrEqual(t, res.Elapsed.Nanoseconds(), int64(0))
}

func TestSearchNoMatches(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"a.txt": "nothing here\n",
		"b.txt": "or here\n",
	}, Options{})

	res, err := snap.Search(matcher.New(), "absent", true, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Zero(t, res.TotalMatches)
	assert.Equal(t, 2, res.FilesScanned)
}

func TestSearchDeterministicOrder(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"c.txt":     "hit\nhit\n",
		"a.txt":     "hit\n",
		"sub/b.txt": "hit\n",
	}, Options{})

	want := []Match{
		{Path: "a.txt", LineNumber: 1, Line: "hit", ByteOffset: 0},
		{Path: "c.txt", LineNumber: 1, Line: "hit", ByteOffset: 0},
		{Path: "c.txt", LineNumber: 2, Line: "hit", ByteOffset: 4},
		{Path: "sub/b.txt", LineNumber: 1, Line: "hit", ByteOffset: 0},
	}
	for i := 0; i < 5; i++ {
		res, err := snap.Search(matcher.New(), "hit", true, 0)
		require.NoError(t, err)
		assert.Equal(t, want, res.Matches)
	}
}

func TestSearchTruncationKeepsTrueTotal(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{
		"a.txt": "x\nx\nx\nx\nx\n",
	}, Options{})

	res, err := snap.Search(matcher.New(), "x", true, 2)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
	assert.Equal(t, 5, res.TotalMatches)
	assert.Equal(t, 1, res.Matches[0].LineNumber)
	assert.Equal(t, 2, res.Matches[1].LineNumber)
}

func TestSearchInvalidPattern(t *testing.T) {
	snap := buildSnapshot(t, map[string]string{"a.txt": "x\n"}, Options{})
	_, err := snap.Search(matcher.New(), "[bad", true, 0)
	assert.ErrorIs(t, err, matcher.ErrInvalidPattern)
}

func TestSearchAfterClose(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "x\n"})
	snap, err := Build(root, NewWalker(), Options{})
	require.NoError(t, err)

	snap.Close()
	_, err = snap.Search(matcher.New(), "x", true, 0)
	assert.ErrorIs(t, err, ErrSnapshotClosed)
}

func TestCloseIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "x\n"})
	snap, err := Build(root, NewWalker(), Options{})
	require.NoError(t, err)
	snap.Close()
	snap.Close()
}

func TestSnapshotImmutableAfterFileChange(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "before\n"})
	snap, err := Build(root, NewWalker(), Options{})
	require.NoError(t, err)
	defer snap.Close()

	// Replace (not overwrite in place) so the old inode keeps its content.
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("after\n"), 0644))

	res, err := snap.Search(matcher.New(), "before", true, 0)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1)

	res, err = snap.Search(matcher.New(), "after", true, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}
