package codebase

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func relPaths(t *testing.T, root string, abs []string) []string {
	t.Helper()
	out := make([]string, len(abs))
	for i, p := range abs {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestEnumerateSkipsVCSAndDependencyDirs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":               "package main\n",
		"lib/util.go":           "package lib\n",
		".git/config":           "[core]\n",
		"node_modules/x/idx.js": "module.exports = {}\n",
		"vendor/dep/dep.go":     "package dep\n",
	})

	paths, err := NewWalker().Enumerate(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/util.go", "main.go"}, relPaths(t, root, paths))
}

func TestEnumerateSkipsBinaryExtensions(t *testing.T) {
	root := writeTree(t, map[string]string{
		"readme.md": "# hi\n",
		"logo.png":  "not really a png",
		"app.exe":   "MZ",
		"data.bin":  "\x00\x01",
	})

	paths, err := NewWalker().Enumerate(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"readme.md"}, relPaths(t, root, paths))
}

func TestEnumerateHonorsGitignore(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":     "*.log\nsecret/\n# comment\n\n!keep.log\n",
		"app.go":         "package app\n",
		"debug.log":      "noise\n",
		"secret/key.txt": "hunter2\n",
		"docs/notes.txt": "notes\n",
	})

	paths, err := NewWalker().Enumerate(root)
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "app.go", "docs/notes.txt"}, relPaths(t, root, paths))
}

func TestEnumerateSortedOutput(t *testing.T) {
	root := writeTree(t, map[string]string{
		"z.txt":   "z\n",
		"a.txt":   "a\n",
		"m/b.txt": "b\n",
	})

	paths, err := NewWalker().Enumerate(root)
	require.NoError(t, err)
	assert.True(t, sort.StringsAreSorted(paths))
	assert.Len(t, paths, 3)
}

func TestEnumerateMissingRoot(t *testing.T) {
	_, err := NewWalker().Enumerate(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrRootInaccessible)
}

func TestEnumerateRootIsFile(t *testing.T) {
	root := writeTree(t, map[string]string{"f.txt": "x\n"})
	_, err := NewWalker().Enumerate(filepath.Join(root, "f.txt"))
	assert.ErrorIs(t, err, ErrRootInaccessible)
}
