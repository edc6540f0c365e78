package codebase

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// skipDirs lists directories never descended into during enumeration.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// binaryExtensions are file extensions excluded up front; content sniffing
// catches the rest during mapping.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".bmp": true, ".tiff": true, ".webp": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true,
	".xz": true, ".7z": true, ".rar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".o": true, ".a": true,
	".bin": true,
	".mp3": true, ".mp4": true, ".wav": true, ".ogg": true, ".flac": true,
	".avi": true, ".mkv": true, ".mov": true, ".webm": true,
	".db": true, ".sqlite": true, ".class": true, ".pyc": true,
}

// Walker enumerates candidate file paths under a root, honoring the skip-dir
// set, binary extension filters, and root-level .gitignore patterns. It
// implements ports.Enumerator.
type Walker struct{}

// NewWalker creates a path enumerator.
func NewWalker() *Walker {
	return &Walker{}
}

// Enumerate returns the sorted absolute paths of candidate files under root.
func (w *Walker) Enumerate(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootInaccessible, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootInaccessible, absRoot)
	}

	ignore := loadGitignore(absRoot)

	var files []string
	err = filepath.WalkDir(absRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == absRoot {
				return fmt.Errorf("%w: %v", ErrRootInaccessible, err)
			}
			return nil // unreadable entry, skip
		}
		rel, relErr := filepath.Rel(absRoot, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if p == absRoot {
				return nil
			}
			if skipDirs[d.Name()] || ignore.matchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if binaryExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		if ignore.matchFile(rel) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// gitignore holds patterns from the root-level .gitignore. Only the common
// subset is supported: glob patterns matched against the base name or the
// root-relative path, trailing '/' for directory-only patterns.
type gitignore struct {
	filePatterns []string
	dirPatterns  []string
}

func loadGitignore(root string) *gitignore {
	g := &gitignore{}
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return g
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		dirOnly := strings.HasSuffix(line, "/")
		line = strings.TrimSuffix(line, "/")
		line = strings.TrimPrefix(line, "/")
		if line == "" {
			continue
		}
		if dirOnly {
			g.dirPatterns = append(g.dirPatterns, line)
		} else {
			g.filePatterns = append(g.filePatterns, line)
			g.dirPatterns = append(g.dirPatterns, line)
		}
	}
	return g
}

func matchPattern(pattern, rel string) bool {
	if ok, _ := path.Match(pattern, rel); ok {
		return true
	}
	if ok, _ := path.Match(pattern, path.Base(rel)); ok {
		return true
	}
	return false
}

func (g *gitignore) matchFile(rel string) bool {
	for _, p := range g.filePatterns {
		if matchPattern(p, rel) {
			return true
		}
	}
	return false
}

func (g *gitignore) matchDir(rel string) bool {
	for _, p := range g.dirPatterns {
		if matchPattern(p, rel) {
			return true
		}
	}
	return false
}
