package producer

import (
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// discoverFiles walks root recursively, keeping paths (relative to root,
// forward-slash separated) that match at least one include pattern and
// no exclude pattern. An empty include list matches everything.
// Grounded on cuemby-warren's glob-based include/exclude evaluation via
// bmatcuk/doublestar/v4.
func discoverFiles(root string, includes, excludes []string) (map[string][]string, error) {
	byDir := make(map[string][]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !matchesAny(rel, includes, true) {
			return nil
		}
		if matchesAny(rel, excludes, false) {
			return nil
		}

		dir := filepath.ToSlash(filepath.Dir(rel))
		byDir[dir] = append(byDir[dir], rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, files := range byDir {
		sort.Strings(files)
	}
	return byDir, nil
}

// matchesAny reports whether rel matches any of patterns. When patterns
// is empty, it returns defaultForEmpty (true for includes — "no include
// list" means "everything is included"; false for excludes — "no
// exclude list" means "nothing is excluded").
func matchesAny(rel string, patterns []string, defaultForEmpty bool) bool {
	if len(patterns) == 0 {
		return defaultForEmpty
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
