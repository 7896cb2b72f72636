package objective

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"vrptune/internal/config"
)

// TestCase is one solver input file of the corpus.
type TestCase struct {
	ID   string
	Path string
}

// LoadCorpus lists the regular files of dir whose base name matches pattern.
// The order is sorted by name so every genome and seed is evaluated on the
// same sequence.
func LoadCorpus(dir, pattern string) ([]TestCase, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, config.Errorf("corpus.pattern", "invalid glob %q: %v", pattern, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, config.Errorf("corpus.dir", "directory %s does not exist", dir)
		}
		return nil, fmt.Errorf("reading corpus %s: %w", dir, err)
	}

	cases := make([]TestCase, 0, len(entries))
	for _, entry := range entries {
		ok, _ := filepath.Match(pattern, entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		// Stat follows symlinks; dangling links and directories are skipped.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		cases = append(cases, TestCase{ID: entry.Name(), Path: path})
	}
	if len(cases) == 0 {
		return nil, config.Errorf("corpus.dir", "no test cases matching %q in %s", pattern, dir)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].ID < cases[j].ID })
	return cases, nil
}
