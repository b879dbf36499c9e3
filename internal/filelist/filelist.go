// Package filelist collects the entries of an installation root and
// estimates their installed size.
package filelist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Entry is one file system object below the installation root.
type Entry struct {
	// Path is the location on disk.
	Path string
	// Name is the slash-separated path relative to the root; empty for the
	// root itself.
	Name string
}

// List is a sorted, duplicate-free sequence of entries, root first.
type List []Entry

// Collect walks root and returns its entries. Directories are descended into,
// symlinked directories are recorded but not followed. Regular files sitting
// directly in root are build metadata and are left out.
func Collect(root string) (List, error) {
	root = filepath.Clean(root)

	top, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	seen := map[string]bool{"": true}
	list := List{{Path: root}}

	add := func(path string) error {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if seen[name] {
			return nil
		}
		seen[name] = true
		list = append(list, Entry{Path: path, Name: name})
		return nil
	}

	for _, de := range top {
		path := filepath.Join(root, de.Name())

		// os.Stat follows links, so a link to a regular file is skipped too
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			logrus.Debugf("Ignoring top-level file %s", de.Name())
			continue
		}

		if de.Type()&os.ModeSymlink != 0 || !de.IsDir() {
			if err := add(path); err != nil {
				return nil, err
			}
			continue
		}

		// filepath.Walk uses Lstat and never descends into symlinks
		err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			return add(p)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}

	list.Sort()
	return list, nil
}

// Sort orders the list by path components, so that a directory always sorts
// before everything inside it ("a/b" < "a-c").
func (l List) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		return compareNames(l[i].Name, l[j].Name) < 0
	})
}

func compareNames(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	pa := strings.Split(a, "/")
	pb := strings.Split(b, "/")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if c := strings.Compare(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	return len(pa) - len(pb)
}
