package file

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ListByExt walks root and returns slash-separated paths relative to root for
// regular files whose extension matches one of exts (case-insensitive). The
// result is sorted so callers get a stable document order.
func ListByExt(root string, exts ...string) ([]string, error) {
	want := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		want[ext] = struct{}{}
	}

	var ret []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(want) > 0 {
			if _, ok := want[strings.ToLower(filepath.Ext(path))]; !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ret = append(ret, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ret)
	return ret, nil
}
