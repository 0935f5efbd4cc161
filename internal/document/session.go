// Package document is a directory-backed document store. A session reads
// from an unpacked source tree and collects rewritten files in memory until
// Build writes the whole tree to an output directory.
package document

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/MimeLyc/contextual-book-translator/pkg/file"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

// DocumentExts are the extensions treated as translatable markup.
var DocumentExts = []string{".xhtml", ".html", ".htm"}

type Session struct {
	root string

	mu      sync.RWMutex
	overlay map[string][]byte
}

// Open starts a session over the directory at path.
func Open(path string) (*Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open document %s: not a directory", path)
	}
	return &Session{root: abs, overlay: make(map[string][]byte)}, nil
}

func (s *Session) Root() string {
	return s.root
}

// List returns the relative paths of the session's markup documents,
// sorted.
func (s *Session) List() ([]string, error) {
	return file.ListByExt(s.root, DocumentExts...)
}

// ReadFile returns the content of rel, preferring a pending write.
func (s *Session) ReadFile(rel string) ([]byte, error) {
	path, err := file.SafeJoin(s.root, rel)
	if err != nil {
		return nil, err
	}
	key := normalize(rel)
	s.mu.RLock()
	data, ok := s.overlay[key]
	s.mu.RUnlock()
	if ok {
		return append([]byte(nil), data...), nil
	}
	return os.ReadFile(path)
}

// WriteFile stages data for rel. The source tree is never modified.
func (s *Session) WriteFile(rel string, data []byte) error {
	if _, err := file.SafeJoin(s.root, rel); err != nil {
		return err
	}
	s.mu.Lock()
	s.overlay[normalize(rel)] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

// Build writes the source tree with every staged file applied to output.
// output must not lie inside the session root.
func (s *Session) Build(output string) error {
	out, err := filepath.Abs(output)
	if err != nil {
		return err
	}
	if out == s.root || strings.HasPrefix(out, s.root+string(filepath.Separator)) {
		return fmt.Errorf("%w: output %s is inside the source tree", file.ErrUnsafePath, output)
	}

	sources, err := file.ListByExt(s.root)
	if err != nil {
		return fmt.Errorf("list source tree: %w", err)
	}

	s.mu.RLock()
	staged := make(map[string][]byte, len(s.overlay))
	for k, v := range s.overlay {
		staged[k] = v
	}
	s.mu.RUnlock()

	written := make(map[string]bool, len(sources))
	for _, rel := range sources {
		data, ok := staged[rel]
		if !ok {
			if data, err = os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil {
				return err
			}
		}
		if err := writeAtomic(out, rel, data); err != nil {
			return err
		}
		written[rel] = true
	}

	extra := make([]string, 0)
	for rel := range staged {
		if !written[rel] {
			extra = append(extra, rel)
		}
	}
	sort.Strings(extra)
	for _, rel := range extra {
		if err := writeAtomic(out, rel, staged[rel]); err != nil {
			return err
		}
	}
	log.Info("Built %d file(s) into %s (%d rewritten)", len(sources)+len(extra), output, len(staged))
	return nil
}

func writeAtomic(root, rel string, data []byte) error {
	path, err := file.SafeJoin(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fs.FileMode(0o644)); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func normalize(rel string) string {
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
}
