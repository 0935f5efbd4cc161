package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MimeLyc/contextual-book-translator/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestOpen_RequiresDirectory(t *testing.T) {
	root := writeTree(t, map[string]string{"a.xhtml": "<p/>"})

	_, err := Open(filepath.Join(root, "a.xhtml"))
	assert.Error(t, err)
	_, err = Open(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestList_OnlyMarkupSorted(t *testing.T) {
	root := writeTree(t, map[string]string{
		"text/ch2.xhtml": "b",
		"text/ch1.xhtml": "a",
		"style.css":      "c",
		"index.HTML":     "d",
	})
	s, err := Open(root)
	require.NoError(t, err)

	got, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"index.HTML", "text/ch1.xhtml", "text/ch2.xhtml"}, got)
}

func TestReadWrite_OverlayDoesNotTouchSource(t *testing.T) {
	root := writeTree(t, map[string]string{"text/ch1.xhtml": "original"})
	s, err := Open(root)
	require.NoError(t, err)

	require.NoError(t, s.WriteFile("text/ch1.xhtml", []byte("translated")))

	got, err := s.ReadFile("text/./ch1.xhtml")
	require.NoError(t, err)
	assert.Equal(t, "translated", string(got))

	onDisk, err := os.ReadFile(filepath.Join(root, "text", "ch1.xhtml"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(onDisk))
}

func TestPathSafety(t *testing.T) {
	s, err := Open(writeTree(t, map[string]string{"a.xhtml": "x"}))
	require.NoError(t, err)

	_, err = s.ReadFile("../outside.xhtml")
	assert.ErrorIs(t, err, file.ErrUnsafePath)
	assert.ErrorIs(t, s.WriteFile("/etc/passwd", []byte("x")), file.ErrUnsafePath)
	assert.ErrorIs(t, s.WriteFile("a/../../b", []byte("x")), file.ErrUnsafePath)
}

func TestBuild_CopiesTreeWithStagedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"text/ch1.xhtml": "one",
		"text/ch2.xhtml": "two",
		"style.css":      "css",
	})
	s, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, s.WriteFile("text/ch2.xhtml", []byte("zwei")))
	require.NoError(t, s.WriteFile("text/notes.xhtml", []byte("new")))

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, s.Build(out))

	for rel, want := range map[string]string{
		"text/ch1.xhtml":   "one",
		"text/ch2.xhtml":   "zwei",
		"text/notes.xhtml": "new",
		"style.css":        "css",
	} {
		got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
		assert.Equal(t, want, string(got), rel)
	}
	_, err = os.Stat(filepath.Join(out, "text", "ch2.xhtml.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuild_RejectsOutputInsideSource(t *testing.T) {
	root := writeTree(t, map[string]string{"a.xhtml": "x"})
	s, err := Open(root)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Build(filepath.Join(root, "out")), file.ErrUnsafePath)
	assert.ErrorIs(t, s.Build(root), file.ErrUnsafePath)
}
