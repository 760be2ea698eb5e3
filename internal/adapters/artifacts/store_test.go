package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/core/ports"
)

func TestPathLayout(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	path := s.Path(ports.KindReport, ports.FormatPDF, "abc123")
	assert.Equal(t, filepath.Join(root, "report", "pdf", "abc123.pdf"), path)

	// New pre-creates every kind/format directory.
	info, err := os.Stat(filepath.Join(root, "st", "txt"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func writeBytes(content string) func(string) error {
	return func(path string) error {
		return os.WriteFile(path, []byte(content), 0o644)
	}
}

func TestAcquire(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	hash1, changed, err := s.Acquire(ports.KindReport, ports.FormatTxt, "abc", writeBytes("hello"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, hash1, 64)

	got, err := os.ReadFile(s.Path(ports.KindReport, ports.FormatTxt, "abc"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	// Re-producing identical content is a no-op.
	hash2, changed, err := s.Acquire(ports.KindReport, ports.FormatTxt, "abc", writeBytes("hello"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, hash1, hash2)

	// Different content replaces the file.
	hash3, changed, err := s.Acquire(ports.KindReport, ports.FormatTxt, "abc", writeBytes("updated"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, hash1, hash3)

	got, err = os.ReadFile(s.Path(ports.KindReport, ports.FormatTxt, "abc"))
	require.NoError(t, err)
	assert.Equal(t, "updated", string(got))
}

func TestAcquireProduceFailure(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	// Seed a good file first.
	_, _, err = s.Acquire(ports.KindReport, ports.FormatTxt, "abc", writeBytes("hello"))
	require.NoError(t, err)

	boom := errors.New("download failed")
	_, _, err = s.Acquire(ports.KindReport, ports.FormatTxt, "abc", func(path string) error {
		_ = os.WriteFile(path, []byte("partial"), 0o644)
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The prior file survives and no temp file is left behind.
	got, err := os.ReadFile(s.Path(ports.KindReport, ports.FormatTxt, "abc"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "report", "txt"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}
