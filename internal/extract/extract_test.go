package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForPath(t *testing.T) {
	ex, err := ForPath("notes/Guide.PDF")
	require.NoError(t, err)
	assert.IsType(t, PDF{}, ex)

	ex, err = ForPath("readme.md")
	require.NoError(t, err)
	assert.IsType(t, Text{}, ex)

	_, err = ForPath("slides.pptx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestTextExtract(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "a.txt")
	blank := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(full, []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(blank, []byte("  \n\t "), 0o644))

	text, err := Auto{}.Extract(context.Background(), full)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = Auto{}.Extract(context.Background(), blank)
	assert.ErrorIs(t, err, ErrExtractionEmpty)
}

func TestPDFExtractRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0o644))
	_, err := PDF{}.Extract(context.Background(), path)
	assert.Error(t, err)
}
