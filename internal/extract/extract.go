// Package extract supplies raw document text to ingestion.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"pdfrag/internal/domain"
)

var (
	// ErrExtractionEmpty means the document produced no text.
	ErrExtractionEmpty = errors.New("document yielded no text")
	// ErrUnsupportedFormat is returned for files that are neither PDF nor plain text.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// PDF extracts the plain text of every page.
type PDF struct{}

func (PDF) Extract(ctx context.Context, path string) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf %s: %v", path, r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf %s: %w", path, err)
	}
	return checkEmpty(buf.String())
}

// Text reads .txt and .md files verbatim.
type Text struct{}

func (Text) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return checkEmpty(string(data))
}

func checkEmpty(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrExtractionEmpty
	}
	return s, nil
}

// ForPath picks an extractor by file extension.
func ForPath(path string) (domain.Extractor, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return PDF{}, nil
	case ".txt", ".md":
		return Text{}, nil
	default:
		return nil, fmt.Errorf("%w: %s (only PDF and text files are accepted)", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Auto dispatches on extension for each call.
type Auto struct{}

func (Auto) Extract(ctx context.Context, path string) (string, error) {
	ex, err := ForPath(path)
	if err != nil {
		return "", err
	}
	return ex.Extract(ctx, path)
}
