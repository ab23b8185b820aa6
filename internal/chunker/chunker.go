// Package chunker splits extracted document text into fixed word-count chunks.
//
// Chunk boundaries ignore sentence and table structure: a chunk may end in the
// middle of a sentence or a table row. The trade is deliberate, boundaries are
// cheap to compute and identical for identical input.
package chunker

import (
	"strings"

	"pdfrag/internal/domain"
)

// DefaultChunkSize is the number of words per chunk when none is configured.
const DefaultChunkSize = 500

// Split groups the whitespace-delimited words of text into chunks of exactly
// chunkSize words; the last chunk may be shorter. Whitespace-only input yields
// no chunks.
func Split(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}
	out := make([]string, 0, (len(words)+chunkSize-1)/chunkSize)
	for i := 0; i < len(words); i += chunkSize {
		end := i + chunkSize
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

// WordChunker implements domain.Chunker on top of Split.
type WordChunker struct {
	chunkSize int
}

// NewWordChunker creates a chunker emitting chunkSize words per chunk.
func NewWordChunker(chunkSize int) *WordChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &WordChunker{chunkSize: chunkSize}
}

// Chunk splits the document content and tags every chunk with its source and ordinal.
func (c *WordChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	parts := Split(document.Content, c.chunkSize)
	chunks := make([]domain.Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, domain.Chunk{
			Content: p,
			Metadata: map[string]any{
				domain.MetaSource:     document.Name,
				domain.MetaChunkIndex: i,
				domain.MetaDocumentID: document.ID,
			},
		})
	}
	return chunks, nil
}
