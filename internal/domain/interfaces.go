package domain

import "context"

// Document is a source file handed to ingestion after text extraction.
type Document struct {
	ID      string
	Path    string
	Name    string
	Content string
}

// Chunk is a bounded span of document text plus its embedding and provenance.
type Chunk struct {
	ID        int64
	Content   string
	Embedding []float32
	Metadata  map[string]any
}

// SearchResult represents a matching chunk with its cosine similarity.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Metadata keys written by ingestion.
const (
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
	MetaCreatedAt  = "created_at"
	MetaDocumentID = "document_id"
)

// Embedder converts free text into a fixed-dimension vector.
// Implementations must be deterministic for the lifetime of the process.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// ChunkStore persists chunks and supports similarity search.
type ChunkStore interface {
	Insert(ctx context.Context, content string, embedding []float32, metadata map[string]any) (int64, error)
	Count(ctx context.Context) (int, error)
	FetchAll(ctx context.Context) ([]Chunk, error)
	Search(ctx context.Context, query []float32, k int, threshold float64) ([]SearchResult, error)
	Clear(ctx context.Context) error
}

// Extractor supplies raw text for a document handle.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Message is a role-tagged entry of a chat completion prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tunes a single completion call.
type CompletionOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completer generates text from a sequence of messages.
type Completer interface {
	Name() string
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
