package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"grantrag/internal/ai"
	"grantrag/internal/docstore"
)

const (
	defaultTopK               = 5
	defaultEmbeddingBatchSize = 10
)

const systemPrompt = "You are a grant-writing assistant for nonprofit teams. " +
	"Answer the user's question using only the context below, which comes from the organisation's own grant documents. " +
	"Write in clear, persuasive grant language. If the context does not contain enough information, say so. Do not make up facts, figures or funders."

type Embedder interface {
	Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

type Options struct {
	AllowedExtensions  []string
	ChunkSize          int
	ChunkOverlap       int
	TopK               int
	MinScore           float32
	EmbeddingBatchSize int
	Embedding          ai.EmbeddingConfig
	Chat               ai.ChatConfig
}

// DefaultEngine keeps every embedding in memory and ranks by cosine similarity.
type DefaultEngine struct {
	embedder  Embedder
	completer Completer
	opts      Options
	logger    *zap.Logger
}

func NewDefaultEngine(embedder Embedder, completer Completer, opts Options, logger *zap.Logger) *DefaultEngine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = defaultChunkOverlap
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.EmbeddingBatchSize <= 0 {
		opts.EmbeddingBatchSize = defaultEmbeddingBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultEngine{embedder: embedder, completer: completer, opts: opts, logger: logger}
}

// BuildIndex reads every allowed document in storeDir, chunks it and embeds the chunks.
func (e *DefaultEngine) BuildIndex(ctx context.Context, storeDir string) (*Index, error) {
	store, err := docstore.New(storeDir, e.opts.AllowedExtensions)
	if err != nil {
		return nil, err
	}
	docs, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load documents failed: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	idx := &Index{Documents: len(docs)}
	for _, doc := range docs {
		for _, chunk := range chunkText(doc.Content, e.opts.ChunkSize, e.opts.ChunkOverlap) {
			idx.Docs = append(idx.Docs, chunk)
			idx.Sources = append(idx.Sources, doc.Name)
		}
	}
	if len(idx.Docs) == 0 {
		return nil, ErrEmptyIndex
	}

	// Embed in batches to stay under provider input limits.
	idx.Embeddings = make([][]float32, 0, len(idx.Docs))
	batchSize := e.opts.EmbeddingBatchSize
	for i := 0; i < len(idx.Docs); i += batchSize {
		end := i + batchSize
		if end > len(idx.Docs) {
			end = len(idx.Docs)
		}
		vecs, err := e.embedder.EmbedBatch(ctx, e.opts.Embedding, idx.Docs[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d failed: %w", i, end, err)
		}
		idx.Embeddings = append(idx.Embeddings, vecs...)
	}
	if len(idx.Embeddings) != len(idx.Docs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(idx.Embeddings), len(idx.Docs))
	}

	idx.BuiltAt = time.Now()
	e.logger.Info("rag index built",
		zap.Int("documents", idx.Documents),
		zap.Int("chunks", len(idx.Docs)),
	)
	return idx, nil
}

// Retrieve returns up to TopK chunks scoring at least MinScore, best first.
func (e *DefaultEngine) Retrieve(ctx context.Context, query string, idx *Index) ([]Chunk, error) {
	if idx.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	queryEmb, err := e.embedder.Embed(ctx, e.opts.Embedding, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	scored := make([]Chunk, 0, idx.Len())
	for i := range idx.Docs {
		score := cosineSimilarity(queryEmb, idx.Embeddings[i])
		if score < e.opts.MinScore {
			continue
		}
		scored = append(scored, Chunk{Text: idx.Docs[i], Source: idx.Sources[i], Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > e.opts.TopK {
		scored = scored[:e.opts.TopK]
	}
	return scored, nil
}

func (e *DefaultEngine) Generate(ctx context.Context, query string, chunks []Chunk) (string, error) {
	var contextBlock strings.Builder
	for _, c := range chunks {
		contextBlock.WriteString("\n---\n[")
		contextBlock.WriteString(c.Source)
		contextBlock.WriteString("]\n")
		contextBlock.WriteString(c.Text)
	}
	if len(chunks) > 0 {
		contextBlock.WriteString("\n---")
	}

	messages := []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Context:" + contextBlock.String() + "\n\nQuestion: " + query + "\n\nAnswer:"},
	}
	answer, err := e.completer.Complete(ctx, e.opts.Chat, messages)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("llm returned an empty answer")
	}
	return answer, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
