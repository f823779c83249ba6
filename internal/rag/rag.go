// Package rag holds the retrieval-augmented-generation pipeline: chunking the
// document store, embedding chunks into an in-memory index, retrieving the
// closest chunks for a question and asking the chat model for an answer.
package rag

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoDocuments = errors.New("no documents to index")
	ErrEmptyIndex  = errors.New("rag index is empty")
)

// Index is an immutable snapshot. Docs, Sources and Embeddings are parallel slices.
type Index struct {
	Docs       []string
	Sources    []string
	Embeddings [][]float32
	Documents  int
	Generation uint64
	BuiltAt    time.Time
}

func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.Docs)
}

type Chunk struct {
	Text   string
	Source string
	Score  float32
}

// Engine is what the HTTP layer needs from the pipeline.
type Engine interface {
	BuildIndex(ctx context.Context, storeDir string) (*Index, error)
	Retrieve(ctx context.Context, query string, idx *Index) ([]Chunk, error)
	Generate(ctx context.Context, query string, chunks []Chunk) (string, error)
}
