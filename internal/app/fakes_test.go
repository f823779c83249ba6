package app

import (
	"context"
	"sync"
	"sync/atomic"

	"grantrag/internal/model"
	"grantrag/internal/rag"
)

type fakeEngine struct {
	builds    int32
	gate      chan struct{}
	buildErr  error
	emptyIdx  bool
	retrieves int32

	mu          sync.Mutex
	chunks      []rag.Chunk
	retrieveErr error
	answer      string
	generateErr error
}

func (f *fakeEngine) BuildIndex(ctx context.Context, _ string) (*rag.Index, error) {
	atomic.AddInt32(&f.builds, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	if f.emptyIdx {
		return &rag.Index{}, nil
	}
	return &rag.Index{
		Docs:       []string{"Our mission is literacy."},
		Sources:    []string{"mission.md"},
		Embeddings: [][]float32{{1}},
		Documents:  1,
	}, nil
}

func (f *fakeEngine) Retrieve(_ context.Context, _ string, _ *rag.Index) ([]rag.Chunk, error) {
	atomic.AddInt32(&f.retrieves, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks, f.retrieveErr
}

func (f *fakeEngine) Generate(_ context.Context, _ string, _ []rag.Chunk) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answer, f.generateErr
}

func (f *fakeEngine) setBuildErr(err error) {
	f.mu.Lock()
	f.buildErr = err
	f.mu.Unlock()
}

func (f *fakeEngine) buildCount() int {
	return int(atomic.LoadInt32(&f.builds))
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []model.DocumentEvent
	err    error
}

func (f *fakeRecorder) Record(_ context.Context, event model.DocumentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

type fakeCatalog struct {
	rows []model.Document
	err  error
}

func (f *fakeCatalog) List() ([]model.Document, error) {
	return f.rows, f.err
}
