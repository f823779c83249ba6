package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"grantrag/internal/metrics"
	"grantrag/internal/rag"
)

const buildKey = "index"

// IndexStatus is a point-in-time view of the index for health and reindex responses.
type IndexStatus struct {
	Ready      bool      `json:"ready"`
	Stale      bool      `json:"stale"`
	Documents  int       `json:"documents"`
	Chunks     int       `json:"chunks"`
	Generation uint64    `json:"generation"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
}

// IndexManager owns the current index. It is built lazily, at most once at a
// time, and marked stale when the document store changes.
type IndexManager struct {
	engine   rag.Engine
	storeDir string
	metrics  *metrics.Recorder
	logger   *zap.Logger

	group singleflight.Group

	mu         sync.RWMutex
	current    *rag.Index
	stale      bool
	epoch      uint64
	generation uint64
}

func NewIndexManager(engine rag.Engine, storeDir string, recorder *metrics.Recorder, logger *zap.Logger) *IndexManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexManager{
		engine:   engine,
		storeDir: storeDir,
		metrics:  recorder,
		logger:   logger,
	}
}

// Ensure returns the current index, building it first when missing or stale.
// If a rebuild of a stale index fails the previous index keeps serving.
func (m *IndexManager) Ensure(ctx context.Context) (*rag.Index, error) {
	m.mu.RLock()
	idx, stale := m.current, m.stale
	m.mu.RUnlock()
	if idx != nil && !stale {
		return idx, nil
	}

	built, err := m.build(ctx)
	if err != nil {
		if idx != nil {
			m.logger.Warn("rag index rebuild failed, serving previous index",
				zap.Uint64("generation", idx.Generation),
				zap.Error(err),
			)
			return idx, nil
		}
		return nil, err
	}
	return built, nil
}

// Rebuild forces a fresh build and reports its failure.
func (m *IndexManager) Rebuild(ctx context.Context) (*rag.Index, error) {
	m.Invalidate()
	return m.build(ctx)
}

// Invalidate marks the index stale. The next Ensure rebuilds it.
func (m *IndexManager) Invalidate() {
	m.mu.Lock()
	m.epoch++
	m.stale = true
	m.mu.Unlock()
}

func (m *IndexManager) Status() IndexStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return IndexStatus{Stale: m.stale}
	}
	return IndexStatus{
		Ready:      true,
		Stale:      m.stale,
		Documents:  m.current.Documents,
		Chunks:     m.current.Len(),
		Generation: m.current.Generation,
		BuiltAt:    m.current.BuiltAt,
	}
}

// build joins or starts the shared build. The build itself runs detached from
// ctx so one caller going away does not fail the others.
func (m *IndexManager) build(ctx context.Context) (*rag.Index, error) {
	buildCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(buildKey, func() (interface{}, error) {
		return m.doBuild(buildCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rag.Index), nil
	}
}

func (m *IndexManager) doBuild(ctx context.Context) (*rag.Index, error) {
	m.mu.RLock()
	startEpoch := m.epoch
	m.mu.RUnlock()

	start := time.Now()
	idx, err := m.engine.BuildIndex(ctx, m.storeDir)
	if err == nil && idx.Len() == 0 {
		err = rag.ErrEmptyIndex
	}
	if err != nil {
		m.metrics.IndexBuild(metrics.ResultFailure, 0)
		m.logger.Error("rag index build failed", zap.String("dir", m.storeDir), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrIndexNotReady, err)
	}

	m.mu.Lock()
	m.generation++
	idx.Generation = m.generation
	m.current = idx
	// Uploads that landed while building keep the index stale.
	m.stale = m.epoch != startEpoch
	m.mu.Unlock()

	m.metrics.IndexBuild(metrics.ResultSuccess, idx.Len())
	m.logger.Info("rag index ready",
		zap.Uint64("generation", idx.Generation),
		zap.Int("documents", idx.Documents),
		zap.Int("chunks", idx.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return idx, nil
}
