package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantrag/internal/rag"
)

func TestIndexManager_EnsureBuildsOnce(t *testing.T) {
	engine := &fakeEngine{}
	m := NewIndexManager(engine, "unused", nil, nil)

	first, err := m.Ensure(context.Background())
	require.NoError(t, err)
	second, err := m.Ensure(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, engine.buildCount())
	assert.Equal(t, uint64(1), first.Generation)
}

func TestIndexManager_ConcurrentEnsureSharesBuild(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	m := NewIndexManager(engine, "unused", nil, nil)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*rag.Index, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := m.Ensure(context.Background())
			assert.NoError(t, err)
			results[i] = idx
		}(i)
	}

	require.Eventually(t, func() bool { return engine.buildCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(engine.gate)
	wg.Wait()

	assert.Equal(t, 1, engine.buildCount())
	for _, idx := range results {
		assert.Same(t, results[0], idx)
	}
}

func TestIndexManager_InvalidateTriggersRebuild(t *testing.T) {
	engine := &fakeEngine{}
	m := NewIndexManager(engine, "unused", nil, nil)

	_, err := m.Ensure(context.Background())
	require.NoError(t, err)

	m.Invalidate()
	assert.True(t, m.Status().Stale)

	idx, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, engine.buildCount())
	assert.Equal(t, uint64(2), idx.Generation)
	assert.False(t, m.Status().Stale)
}

func TestIndexManager_BuildFailure(t *testing.T) {
	engine := &fakeEngine{buildErr: errors.New("provider down")}
	m := NewIndexManager(engine, "unused", nil, nil)

	_, err := m.Ensure(context.Background())
	assert.ErrorIs(t, err, ErrIndexNotReady)
	assert.False(t, m.Status().Ready)
}

func TestIndexManager_EmptyIndexIsNotReady(t *testing.T) {
	m := NewIndexManager(&fakeEngine{emptyIdx: true}, "unused", nil, nil)
	_, err := m.Ensure(context.Background())
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestIndexManager_FailedRebuildServesPrevious(t *testing.T) {
	engine := &fakeEngine{}
	m := NewIndexManager(engine, "unused", nil, nil)

	prev, err := m.Ensure(context.Background())
	require.NoError(t, err)

	engine.setBuildErr(errors.New("provider down"))
	m.Invalidate()

	idx, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Same(t, prev, idx)
	assert.True(t, m.Status().Stale)

	_, err = m.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestIndexManager_InvalidateDuringBuildKeepsStale(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	m := NewIndexManager(engine, "unused", nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Ensure(context.Background())
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return engine.buildCount() == 1 }, time.Second, 5*time.Millisecond)
	m.Invalidate()
	close(engine.gate)
	<-done

	status := m.Status()
	assert.True(t, status.Ready)
	assert.True(t, status.Stale)
}

func TestIndexManager_CallerCancelDoesNotAbortBuild(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	m := NewIndexManager(engine, "unused", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Ensure(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return engine.buildCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(engine.gate)
	require.Eventually(t, func() bool { return m.Status().Ready }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, engine.buildCount())
}
