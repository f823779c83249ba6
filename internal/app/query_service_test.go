package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantrag/internal/cache"
	"grantrag/internal/rag"
)

func newQueryService(engine *fakeEngine, answerCache AnswerCache) (*QueryService, *IndexManager) {
	index := NewIndexManager(engine, "unused", nil, nil)
	return NewQueryService(engine, index, answerCache, 3, 1000, nil, nil), index
}

func TestQueryService_Validate(t *testing.T) {
	svc, _ := newQueryService(&fakeEngine{}, nil)

	tests := []struct {
		name    string
		payload interface{}
		target  error
		message string
	}{
		{"missing key", map[string]interface{}{}, ErrQueryMissing, "No query provided"},
		{"null", map[string]interface{}{"query": nil}, ErrQueryMissing, "No query provided"},
		{"not an object", []interface{}{"query"}, ErrQueryMissing, "No query provided"},
		{"number", map[string]interface{}{"query": 42.0}, ErrQueryNotString, "Query must be a string"},
		{"list", map[string]interface{}{"query": []interface{}{"a"}}, ErrQueryNotString, "Query must be a string"},
		{"empty", map[string]interface{}{"query": ""}, ErrQueryEmpty, "Query cannot be empty"},
		{"whitespace", map[string]interface{}{"query": " \t\n "}, ErrQueryEmpty, "Query cannot be empty"},
		{"too short", map[string]interface{}{"query": "ab"}, ErrQueryTooShort, "Query must be at least 3 characters long"},
		{"too short after trim", map[string]interface{}{"query": "  ab  "}, ErrQueryTooShort, "Query must be at least 3 characters long"},
		{"too long", map[string]interface{}{"query": strings.Repeat("a", 1001)}, ErrQueryTooLong, "Query cannot exceed 1000 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.payload)
			requireMessage(t, err, tt.target, tt.message)
		})
	}
}

func TestQueryService_ValidateBounds(t *testing.T) {
	svc, _ := newQueryService(&fakeEngine{}, nil)

	q, err := svc.Validate(map[string]interface{}{"query": "  abc "})
	require.NoError(t, err)
	assert.Equal(t, "abc", q)

	_, err = svc.Validate(map[string]interface{}{"query": strings.Repeat("a", 1000)})
	assert.NoError(t, err)

	// Bounds count runes, not bytes.
	_, err = svc.Validate(map[string]interface{}{"query": strings.Repeat("é", 1000)})
	assert.NoError(t, err)
}

func TestQueryService_Answer(t *testing.T) {
	engine := &fakeEngine{
		chunks: []rag.Chunk{
			{Text: "a", Source: "budget.txt", Score: 0.9},
			{Text: "b", Source: "mission.md", Score: 0.8},
			{Text: "c", Source: "budget.txt", Score: 0.7},
		},
		answer: "Ask for two staff positions.",
	}
	svc, _ := newQueryService(engine, nil)

	answer, err := svc.Answer(context.Background(), "What should the budget cover?")
	require.NoError(t, err)
	assert.Equal(t, "Ask for two staff positions.", answer.Response)
	assert.Equal(t, []string{"budget.txt", "mission.md"}, answer.Sources)
}

func TestQueryService_AnswerErrors(t *testing.T) {
	t.Run("index not ready", func(t *testing.T) {
		svc, _ := newQueryService(&fakeEngine{buildErr: errors.New("no docs")}, nil)
		_, err := svc.Answer(context.Background(), "query")
		assert.ErrorIs(t, err, ErrIndexNotReady)
	})

	t.Run("no relevant chunks", func(t *testing.T) {
		svc, _ := newQueryService(&fakeEngine{}, nil)
		_, err := svc.Answer(context.Background(), "query")
		assert.ErrorIs(t, err, ErrNoRelevantChunks)
	})

	t.Run("retrieve failure", func(t *testing.T) {
		svc, _ := newQueryService(&fakeEngine{retrieveErr: errors.New("embed failed")}, nil)
		_, err := svc.Answer(context.Background(), "query")
		assert.ErrorIs(t, err, ErrQueryFailed)
	})

	t.Run("generate failure", func(t *testing.T) {
		engine := &fakeEngine{
			chunks:      []rag.Chunk{{Text: "a", Source: "a.txt"}},
			generateErr: errors.New("llm timeout"),
		}
		svc, _ := newQueryService(engine, nil)
		_, err := svc.Answer(context.Background(), "query")
		assert.ErrorIs(t, err, ErrQueryFailed)
	})
}

func TestQueryService_AnswerCacheByGeneration(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engine := &fakeEngine{
		chunks: []rag.Chunk{{Text: "a", Source: "a.txt"}},
		answer: "first",
	}
	svc, index := newQueryService(engine, cache.NewAnswerCache(client, time.Minute))
	ctx := context.Background()

	got, err := svc.Answer(ctx, "what is the mission?")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Response)

	engine.mu.Lock()
	engine.answer = "second"
	engine.mu.Unlock()

	got, err = svc.Answer(ctx, "what is the mission?")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Response)
	assert.Equal(t, int32(1), engine.retrieves)

	index.Invalidate()
	got, err = svc.Answer(ctx, "what is the mission?")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Response)
}

func TestQueryService_CacheFailureFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	engine := &fakeEngine{chunks: []rag.Chunk{{Text: "a", Source: "a.txt"}}, answer: "ok"}
	svc, _ := newQueryService(engine, cache.NewAnswerCache(client, time.Minute))

	got, err := svc.Answer(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Response)
}

func TestQueryService_Parse(t *testing.T) {
	svc, _ := newQueryService(&fakeEngine{}, nil)

	tests := []struct {
		name        string
		contentType string
		body        string
		target      error
		message     string
	}{
		{"form body", "application/x-www-form-urlencoded", "query=hello", ErrNotJSON, "Request must be JSON"},
		{"no content type", "", `{"query":"hello"}`, ErrNotJSON, "Request must be JSON"},
		{"malformed", "application/json", `{"query":`, ErrInvalidJSON, "Invalid JSON payload"},
		{"empty body", "application/json", "", ErrInvalidJSON, "Invalid JSON payload"},
		{"missing query", "application/json", `{"question":"hello"}`, ErrQueryMissing, "No query provided"},
		{"numeric query", "application/json; charset=utf-8", `{"query":123}`, ErrQueryNotString, "Query must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Parse(tt.contentType, []byte(tt.body))
			requireMessage(t, err, tt.target, tt.message)
		})
	}

	q, err := svc.Parse("application/vnd.api+json", []byte(`{"query":"  logic model  "}`))
	require.NoError(t, err)
	assert.Equal(t, "logic model", q)
}

func TestQueryService_Oversized(t *testing.T) {
	svc, _ := newQueryService(&fakeEngine{}, nil)

	requireMessage(t, svc.Oversized("application/json"), ErrQueryTooLong, "Query cannot exceed 1000 characters")
	requireMessage(t, svc.Oversized("text/plain"), ErrNotJSON, "Request must be JSON")
}
