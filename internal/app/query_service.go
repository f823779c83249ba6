package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"grantrag/internal/cache"
	"grantrag/internal/metrics"
	"grantrag/internal/rag"
)

// AnswerCache stores answers per index generation.
type AnswerCache interface {
	Get(ctx context.Context, generation uint64, query string) (*cache.CachedAnswer, bool, error)
	Set(ctx context.Context, generation uint64, query string, answer cache.CachedAnswer) error
}

type Answer struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

type QueryService struct {
	engine    rag.Engine
	index     *IndexManager
	cache     AnswerCache
	minLength int
	maxLength int
	metrics   *metrics.Recorder
	logger    *zap.Logger
}

func NewQueryService(
	engine rag.Engine,
	index *IndexManager,
	answerCache AnswerCache,
	minLength, maxLength int,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		engine:    engine,
		index:     index,
		cache:     answerCache,
		minLength: minLength,
		maxLength: maxLength,
		metrics:   recorder,
		logger:    logger,
	}
}

// Parse checks the content type, decodes body and validates the query in it.
func (s *QueryService) Parse(contentType string, body []byte) (string, error) {
	if !isJSONContentType(contentType) {
		s.metrics.Query(metrics.ResultInvalid, -1)
		return "", invalid(ErrNotJSON, "Request must be JSON")
	}
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		s.metrics.Query(metrics.ResultInvalid, -1)
		return "", invalid(ErrInvalidJSON, "Invalid JSON payload")
	}
	return s.Validate(payload)
}

// Oversized is the client error for a body cut off by the transport limit.
// Such a body can only carry a query longer than the maximum.
func (s *QueryService) Oversized(contentType string) error {
	s.metrics.Query(metrics.ResultInvalid, -1)
	if !isJSONContentType(contentType) {
		return invalid(ErrNotJSON, "Request must be JSON")
	}
	return invalid(ErrQueryTooLong, "Query cannot exceed %d characters", s.maxLength)
}

// Validate extracts the query from a decoded JSON body and applies the length
// bounds to its trimmed form. payload is whatever the body decoded to.
func (s *QueryService) Validate(payload interface{}) (string, error) {
	query, err := s.validate(payload)
	if err != nil {
		s.metrics.Query(metrics.ResultInvalid, -1)
	}
	return query, err
}

func (s *QueryService) validate(payload interface{}) (string, error) {
	body, _ := payload.(map[string]interface{})
	raw, ok := body["query"]
	if !ok || raw == nil {
		return "", invalid(ErrQueryMissing, "No query provided")
	}
	query, ok := raw.(string)
	if !ok {
		return "", invalid(ErrQueryNotString, "Query must be a string")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", invalid(ErrQueryEmpty, "Query cannot be empty")
	}
	n := utf8.RuneCountInString(query)
	if n < s.minLength {
		return "", invalid(ErrQueryTooShort, "Query must be at least %d characters long", s.minLength)
	}
	if n > s.maxLength {
		return "", invalid(ErrQueryTooLong, "Query cannot exceed %d characters", s.maxLength)
	}
	return query, nil
}

// Answer runs ensure index, retrieve and generate for an already validated query.
func (s *QueryService) Answer(ctx context.Context, query string) (*Answer, error) {
	start := time.Now()
	answer, result, err := s.answer(ctx, query)
	s.metrics.Query(result, time.Since(start).Seconds())
	return answer, err
}

func (s *QueryService) answer(ctx context.Context, query string) (*Answer, string, error) {
	idx, err := s.index.Ensure(ctx)
	if err != nil {
		if errors.Is(err, ErrIndexNotReady) {
			return nil, metrics.ResultNotReady, err
		}
		return nil, metrics.ResultError, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	if cached := s.lookup(ctx, idx.Generation, query); cached != nil {
		return cached, metrics.ResultCacheHit, nil
	}

	chunks, err := s.engine.Retrieve(ctx, query, idx)
	if err != nil {
		s.logger.Error("retrieve failed", zap.Error(err))
		return nil, metrics.ResultError, fmt.Errorf("%w: retrieve: %v", ErrQueryFailed, err)
	}
	if len(chunks) == 0 {
		return nil, metrics.ResultNotFound, ErrNoRelevantChunks
	}

	response, err := s.engine.Generate(ctx, query, chunks)
	if err != nil {
		s.logger.Error("generate failed", zap.Error(err))
		return nil, metrics.ResultError, fmt.Errorf("%w: generate: %v", ErrQueryFailed, err)
	}

	answer := &Answer{Response: response, Sources: uniqueSources(chunks)}
	s.store(ctx, idx.Generation, query, answer)
	return answer, metrics.ResultOK, nil
}

func (s *QueryService) lookup(ctx context.Context, generation uint64, query string) *Answer {
	if s.cache == nil {
		return nil
	}
	cached, ok, err := s.cache.Get(ctx, generation, query)
	if err != nil {
		s.logger.Warn("answer cache get failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return &Answer{Response: cached.Response, Sources: cached.Sources}
}

func (s *QueryService) store(ctx context.Context, generation uint64, query string, answer *Answer) {
	if s.cache == nil {
		return
	}
	err := s.cache.Set(ctx, generation, query, cache.CachedAnswer{Response: answer.Response, Sources: answer.Sources})
	if err != nil {
		s.logger.Warn("answer cache set failed", zap.Error(err))
	}
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" ||
		(strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json"))
}

// uniqueSources keeps the first occurrence of each source, in rank order.
func uniqueSources(chunks []rag.Chunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	sources := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		sources = append(sources, c.Source)
	}
	return sources
}
