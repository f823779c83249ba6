package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const answerKeyPrefix = "grantrag:answer:"

type CachedAnswer struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

// AnswerCache stores generated answers per index generation, so a rebuilt
// index never serves answers computed from the old documents.
type AnswerCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redisv9.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &AnswerCache{client: client, ttl: ttl}
}

func (c *AnswerCache) Get(ctx context.Context, generation uint64, query string) (*CachedAnswer, bool, error) {
	raw, err := c.client.Get(ctx, answerKey(generation, query)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get answer failed: %w", err)
	}

	var answer CachedAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached answer failed: %w", err)
	}
	return &answer, true, nil
}

func (c *AnswerCache) Set(ctx context.Context, generation uint64, query string, answer CachedAnswer) error {
	payload, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer cache failed: %w", err)
	}
	if err := c.client.Set(ctx, answerKey(generation, query), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set answer failed: %w", err)
	}
	return nil
}

func (c *AnswerCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func answerKey(generation uint64, query string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return fmt.Sprintf("%s%d:%s", answerKeyPrefix, generation, hex.EncodeToString(sum[:]))
}
