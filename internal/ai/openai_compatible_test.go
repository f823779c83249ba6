package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeProvider(t *testing.T, handler http.HandlerFunc) *OpenAICompatibleClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAICompatibleClient(ClientConfig{
		BaseURL:         server.URL + "/v1",
		APIKey:          "test-key",
		Timeout:         5 * time.Second,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	})
}

func TestComplete(t *testing.T) {
	client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string        `json:"model"`
			Messages []ChatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chat-model", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"chat-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Use the logic model."},"finish_reason":"stop"}]}`))
	})

	answer, err := client.Complete(context.Background(), ChatConfig{Model: "chat-model"}, []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "how do I frame outcomes?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Use the logic model.", answer)
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"emb","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}]}`))
	})

	vecs, err := client.EmbedBatch(context.Background(), EmbeddingConfig{Model: "emb"}, []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestEmbedBatch_RejectsBlankInput(t *testing.T) {
	client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider should not be called")
	})
	_, err := client.EmbedBatch(context.Background(), EmbeddingConfig{Model: "emb"}, []string{"ok", "  "})
	assert.Error(t, err)

	_, err = client.Embed(context.Background(), EmbeddingConfig{Model: "emb"}, " ")
	assert.Error(t, err)
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"emb","data":[{"object":"embedding","index":0,"embedding":[1]}]}`))
	})
	_, err := client.EmbedBatch(context.Background(), EmbeddingConfig{Model: "emb"}, []string{"a", "b"})
	assert.Error(t, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	client := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"down","type":"server_error"}}`))
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.Complete(ctx, ChatConfig{Model: "m"}, []ChatMessage{{Role: "user", Content: "hi"}})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrProviderUnavailable)
	}

	_, err := client.Complete(ctx, ChatConfig{Model: "m"}, []ChatMessage{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, "open", client.BreakerState())
}
