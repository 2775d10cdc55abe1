package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"voltassist/internal/adapter/gemini"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestNewClient_MissingKey(t *testing.T) {
	_, err := gemini.NewClient(context.Background(), "")
	assert.ErrorContains(t, err, "gemini api key not configured")
}

func TestEmbedder_Embed(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, "gemini-embedding-001")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"embedding": map[string]interface{}{
					"values": []float32{0.1, 0.2, 0.3},
				},
			})
		})
		client, err := gemini.NewClient(ctx, "test-key", option.WithEndpoint(ts.URL))
		require.NoError(t, err)
		defer client.Close()

		emb := gemini.NewEmbedder(client, "")
		assert.Equal(t, gemini.DefaultEmbeddingModel, emb.Model())

		vec, err := emb.Embed(ctx, "how do I apply for a connection")
		require.NoError(t, err)
		if assert.Len(t, vec, 3) {
			assert.Equal(t, float32(0.1), vec[0])
		}
	})

	t.Run("Empty Embedding", func(t *testing.T) {
		ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"embedding":{"values":[]}}`))
		})
		client, err := gemini.NewClient(ctx, "test-key", option.WithEndpoint(ts.URL))
		require.NoError(t, err)
		defer client.Close()

		_, err = gemini.NewEmbedder(client, "").Embed(ctx, "hello")
		assert.ErrorIs(t, err, gemini.ErrEmptyEmbedding)
	})

	t.Run("Upstream Error", func(t *testing.T) {
		ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"bad input","status":"INVALID_ARGUMENT"}}`))
		})
		client, err := gemini.NewClient(ctx, "test-key", option.WithEndpoint(ts.URL))
		require.NoError(t, err)
		defer client.Close()

		_, err = gemini.NewEmbedder(client, "").Embed(ctx, "hello")
		assert.Error(t, err)
	})
}

func TestCompleter_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("Concatenates Text Parts", func(t *testing.T) {
		var body map[string]interface{}
		ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"))
			json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Please use "},{"text":"Form A."}],"role":"model"},"finishReason":"STOP"}]}`))
		})
		client, err := gemini.NewClient(ctx, "test-key", option.WithEndpoint(ts.URL))
		require.NoError(t, err)
		defer client.Close()

		out, err := gemini.NewCompleter(client, "").Complete(ctx, "prompt", 1000)
		require.NoError(t, err)
		assert.Equal(t, "Please use Form A.", out)

		cfg, ok := body["generationConfig"].(map[string]interface{})
		if assert.True(t, ok) {
			assert.EqualValues(t, 1000, cfg["maxOutputTokens"])
		}
	})

	t.Run("No Candidates", func(t *testing.T) {
		ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"candidates":[]}`))
		})
		client, err := gemini.NewClient(ctx, "test-key", option.WithEndpoint(ts.URL))
		require.NoError(t, err)
		defer client.Close()

		_, err = gemini.NewCompleter(client, "").Complete(ctx, "prompt", 0)
		assert.ErrorIs(t, err, gemini.ErrEmptyCompletion)
	})
}
