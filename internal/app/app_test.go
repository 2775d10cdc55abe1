package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltassist/internal/config"
)

type memDocs struct {
	objects map[string]string
}

func (d *memDocs) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range d.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *memDocs) Fetch(ctx context.Context, key string) ([]byte, error) {
	v, ok := d.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return []byte(v), nil
}

func (d *memDocs) IssueDownloadLink(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://bucket.example/" + key, nil
}

type countingEmbedder struct {
	calls atomic.Int64
}

func (e *countingEmbedder) Model() string { return "test-embed" }

func (e *countingEmbedder) Embed(ctx context.Context, s string) ([]float32, error) {
	e.calls.Add(1)
	if strings.Contains(strings.ToLower(s), "meter") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

type fixedCompleter struct {
	mu      sync.Mutex
	prompts []string
}

func (c *fixedCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	return "Please fill in Form A.pdf at the counter.", nil
}

func testConfig(t *testing.T, cacheDir string) *config.Config {
	t.Helper()
	return &config.Config{
		DocPrefix:             "Documents/",
		FormPrefix:            "Forms/",
		FormLinkTTL:           3600,
		IndexBackend:          config.IndexBackendFile,
		IndexCachePath:        cacheDir,
		IndexRebuildOnCorrupt: true,
		ChunkSize:             200,
		ChunkOverlap:          20,
		EmbedConcurrency:      2,
		RetrievalTopK:         4,
		TurnTimeoutSeconds:    5,
		UtilityName:           "SESB",
		GreetingMessage:       "Hi there",
		QueryLogPath:          filepath.Join(t.TempDir(), "query.log"),
		CORSOrigin:            "*",
	}
}

func testDocs() *memDocs {
	return &memDocs{objects: map[string]string{
		"Documents/connections.txt": "A new electricity connection needs Form A and a deposit.",
		"Documents/meters.md":       "Meter readings are taken monthly.",
		"Documents/logo.png":        "binary",
		"Forms/Form A.pdf":          "%PDF",
		"Forms/readme.txt":          "not a form",
	}}
}

func newTestApp(t *testing.T, cacheDir string, e *countingEmbedder) (*App, *fixedCompleter) {
	t.Helper()
	c := &fixedCompleter{}
	a, err := New(context.Background(), testConfig(t, cacheDir), &Dependencies{}, &Options{
		Embedder:  e,
		Completer: c,
		Docs:      testDocs(),
	})
	require.NoError(t, err)
	return a, c
}

func serve(a *App, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)
	return w
}

func TestNew(t *testing.T) {
	a, _ := newTestApp(t, t.TempDir(), &countingEmbedder{})
	assert.NotNil(t, a.Handler)
	assert.Equal(t, 2, a.Index.Current().Len())

	w := serve(a, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestNew_Conversation(t *testing.T) {
	a, c := newTestApp(t, t.TempDir(), &countingEmbedder{})

	w := serve(a, "POST", "/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data struct {
			ID       string `json:"id"`
			Greeting string `json:"greeting"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Hi there", created.Data.Greeting)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	w = serve(a, "POST", "/sessions/"+created.Data.ID+"/messages", `{"question":"How do I get a new connection?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var reply struct {
		Data struct {
			Answer  string   `json:"answer"`
			Sources []struct {
				Text     string `json:"text"`
				SourceID string `json:"source_id"`
			} `json:"sources"`
			Links   []struct {
				Form string `json:"form"`
				URL  string `json:"url"`
			} `json:"links"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	require.Len(t, reply.Data.Links, 1)
	assert.Equal(t, "https://bucket.example/Forms/Form A.pdf", reply.Data.Links[0].URL)
	require.NotEmpty(t, reply.Data.Sources)
	assert.Equal(t, "Documents/connections.txt", reply.Data.Sources[0].SourceID)
	assert.Equal(t, "A new electricity connection needs Form A and a deposit.", reply.Data.Sources[0].Text)

	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], "[Form A.pdf]")
	assert.Contains(t, c.prompts[0], "You are a professional customer service agent for SESB.")

	w = serve(a, "GET", "/forms", "")
	assert.JSONEq(t, `{"data":{"forms":["Form A.pdf"]}}`, w.Body.String())

	w = serve(a, "GET", "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":1`)
	assert.Contains(t, w.Body.String(), `"chunks":2`)

	w = serve(a, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `voltassist_turns_total{outcome="answered"} 1`)
	assert.Contains(t, w.Body.String(), `voltassist_form_links_total{outcome="issued"} 1`)
	assert.Contains(t, w.Body.String(), `voltassist_sessions_active 1`)

	w = serve(a, "GET", "/sessions/"+created.Data.ID+"/transcript", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no database, no transcripts")
}

func TestNew_ReusesPersistedIndex(t *testing.T) {
	dir := t.TempDir()
	first := &countingEmbedder{}
	newTestApp(t, dir, first)
	assert.Equal(t, int64(2), first.calls.Load())

	second := &countingEmbedder{}
	a, _ := newTestApp(t, dir, second)
	assert.Zero(t, second.calls.Load(), "cached index must not be re-embedded")
	assert.Equal(t, 2, a.Index.Current().Len())

	w := serve(a, "GET", "/metrics", "")
	assert.Contains(t, w.Body.String(), `voltassist_index_builds_total{result="loaded"} 1`)
}

func TestNew_InlineRebuild(t *testing.T) {
	e := &countingEmbedder{}
	a, _ := newTestApp(t, t.TempDir(), e)
	before := a.Index.Current()

	w := serve(a, "POST", "/index/rebuild", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"rebuilt"`)
	assert.Equal(t, int64(4), e.calls.Load())
	assert.NotSame(t, before, a.Index.Current())
}

func TestNew_CORSPreflight(t *testing.T) {
	a, _ := newTestApp(t, t.TempDir(), &countingEmbedder{})

	w := serve(a, "OPTIONS", "/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 0, a.Sessions.Count())
}

func TestNew_Misconfigured(t *testing.T) {
	t.Run("No Document Store", func(t *testing.T) {
		_, err := New(context.Background(), testConfig(t, t.TempDir()), &Dependencies{}, &Options{Embedder: &countingEmbedder{}})
		assert.ErrorContains(t, err, "no document store")
	})

	t.Run("Weaviate Backend Without Client", func(t *testing.T) {
		cfg := testConfig(t, t.TempDir())
		cfg.IndexBackend = config.IndexBackendWeaviate
		cfg.WeaviateClass = "KnowledgeChunk"
		_, err := New(context.Background(), cfg, &Dependencies{}, &Options{
			Embedder:  &countingEmbedder{},
			Completer: &fixedCompleter{},
			Docs:      testDocs(),
		})
		assert.ErrorContains(t, err, "weaviate")
	})
}
