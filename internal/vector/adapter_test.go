package vector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"voltassist/internal/vector"
)

// schemaServer fakes the Weaviate schema API and records every request
// other than the client's version check.
type schemaServer struct {
	mu       sync.Mutex
	requests []string
	classes  map[string]*models.Class
}

func newSchemaAdapter(t *testing.T, classes ...*models.Class) (*vector.SchemaAdapter, *schemaServer) {
	t.Helper()
	srv := &schemaServer{classes: map[string]*models.Class{}}
	for _, c := range classes {
		srv.classes[c.Class] = c
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.Write([]byte(`{"version": "1.25.0"}`))
			return
		}
		srv.mu.Lock()
		defer srv.mu.Unlock()
		srv.requests = append(srv.requests, r.Method+" "+r.URL.Path)

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
			var c models.Class
			require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
			srv.classes[c.Class] = &c
			json.NewEncoder(w).Encode(&c)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
		default:
			name := r.URL.Path[len("/v1/schema/"):]
			c, ok := srv.classes[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if r.Method == http.MethodDelete {
				delete(srv.classes, name)
				w.WriteHeader(http.StatusOK)
				return
			}
			json.NewEncoder(w).Encode(c)
		}
	}))
	t.Cleanup(ts.Close)

	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return vector.NewSchemaAdapter(client), srv
}

func (s *schemaServer) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func TestSchemaAdapter_ChunkClassRoundTrip(t *testing.T) {
	a, srv := newSchemaAdapter(t)
	ctx := context.Background()

	exists, err := a.ClassExists(ctx, "KnowledgeChunk")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, a.CreateClass(ctx, &models.Class{
		Class:       "KnowledgeChunk",
		Description: vector.ClassDescription("gemini-embedding-001", 311),
		Vectorizer:  "none",
		Properties:  vector.ChunkProperties(),
	}))
	stored := srv.classes["KnowledgeChunk"]
	require.NotNil(t, stored)
	assert.Equal(t, "none", stored.Vectorizer)
	assert.Len(t, stored.Properties, len(vector.ChunkProperties()))

	class, err := a.GetClass(ctx, "KnowledgeChunk")
	require.NoError(t, err)
	assert.Equal(t, "gemini-embedding-001", vector.ModelOf(class))
	n, ok := vector.EntriesOf(class)
	assert.True(t, ok)
	assert.Equal(t, 311, n)
}

func TestSchemaAdapter_AddProperty(t *testing.T) {
	a, srv := newSchemaAdapter(t, &models.Class{Class: "KnowledgeChunk"})

	err := a.AddProperty(context.Background(), "KnowledgeChunk", &models.Property{Name: "globalOrder", DataType: []string{"int"}})

	assert.NoError(t, err)
	assert.Equal(t, []string{"POST /v1/schema/KnowledgeChunk/properties"}, srv.calls())
}

func TestSchemaAdapter_DeleteClass(t *testing.T) {
	tests := []struct {
		name      string
		existing  []*models.Class
		wantCalls []string
	}{
		{
			name:      "Drops Existing Index",
			existing:  []*models.Class{{Class: "KnowledgeChunk", Description: vector.ClassDescription("m1", 2)}},
			wantCalls: []string{"GET /v1/schema/KnowledgeChunk", "DELETE /v1/schema/KnowledgeChunk"},
		},
		{
			name:      "Missing Class Is Left Alone",
			wantCalls: []string{"GET /v1/schema/KnowledgeChunk"},
		},
		{
			name:      "Other Classes Are Untouched",
			existing:  []*models.Class{{Class: "ArchiveChunk"}},
			wantCalls: []string{"GET /v1/schema/KnowledgeChunk"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, srv := newSchemaAdapter(t, tt.existing...)

			require.NoError(t, a.DeleteClass(context.Background(), "KnowledgeChunk"))

			assert.Equal(t, tt.wantCalls, srv.calls())
			_, stillThere := srv.classes["KnowledgeChunk"]
			assert.False(t, stillThere)
			for _, c := range tt.existing {
				if c.Class != "KnowledgeChunk" {
					assert.Contains(t, srv.classes, c.Class)
				}
			}
		})
	}
}
