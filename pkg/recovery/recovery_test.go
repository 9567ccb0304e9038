package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selin/memoria/pkg/dedup"
	"github.com/selin/memoria/pkg/embedding"
	"github.com/selin/memoria/pkg/knowledge"
	"github.com/selin/memoria/pkg/store"
)

const testDimension = 16

type fakeDocSearch struct {
	docs []string
	err  error
}

func (f *fakeDocSearch) SearchDocs(ctx context.Context, query string, limit int) ([]string, error) {
	return f.docs, f.err
}

type fakeExtractor struct {
	result *knowledge.Extraction
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, transcript string, snapshot *knowledge.Base) (*knowledge.Extraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return knowledge.Empty(), nil
	}
	return f.result, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	s, err := store.Open(store.Config{
		Path:      filepath.Join(t.TempDir(), "recovery.db"),
		Dimension: testDimension,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func trustedExtraction() *knowledge.Extraction {
	return &knowledge.Extraction{
		Entities: []knowledge.Entity{{
			Name: "Rocky", Type: "pet",
			Provenance: knowledge.Provenance{
				SourceType: knowledge.SourceExplicit, Confidence: 0.9, Evidence: "nota archivada"},
		}},
	}
}

func TestIsColdStart(t *testing.T) {
	s := newTestStore(t)
	r := New(s, &fakeDocSearch{}, &fakeExtractor{}, Options{}, zerolog.Nop())
	ctx := context.Background()

	cold, err := r.IsColdStart(ctx, "chat1")
	require.NoError(t, err)
	assert.True(t, cold)

	// A snapshot alone is enough to rule out a cold start.
	require.NoError(t, s.SaveKnowledgeSnapshot(ctx, "chat1", []byte("{}")))
	cold, err = r.IsColdStart(ctx, "chat1")
	require.NoError(t, err)
	assert.False(t, cold)

	// Active memories rule it out for another owner.
	id, err := s.InsertMemory(ctx, store.Memory{
		ChatID: "chat2", Content: "hola", ContentHash: dedup.Hash("hola"), MemoryType: store.TypeFact,
	})
	require.NoError(t, err)
	vec, err := embedding.NewMock(testDimension).EmbedQuery(ctx, "hola")
	require.NoError(t, err)
	_, err = s.InsertVector(ctx, id, vec)
	require.NoError(t, err)

	cold, err = r.IsColdStart(ctx, "chat2")
	require.NoError(t, err)
	assert.False(t, cold)
}

func TestRecover_PersistsTrustedFacts(t *testing.T) {
	s := newTestStore(t)
	docs := &fakeDocSearch{docs: []string{"El perro de Carmen se llama Rocky."}}
	r := New(s, docs, &fakeExtractor{result: trustedExtraction()}, Options{}, zerolog.Nop())
	ctx := context.Background()

	base := r.Recover(ctx, "chat1")
	require.NotNil(t, base)
	require.Len(t, base.Entities, 1)

	data, err := s.KnowledgeSnapshot(ctx, "chat1")
	require.NoError(t, err)
	require.NotNil(t, data)

	var saved knowledge.Base
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "Rocky", saved.Entities[0].Name)
}

func TestRecover_NilOnAnyFailure(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		docs      DocSearch
		extractor knowledge.Extractor
	}{
		{"search fails", &fakeDocSearch{err: errors.New("unreachable")}, &fakeExtractor{result: trustedExtraction()}},
		{"no documents", &fakeDocSearch{}, &fakeExtractor{result: trustedExtraction()}},
		{"extraction fails", &fakeDocSearch{docs: []string{"nota"}}, &fakeExtractor{err: errors.New("model down")}},
		{"nothing trusted", &fakeDocSearch{docs: []string{"nota"}}, &fakeExtractor{result: &knowledge.Extraction{
			Entities: []knowledge.Entity{{Name: "Max", Type: "pet", Provenance: knowledge.Provenance{
				SourceType: knowledge.SourceInferred, Confidence: 0.99, Evidence: "pista"}}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			r := New(s, tt.docs, tt.extractor, Options{}, zerolog.Nop())

			assert.Nil(t, r.Recover(ctx, "chat1"))

			data, err := s.KnowledgeSnapshot(ctx, "chat1")
			require.NoError(t, err)
			assert.Nil(t, data, "a failed recovery must leave no snapshot behind")
		})
	}
}

func TestHTTPDocSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "chat1", req.URL.Query().Get("q"))
		assert.Equal(t, "5", req.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"content": "nota uno"},
				{"content": ""},
				{"content": "nota dos"},
			},
		})
	}))
	defer srv.Close()

	client := NewHTTPDocSearch(srv.URL, 0)
	docs, err := client.SearchDocs(context.Background(), "chat1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"nota uno", "nota dos"}, docs, "empty contents are dropped")
}

func TestHTTPDocSearch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPDocSearch(srv.URL, 0)
	_, err := client.SearchDocs(context.Background(), "chat1", 5)
	require.Error(t, err)
}
