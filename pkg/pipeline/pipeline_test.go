package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selin/memoria/pkg/chunker"
	"github.com/selin/memoria/pkg/dedup"
	"github.com/selin/memoria/pkg/embedding"
	"github.com/selin/memoria/pkg/search"
	"github.com/selin/memoria/pkg/store"
)

const testDimension = 64

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	s, err := store.Open(store.Config{
		Path:      filepath.Join(t.TempDir(), "pipeline.db"),
		Dimension: testDimension,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	provider := embedding.NewMock(testDimension)
	hybrid := search.NewHybrid(s, provider, search.DefaultOptions(), logger)

	p := New(Config{
		Store:    s,
		Provider: provider,
		Hybrid:   hybrid,
		Chunking: chunker.Options{TargetTokens: 50, OverlapTokens: 10},
		Logger:   logger,
	})
	return p, s
}

func TestProcessText_EmptyInput(t *testing.T) {
	p, _ := newTestPipeline(t)

	for _, input := range []string{"", "   ", "\n\t\n"} {
		n, err := p.ProcessText(context.Background(), "chat1", input, store.TypeConversation, "", store.Metadata{})
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
}

func TestProcessText_Idempotent(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	text := "Le gusta el té verde por las mañanas. Trabaja como enfermera en Valencia."

	first, err := p.ProcessText(ctx, "chat1", text, store.TypeFact, "", store.Metadata{})
	require.NoError(t, err)
	assert.Greater(t, first, 0)

	second, err := p.ProcessText(ctx, "chat1", text, store.TypeFact, "", store.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 0, second, "re-ingesting identical text must be a no-op")
}

func TestProcessText_ChunkOrderAndMetadata(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("Una frase distinta numero con suficiente contenido para llenar el presupuesto. ")
	}

	n, err := p.ProcessText(ctx, "chat1", b.String(), store.TypeDocument, store.NamespaceGlobal,
		store.Metadata{Filename: "doc.md", Source: "upload"})
	require.NoError(t, err)
	assert.Greater(t, n, 1)

	mapped, physical, err := s.CountVectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, mapped, "every stored chunk carries exactly one vector")
	assert.Equal(t, n, physical)

	stats, err := s.MemoryStats(ctx, "chat1")
	require.NoError(t, err)
	assert.Equal(t, n, stats.ByType[store.TypeDocument])
}

type failingProvider struct {
	*embedding.Mock
}

func (f *failingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

func TestProcessText_EmbeddingFailureIsAllOrNothing(t *testing.T) {
	p, s := newTestPipeline(t)
	p.provider = &failingProvider{Mock: embedding.NewMock(testDimension)}
	ctx := context.Background()

	n, err := p.ProcessText(ctx, "chat1", "algo que recordar", store.TypeFact, "", store.Metadata{})
	require.Error(t, err)
	assert.Equal(t, 0, n)

	stats, err := s.MemoryStats(ctx, "chat1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total, "no partial rows may survive a failed batch")
}

// racingProvider ingests the same content directly into the store while
// the pipeline is blocked on the embedding call, landing in the window
// between the dedup check and the insert.
type racingProvider struct {
	*embedding.Mock
	t     *testing.T
	store *store.Store
	text  string
}

func (r *racingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := r.Mock.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	id, err := r.store.InsertMemory(ctx, store.Memory{
		ChatID:      "chat1",
		Namespace:   store.NamespaceUser,
		Content:     r.text,
		ContentHash: dedup.Hash(r.text),
		MemoryType:  store.TypeFact,
	})
	require.NoError(r.t, err)
	_, err = r.store.InsertVector(ctx, id, vectors[0])
	require.NoError(r.t, err)
	return vectors, nil
}

func TestProcessText_ConcurrentDuplicateIsNotAnError(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()
	text := "Su gato se llama Michi y duerme todo el día."

	p.provider = &racingProvider{Mock: embedding.NewMock(testDimension), t: t, store: s, text: text}

	n, err := p.ProcessText(ctx, "chat1", text, store.TypeFact, "", store.Metadata{})
	require.NoError(t, err, "losing the ingestion race must not surface as an error")
	assert.Equal(t, 0, n, "the chunk was already stored by the winner")

	mapped, physical, err := s.CountVectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mapped)
	assert.Equal(t, 1, physical)
}

func TestForgetByTopic(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.ProcessText(ctx, "chat1", "Su perro se llama Rocky y es un labrador.", store.TypeFact, "", store.Metadata{})
	require.NoError(t, err)
	_, err = p.ProcessText(ctx, "chat1", "Trabaja en un hospital de Valencia.", store.TypeFact, "", store.Metadata{})
	require.NoError(t, err)

	n, err := p.ForgetByTopic(ctx, "chat1", store.NamespaceUser, "perro Rocky labrador", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := s.MemoryStats(ctx, "chat1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)
}

func TestForgetByTopic_NoMatches(t *testing.T) {
	p, _ := newTestPipeline(t)

	n, err := p.ForgetByTopic(context.Background(), "chat1", store.NamespaceUser, "nada", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestEndToEnd_HybridRetrieval(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	facts := []string{
		"Python es un lenguaje de programación muy popular.",
		"SQLite es una base de datos embebida muy ligera.",
		"Madrid es la capital de España.",
		"El flamenco es un baile tradicional andaluz.",
		"La tortilla española lleva huevo y patata.",
	}
	for _, f := range facts {
		n, err := p.ProcessText(ctx, "U", f, store.TypeFact, "", store.Metadata{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	results, err := p.hybrid.Search(ctx, "U", store.NamespaceUser, "lenguaje popular", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, facts[0], results[0].Content, "the Python fact must rank first")

	results, err = p.hybrid.Search(ctx, "U", store.NamespaceUser, "SQLite", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	found := false
	for _, r := range results {
		if strings.Contains(r.Content, "SQLite") {
			found = true
		}
	}
	assert.True(t, found, "exact keyword must reach the SQLite fact")
}
