package consolidate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selin/memoria/pkg/embedding"
	"github.com/selin/memoria/pkg/knowledge"
	"github.com/selin/memoria/pkg/pipeline"
	"github.com/selin/memoria/pkg/store"
)

const testDimension = 32

type fakeExtractor struct {
	mu      sync.Mutex
	result  *knowledge.Extraction
	err     error
	calls   int
	release chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, transcript string, snapshot *knowledge.Base) (*knowledge.Extraction, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return knowledge.Empty(), nil
	}
	return f.result, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, previous, transcript string) (string, error) {
	return f.summary, f.err
}

func explicitFact(confidence float64) knowledge.Provenance {
	return knowledge.Provenance{SourceType: knowledge.SourceExplicit, Confidence: confidence, Evidence: "dijo"}
}

func newTestManager(t *testing.T, extractor knowledge.Extractor, summarizer knowledge.Summarizer, opts Options) (*Manager, *store.Store) {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	s, err := store.Open(store.Config{
		Path:      filepath.Join(t.TempDir(), "consolidate.db"),
		Dimension: testDimension,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p := pipeline.New(pipeline.Config{
		Store:    s,
		Provider: embedding.NewMock(testDimension),
		Logger:   logger,
	})

	m := New(Config{
		Store:      s,
		Pipeline:   p,
		Extractor:  extractor,
		Summarizer: summarizer,
		Options:    opts,
		Logger:     logger,
	})
	return m, s
}

func fillBuffer(t *testing.T, s *store.Store, chatID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendBufferMessage(context.Background(), chatID, "user", "hola, mi perro se llama Rocky"))
	}
}

func TestRecord_TriggersAtThreshold(t *testing.T) {
	ex := &fakeExtractor{}
	m, s := newTestManager(t, ex, nil, Options{MessageThreshold: 3})
	ctx := context.Background()

	res, err := m.Record(ctx, "chat1", "user", "hola")
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = m.Record(ctx, "chat1", "assistant", "hola!")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, ex.callCount())

	res, err = m.Record(ctx, "chat1", "user", "mi perro se llama Rocky")
	require.NoError(t, err)
	require.NotNil(t, res, "the threshold message must fire a consolidation")
	assert.Equal(t, 3, res.Messages)
	assert.NotEmpty(t, res.SessionID)

	count, err := s.BufferCount(ctx, "chat1")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "a completed run drains the buffer")
}

func TestRecord_IncrementalExtractionBelowThreshold(t *testing.T) {
	ex := &fakeExtractor{result: &knowledge.Extraction{
		Entities: []knowledge.Entity{
			{Name: "Rocky", Type: "pet", Provenance: explicitFact(0.9)},
		},
	}}
	m, s := newTestManager(t, ex, nil, Options{MessageThreshold: 10, IncrementalEvery: 2})
	ctx := context.Background()

	res, err := m.Record(ctx, "chat1", "user", "mi perro se llama Rocky")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, ex.callCount(), "no extraction on an off-cadence message")

	res, err = m.Record(ctx, "chat1", "assistant", "qué buen nombre!")
	require.NoError(t, err)
	assert.Nil(t, res, "an incremental pass is not a consolidation")
	assert.Equal(t, 1, ex.callCount(), "every second message triggers an extraction")

	// The pass merges into the snapshot but leaves the buffer intact.
	out, err := m.KnowledgeForPrompt(ctx, "chat1")
	require.NoError(t, err)
	assert.Contains(t, out, "Rocky")

	count, err := s.BufferCount(ctx, "chat1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, msg := range []string{"también tengo un gato", "se llama Michi"} {
		_, err = m.Record(ctx, "chat1", "user", msg)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, ex.callCount())
}

func TestConsolidate_MergesAndLogs(t *testing.T) {
	ex := &fakeExtractor{result: &knowledge.Extraction{
		Entities: []knowledge.Entity{
			{Name: "Rocky", Type: "pet", Provenance: explicitFact(0.95)},
		},
		Milestones: []knowledge.Milestone{
			{Title: "adoptó a Rocky", Date: "2024-05-01", Provenance: explicitFact(0.9)},
		},
	}}
	sum := &fakeSummarizer{summary: "Habló de su perro Rocky, un labrador adoptado en mayo."}
	m, s := newTestManager(t, ex, sum, Options{})
	ctx := context.Background()

	fillBuffer(t, s, "chat1", 5)
	res, err := m.Consolidate(ctx, "chat1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 5, res.Messages)
	assert.Equal(t, 1, res.FactsMerged)
	assert.Equal(t, 1, res.MilestonesAdded)
	assert.Equal(t, sum.summary, res.Summary)

	// Knowledge survived into the snapshot.
	out, err := m.KnowledgeForPrompt(ctx, "chat1")
	require.NoError(t, err)
	assert.Contains(t, out, "Rocky")

	// Milestone row recorded.
	milestones, err := s.Milestones(ctx, "chat1")
	require.NoError(t, err)
	require.Len(t, milestones, 1)
	assert.Equal(t, "adoptó a Rocky", milestones[0].Title)

	// Summary persisted as a searchable memory.
	stats, err := s.MemoryStats(ctx, "chat1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByType[store.TypeSummary])

	// Session log feeds the next summary as context.
	prev, err := s.LastSessionSummary(ctx, "chat1")
	require.NoError(t, err)
	assert.Equal(t, sum.summary, prev)
}

func TestConsolidate_InferredFactsNeverMerge(t *testing.T) {
	ex := &fakeExtractor{result: &knowledge.Extraction{
		Medical: []knowledge.Medical{
			{Condition: "embarazo", Provenance: knowledge.Provenance{
				SourceType: knowledge.SourceInferred, Confidence: 0.99, Evidence: "pista"}},
		},
	}}
	m, s := newTestManager(t, ex, nil, Options{})
	ctx := context.Background()

	fillBuffer(t, s, "chat1", 2)
	res, err := m.Consolidate(ctx, "chat1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.FactsMerged)

	out, err := m.KnowledgeForPrompt(ctx, "chat1")
	require.NoError(t, err)
	assert.NotContains(t, out, "embarazo")
}

func TestConsolidate_ExtractionFailureKeepsBuffer(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("model unavailable")}
	m, s := newTestManager(t, ex, nil, Options{})
	ctx := context.Background()

	fillBuffer(t, s, "chat1", 4)
	_, err := m.Consolidate(ctx, "chat1")
	require.Error(t, err)

	count, err := s.BufferCount(ctx, "chat1")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "a failed run must leave the buffer for retry")
}

func TestConsolidate_EmptyBufferIsNoOp(t *testing.T) {
	ex := &fakeExtractor{}
	m, _ := newTestManager(t, ex, nil, Options{})

	res, err := m.Consolidate(context.Background(), "chat1")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, ex.callCount())
}

func TestConsolidate_CorruptSnapshotDegrades(t *testing.T) {
	ex := &fakeExtractor{result: &knowledge.Extraction{
		Entities: []knowledge.Entity{{Name: "Rocky", Type: "pet", Provenance: explicitFact(0.9)}},
	}}
	m, s := newTestManager(t, ex, nil, Options{})
	ctx := context.Background()

	require.NoError(t, s.SaveKnowledgeSnapshot(ctx, "chat1", []byte("{not json")))
	fillBuffer(t, s, "chat1", 2)

	res, err := m.Consolidate(ctx, "chat1")
	require.NoError(t, err, "a corrupt snapshot must not block consolidation")
	require.NotNil(t, res)
	assert.Equal(t, 1, res.FactsMerged)
}

func TestTryExtract_SlotBusyDrops(t *testing.T) {
	ex := &fakeExtractor{release: make(chan struct{})}
	m, _ := newTestManager(t, ex, nil, Options{})
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		ran, err := m.TryExtract(ctx, "chat1", "transcript uno")
		assert.True(t, ran)
		assert.NoError(t, err)
		close(done)
	}()
	<-started
	require.Eventually(t, func() bool { return ex.callCount() == 1 }, time.Second, time.Millisecond)

	ran, err := m.TryExtract(ctx, "chat1", "transcript dos")
	require.NoError(t, err)
	assert.False(t, ran, "a busy slot drops the request instead of queueing")

	close(ex.release)
	<-done
	assert.Equal(t, 1, ex.callCount())
}

func TestSweep_ConsolidatesIdleOwnersOnly(t *testing.T) {
	ex := &fakeExtractor{}
	m, s := newTestManager(t, ex, nil, Options{InactivityThreshold: time.Nanosecond})
	ctx := context.Background()

	fillBuffer(t, s, "idle1", 2)
	fillBuffer(t, s, "idle2", 3)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, m.Sweep(ctx))

	for _, chatID := range []string{"idle1", "idle2"} {
		count, err := s.BufferCount(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, 0, count, "owner %s", chatID)
	}
	assert.Equal(t, 2, ex.callCount())
}

func TestSweep_SkipsActiveOwners(t *testing.T) {
	ex := &fakeExtractor{}
	m, s := newTestManager(t, ex, nil, Options{InactivityThreshold: time.Hour})
	ctx := context.Background()

	fillBuffer(t, s, "active", 2)
	require.NoError(t, m.Sweep(ctx))

	count, err := s.BufferCount(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, ex.callCount())
}

func TestSweep_CancelledContextStops(t *testing.T) {
	ex := &fakeExtractor{}
	m, s := newTestManager(t, ex, nil, Options{InactivityThreshold: time.Nanosecond})

	fillBuffer(t, s, "chat1", 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConsolidate_BackupWritten(t *testing.T) {
	backupDir := filepath.Join(t.TempDir(), "backups")
	ex := &fakeExtractor{result: &knowledge.Extraction{
		Entities: []knowledge.Entity{{Name: "Rocky", Type: "pet", Provenance: explicitFact(0.9)}},
	}}
	m, s := newTestManager(t, ex, nil, Options{BackupDir: backupDir})
	ctx := context.Background()

	fillBuffer(t, s, "chat1", 2)
	_, err := m.Consolidate(ctx, "chat1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(backupDir)
		return err == nil && len(entries) == 1
	}, time.Second, 5*time.Millisecond, "async backup must land")
}
