package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/search"
)

func orthogonalEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: map[string][]float32{
			"AAAA": {1, 0, 0},
			"BBBB": {0, 1, 0},
			"CCCC": {0, 0, 1},
		},
		fallback: []float32{1, 1, 1},
	}
}

func newTestRAG(store *memStore, embedder *fakeEmbedder, opts RAGOptions) *RAGService {
	sources, fragments := store.stores()
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 4
	}
	if opts.EmbeddingDimension == 0 {
		opts.EmbeddingDimension = 3
	}
	if opts.IngestConcurrency == 0 {
		opts.IngestConcurrency = 2
	}
	return NewRAGService(sources, fragments, embedder, nil, nil, nil, opts, nil)
}

func TestIngestThenQueryReturnsExactMatch(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc := newTestRAG(store, orthogonalEmbedder(), RAGOptions{})
	path := writeDoc(t, "doc.txt", "AAAABBBBCCCC")

	res, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Skipped)

	bbbb, ok := store.fragmentBySnippet("BBBB")
	require.True(t, ok)
	assert.Equal(t, 1, bbbb.Ordinal)

	results, err := svc.Query(ctx, "BBBB", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, bbbb.ID, results[0].FragmentID)
	assert.Equal(t, "BBBB", results[0].Snippet)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestQueryRejectsInvalidInputBeforeAnyCall(t *testing.T) {
	store := &memStore{}
	embedder := orthogonalEmbedder()
	svc := newTestRAG(store, embedder, RAGOptions{})

	for _, tc := range []struct {
		text  string
		count int
	}{
		{"", 5},
		{"   ", 5},
		{"hello", 0},
		{"hello", -2},
	} {
		_, err := svc.Query(context.Background(), tc.text, tc.count)
		assert.ErrorIs(t, err, ErrInvalidInput, "text=%q count=%d", tc.text, tc.count)
	}
	assert.Zero(t, embedder.calls.Load())
	assert.Zero(t, store.calls.Load())
}

func TestUploadMissingFileCreatesNothing(t *testing.T) {
	store := &memStore{}
	embedder := orthogonalEmbedder()
	svc := newTestRAG(store, embedder, RAGOptions{})

	result := svc.Upload(context.Background(), "nonexistent/path")
	assert.Equal(t, StatusError, result.Status)
	assert.NotEmpty(t, result.Message)
	assert.Nil(t, result.Ingest)
	assert.Empty(t, store.sources)
	assert.Zero(t, embedder.calls.Load())
}

func TestUploadSuccess(t *testing.T) {
	svc := newTestRAG(&memStore{}, orthogonalEmbedder(), RAGOptions{})
	path := writeDoc(t, "doc.md", "AAAABBBB")

	result := svc.Upload(context.Background(), path)
	assert.Equal(t, StatusSuccess, result.Status)
	require.NotNil(t, result.Ingest)
	assert.Equal(t, 2, result.Ingest.Created)
}

func TestUploadEmptyDocumentIsRejected(t *testing.T) {
	store := &memStore{}
	svc := newTestRAG(store, orthogonalEmbedder(), RAGOptions{})
	path := writeDoc(t, "empty.txt", "  \n\t ")

	_, err := svc.Ingest(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnreadableDocument)
	assert.Empty(t, store.sources)
}

func TestIngestTwiceKeepsFragmentCount(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	embedder := orthogonalEmbedder()
	svc := newTestRAG(store, embedder, RAGOptions{})
	path := writeDoc(t, "doc.txt", "AAAABBBBCCCC")

	first, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	callsAfterFirst := embedder.calls.Load()

	second, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first.SourceID, second.SourceID)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, callsAfterFirst, embedder.calls.Load(), "stored chunks are not re-embedded")
	assert.Len(t, store.fragments, 3)
	assert.Len(t, store.sources, 1)
}

func TestIngestCanonicalizesKey(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	locker := &fakeLocker{}
	sources, fragments := store.stores()
	svc := NewRAGService(sources, fragments, orthogonalEmbedder(), locker, nil, nil,
		RAGOptions{ChunkSize: 4, IngestConcurrency: 1, EmbeddingDimension: 3}, nil)
	path := writeDoc(t, "doc.txt", "AAAA")
	messy := filepath.Join(filepath.Dir(path), ".", "..", filepath.Base(filepath.Dir(path)), "doc.txt")

	a, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	b, err := svc.Ingest(ctx, messy)
	require.NoError(t, err)

	assert.Equal(t, a.SourceID, b.SourceID)
	assert.Equal(t, path, a.Key)
	assert.Equal(t, []string{path, path}, locker.keys)
}

func TestIngestDropsRepeatedChunks(t *testing.T) {
	store := &memStore{}
	embedder := orthogonalEmbedder()
	svc := newTestRAG(store, embedder, RAGOptions{})
	path := writeDoc(t, "doc.txt", "AAAABBBBAAAACCCCBBBB")

	res, err := svc.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, int32(3), embedder.calls.Load())

	// ordinals are document positions, not positions among unique chunks
	for snippet, want := range map[string]int{"AAAA": 0, "BBBB": 1, "CCCC": 3} {
		f, ok := store.fragmentBySnippet(snippet)
		require.True(t, ok, snippet)
		assert.Equal(t, want, f.Ordinal, snippet)
	}
}

func TestIngestBoundsConcurrency(t *testing.T) {
	store := &memStore{}
	embedder := &fakeEmbedder{fallback: []float32{1, 0, 0}, delay: 5 * time.Millisecond}
	svc := newTestRAG(store, embedder, RAGOptions{ChunkSize: 1, IngestConcurrency: 3})
	path := writeDoc(t, "doc.txt", "abcdefghijklmnopqrst")

	res, err := svc.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Created)
	assert.LessOrEqual(t, embedder.peak.Load(), int32(3))
	assert.Greater(t, embedder.peak.Load(), int32(1))
}

func TestIngestCancellationKeepsPersistedFragments(t *testing.T) {
	store := &memStore{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	embedder := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	embedder.onCall = func(n int32) {
		if n == 2 {
			cancel()
		}
	}
	svc := newTestRAG(store, embedder, RAGOptions{ChunkSize: 1, IngestConcurrency: 1})
	path := writeDoc(t, "doc.txt", "abcdef")

	res, err := svc.Ingest(ctx, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Created)
	assert.Len(t, store.fragments, 2)

	embedder.onCall = nil
	resumed, err := svc.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 4, resumed.Created)
	assert.Equal(t, 2, resumed.Skipped)
	assert.Len(t, store.fragments, 6)

	result := svc.Upload(ctx, path)
	assert.Equal(t, StatusError, result.Status)
}

func TestIngestProviderFailure(t *testing.T) {
	store := &memStore{}
	embedder := &fakeEmbedder{err: errProviderDown}
	svc := newTestRAG(store, embedder, RAGOptions{})
	path := writeDoc(t, "doc.txt", "AAAABBBB")

	_, err := svc.Ingest(context.Background(), path)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Empty(t, store.fragments)

	result := svc.Upload(context.Background(), path)
	assert.Equal(t, StatusError, result.Status)
	assert.NotContains(t, result.Message, "503")
}

func TestIngestDimensionMismatch(t *testing.T) {
	store := &memStore{}
	embedder := &fakeEmbedder{fallback: []float32{1, 0}}
	svc := newTestRAG(store, embedder, RAGOptions{EmbeddingDimension: 3})
	path := writeDoc(t, "doc.txt", "AAAA")

	_, err := svc.Ingest(context.Background(), path)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Empty(t, store.fragments)

	_, err = svc.Query(context.Background(), "AAAA", 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQueryPersistenceFailure(t *testing.T) {
	store := &memStore{fail: errors.New("connection refused")}
	svc := newTestRAG(store, orthogonalEmbedder(), RAGOptions{})

	_, err := svc.Query(context.Background(), "AAAA", 3)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestQueryUsesThresholdAndCache(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	embedder := orthogonalEmbedder()
	cache := &fakeCache{}
	min := 0.5
	sources, fragments := store.stores()
	svc := NewRAGService(sources, fragments, embedder, nil, cache, nil,
		RAGOptions{ChunkSize: 4, IngestConcurrency: 2, EmbeddingDimension: 3, MinScore: &min}, nil)
	_, err := svc.Ingest(ctx, writeDoc(t, "doc.txt", "AAAABBBBCCCC"))
	require.NoError(t, err)
	before := embedder.calls.Load()

	results, err := svc.Query(ctx, "AAAA", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "AAAA", results[0].Snippet)

	_, err = svc.Query(ctx, "AAAA", 3)
	require.NoError(t, err)
	assert.Equal(t, before+1, embedder.calls.Load())
	assert.Equal(t, 1, cache.hits)

	all, err := svc.Search(ctx, "AAAA", search.Options{TopK: 3})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetFragmentSource(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc := newTestRAG(store, orthogonalEmbedder(), RAGOptions{})
	path := writeDoc(t, "doc.txt", "AAAABBBB")
	_, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	frag, ok := store.fragmentBySnippet("BBBB")
	require.True(t, ok)

	key, err := svc.GetFragmentSource(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, path, key)

	_, err = svc.GetFragmentSource(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetFragmentSource(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListAndDeleteSources(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc := newTestRAG(store, orthogonalEmbedder(), RAGOptions{})
	res, err := svc.Ingest(ctx, writeDoc(t, "a.txt", "AAAABBBB"))
	require.NoError(t, err)

	list, err := svc.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].FragmentCount)

	require.NoError(t, svc.DeleteSource(ctx, res.SourceID))
	assert.Empty(t, store.fragments)
	assert.ErrorIs(t, svc.DeleteSource(ctx, res.SourceID), ErrNotFound)
	assert.ErrorIs(t, svc.DeleteSource(ctx, 0), ErrInvalidInput)
}

func TestEnqueueUpload(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	sources, fragments := store.stores()

	disabled := newTestRAG(store, orthogonalEmbedder(), RAGOptions{})
	_, err := disabled.EnqueueUpload(ctx, "a.pdf")
	assert.ErrorIs(t, err, ErrQueueDisabled)

	pub := &fakePublisher{}
	svc := NewRAGService(sources, fragments, orthogonalEmbedder(), nil, nil, pub,
		RAGOptions{ChunkSize: 4, IngestConcurrency: 1, EmbeddingDimension: 3}, nil)

	_, err = svc.EnqueueUpload(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	jobID, err := svc.EnqueueUpload(ctx, "docs/a.pdf")
	require.NoError(t, err)
	_, err = uuid.Parse(jobID)
	require.NoError(t, err)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, jobID, pub.jobs[0].ID)
	assert.True(t, filepath.IsAbs(pub.jobs[0].DocumentKey))
	assert.True(t, strings.HasSuffix(pub.jobs[0].DocumentKey, filepath.Join("docs", "a.pdf")))

	pub.err = fmt.Errorf("broker down")
	_, err = svc.EnqueueUpload(ctx, "docs/b.pdf")
	assert.Error(t, err)
	assert.Empty(t, store.sources)
}
