package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/chunker"
	"gopherai-rag/internal/pkg/textextract"
	"gopherai-rag/internal/search"
)

type SourceStore interface {
	GetOrCreate(ctx context.Context, key string) (*model.Source, error)
	FindByKey(ctx context.Context, key string) (*model.Source, error)
	GetByID(ctx context.Context, id uint) (*model.Source, error)
	List(ctx context.Context) ([]model.SourceSummary, error)
	Delete(ctx context.Context, id uint) (bool, error)
}

type FragmentStore interface {
	Exists(ctx context.Context, sourceID uint, snippet string) (bool, error)
	Upsert(ctx context.Context, fragment *model.Fragment) (bool, error)
	GetByID(ctx context.Context, id uint) (*model.Fragment, error)
	ListAll(ctx context.Context) ([]model.Fragment, error)
	CountBySource(ctx context.Context, sourceID uint) (int64, error)
}

// SourceLocker serializes ingestion of one source key.
type SourceLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type QueryEmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool, error)
	Set(ctx context.Context, text string, vec []float32) error
}

type IngestPublisher interface {
	Publish(ctx context.Context, job model.IngestJob) error
}

type RAGOptions struct {
	ChunkSize          int
	IngestConcurrency  int
	EmbeddingDimension int
	MinScore           *float64
}

type RAGService struct {
	sources   SourceStore
	fragments FragmentStore
	embedder  ai.Embedder
	locker    SourceLocker
	cache     QueryEmbeddingCache
	publisher IngestPublisher
	opts      RAGOptions
	logger    *zap.Logger
}

// NewRAGService wires the ingestion and retrieval paths. locker, cache and
// publisher are optional.
func NewRAGService(
	sources SourceStore,
	fragments FragmentStore,
	embedder ai.Embedder,
	locker SourceLocker,
	cache QueryEmbeddingCache,
	publisher IngestPublisher,
	opts RAGOptions,
	logger *zap.Logger,
) *RAGService {
	if opts.IngestConcurrency <= 0 {
		opts.IngestConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGService{
		sources:   sources,
		fragments: fragments,
		embedder:  embedder,
		locker:    locker,
		cache:     cache,
		publisher: publisher,
		opts:      opts,
		logger:    logger.Named("rag"),
	}
}

type IngestResult struct {
	SourceID uint   `json:"source_id"`
	Key      string `json:"key"`
	Chunks   int    `json:"chunks"`
	Created  int    `json:"created"`
	Skipped  int    `json:"skipped"`
}

// Ingest extracts, chunks, embeds and stores the document at key. Chunks
// already stored for the source are skipped without an embedding call, so
// re-running an interrupted ingestion only fills the gaps.
func (s *RAGService) Ingest(ctx context.Context, key string) (*IngestResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: document key is empty", ErrInvalidInput)
	}
	canonical, err := canonicalKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	log := s.logger.With(zap.String("op", "ingest"), zap.String("key", canonical))

	text, err := textextract.Extract(canonical)
	if err != nil {
		log.Warn("extract document failed", zap.Error(err))
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		log.Warn("document has no extractable text")
		return nil, fmt.Errorf("%w: no extractable text", ErrUnreadableDocument)
	}
	chunks := uniqueChunks(text, s.opts.ChunkSize)

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, canonical)
		if err != nil {
			log.Warn("acquire source lock failed", zap.Error(err))
			return nil, fmt.Errorf("lock source: %w", err)
		}
		defer unlock()
	}

	source, err := s.sources.GetOrCreate(ctx, canonical)
	if err != nil {
		log.Error("get or create source failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	var created, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.IngestConcurrency)
	for _, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stored, err := s.ingestChunk(gctx, source.ID, chunk.ordinal, chunk.text)
			if err != nil {
				return err
			}
			if stored {
				created.Add(1)
			} else {
				skipped.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	result := &IngestResult{
		SourceID: source.ID,
		Key:      canonical,
		Chunks:   len(chunks),
		Created:  int(created.Load()),
		Skipped:  int(skipped.Load()),
	}
	if err != nil {
		log.Error("ingest stopped",
			zap.Uint("source_id", source.ID),
			zap.Int("created", result.Created),
			zap.Int("skipped", result.Skipped),
			zap.Int("chunks", result.Chunks),
			zap.Error(err),
		)
		return result, err
	}

	log.Info("ingest finished",
		zap.Uint("source_id", source.ID),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// ingestChunk reports whether a new fragment row was written.
func (s *RAGService) ingestChunk(ctx context.Context, sourceID uint, ordinal int, snippet string) (bool, error) {
	exists, err := s.fragments.Exists(ctx, sourceID, snippet)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if exists {
		return false, nil
	}

	vec, err := s.embedder.Embed(ctx, snippet)
	if err != nil {
		return false, fmt.Errorf("embed chunk %d: %w", ordinal, err)
	}
	if err := s.checkDimension(vec); err != nil {
		return false, fmt.Errorf("embed chunk %d: %w", ordinal, err)
	}

	stored, err := s.fragments.Upsert(ctx, &model.Fragment{
		SourceID:  sourceID,
		Ordinal:   ordinal,
		Snippet:   snippet,
		Embedding: vec,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return stored, nil
}

type OperationStatus string

const (
	StatusSuccess OperationStatus = "success"
	StatusError   OperationStatus = "error"
)

// OperationResult is the caller-facing outcome of an upload. Message never
// carries internal error detail.
type OperationResult struct {
	Status  OperationStatus `json:"status"`
	Message string          `json:"message"`
	Ingest  *IngestResult   `json:"ingest,omitempty"`
}

func (s *RAGService) Upload(ctx context.Context, key string) OperationResult {
	result, err := s.Ingest(ctx, key)
	if err != nil {
		return OperationResult{Status: StatusError, Message: uploadFailureMessage(err)}
	}
	return OperationResult{
		Status:  StatusSuccess,
		Message: "File uploaded, vectorized, and persisted to database successfully.",
		Ingest:  result,
	}
}

func uploadFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnreadableDocument):
		return "The file path is invalid or the file could not be read."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Upload was interrupted before completion; uploading again resumes where it stopped."
	case errors.Is(err, ErrProviderUnavailable):
		return "The embedding service is unavailable, please try again later."
	case errors.Is(err, ErrDimensionMismatch):
		return "The embedding service returned vectors of an unexpected size."
	case errors.Is(err, ErrPersistence):
		return "Storage is unavailable, please try again later."
	default:
		return "Error uploading file."
	}
}

// EnqueueUpload schedules an ingestion on the broker and returns the job id.
func (s *RAGService) EnqueueUpload(ctx context.Context, key string) (string, error) {
	if s.publisher == nil {
		return "", ErrQueueDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: document key is empty", ErrInvalidInput)
	}
	canonical, err := canonicalKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	job := model.IngestJob{
		ID:          uuid.NewString(),
		DocumentKey: canonical,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		s.logger.Error("enqueue ingest failed", zap.String("key", canonical), zap.Error(err))
		return "", err
	}
	s.logger.Info("ingest enqueued", zap.String("key", canonical), zap.String("job_id", job.ID))
	return job.ID, nil
}

// Query returns the count fragments most similar to text, using the
// configured score threshold.
func (s *RAGService) Query(ctx context.Context, text string, count int) ([]search.Result, error) {
	return s.Search(ctx, text, search.Options{TopK: count, MinScore: s.opts.MinScore})
}

func (s *RAGService) Search(ctx context.Context, text string, opts search.Options) ([]search.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidInput)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: count must be greater than zero", ErrInvalidInput)
	}

	vec, err := s.embedQuery(ctx, text)
	if err != nil {
		s.logger.Warn("embed query failed", zap.String("op", "query"), zap.Error(err))
		return nil, err
	}

	fragments, err := s.fragments.ListAll(ctx)
	if err != nil {
		s.logger.Error("load fragments failed", zap.String("op", "query"), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	results, err := search.Rank(vec, fragments, opts)
	if err != nil {
		s.logger.Error("rank fragments failed", zap.String("op", "query"), zap.Error(err))
		return nil, err
	}
	return results, nil
}

func (s *RAGService) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		vec, ok, err := s.cache.Get(ctx, text)
		if err != nil {
			s.logger.Warn("query embedding cache read failed", zap.Error(err))
		}
		if ok && s.checkDimension(vec) == nil {
			return vec, nil
		}
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := s.checkDimension(vec); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, text, vec); err != nil {
			s.logger.Warn("query embedding cache write failed", zap.Error(err))
		}
	}
	return vec, nil
}

func (s *RAGService) checkDimension(vec []float32) error {
	if s.opts.EmbeddingDimension > 0 && len(vec) != s.opts.EmbeddingDimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.opts.EmbeddingDimension)
	}
	return nil
}

// GetFragmentSource returns the key of the source a fragment belongs to.
func (s *RAGService) GetFragmentSource(ctx context.Context, fragmentID uint) (string, error) {
	if fragmentID == 0 {
		return "", fmt.Errorf("%w: fragment id must be positive", ErrInvalidInput)
	}
	fragment, err := s.fragments.GetByID(ctx, fragmentID)
	if err != nil {
		s.logger.Error("load fragment failed", zap.Uint("fragment_id", fragmentID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if fragment == nil {
		return "", fmt.Errorf("%w: fragment %d", ErrNotFound, fragmentID)
	}

	source, err := s.sources.GetByID(ctx, fragment.SourceID)
	if err != nil {
		s.logger.Error("load source failed", zap.Uint("source_id", fragment.SourceID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if source == nil {
		return "", fmt.Errorf("%w: source of fragment %d", ErrNotFound, fragmentID)
	}
	return source.Key, nil
}

func (s *RAGService) ListSources(ctx context.Context) ([]model.SourceSummary, error) {
	list, err := s.sources.List(ctx)
	if err != nil {
		s.logger.Error("list sources failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return list, nil
}

// DeleteSource removes a source together with all of its fragments.
func (s *RAGService) DeleteSource(ctx context.Context, id uint) error {
	if id == 0 {
		return fmt.Errorf("%w: source id must be positive", ErrInvalidInput)
	}
	deleted, err := s.sources.Delete(ctx, id)
	if err != nil {
		s.logger.Error("delete source failed", zap.Uint("source_id", id), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !deleted {
		return fmt.Errorf("%w: source %d", ErrNotFound, id)
	}
	s.logger.Info("source deleted", zap.Uint("source_id", id))
	return nil
}

func canonicalKey(key string) (string, error) {
	abs, err := filepath.Abs(key)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

type orderedChunk struct {
	ordinal int
	text    string
}

// uniqueChunks splits text and drops repeated chunks, keeping first
// occurrences in order. Each chunk keeps its position in the document.
func uniqueChunks(text string, size int) []orderedChunk {
	seen := make(map[string]struct{})
	var out []orderedChunk
	for ordinal, piece := range chunker.Chunks(text, size) {
		if _, ok := seen[piece]; ok {
			continue
		}
		seen[piece] = struct{}{}
		out = append(out, orderedChunk{ordinal: ordinal, text: piece})
	}
	return out
}
