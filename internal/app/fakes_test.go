package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/search"
)

type memStore struct {
	mu        sync.Mutex
	sources   []model.Source
	fragments []model.Fragment
	calls     atomic.Int32
	fail      error
}

type memSources struct{ *memStore }

type memFragments struct{ *memStore }

func (m *memStore) stores() (memSources, memFragments) {
	return memSources{m}, memFragments{m}
}

func (m memSources) GetOrCreate(ctx context.Context, key string) (*model.Source, error) {
	m.calls.Add(1)
	if m.fail != nil {
		return nil, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sources {
		if m.sources[i].Key == key {
			s := m.sources[i]
			return &s, nil
		}
	}
	s := model.Source{ID: uint(len(m.sources) + 1), Key: key, CreatedAt: time.Now()}
	m.sources = append(m.sources, s)
	return &s, nil
}

func (m memSources) FindByKey(ctx context.Context, key string) (*model.Source, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sources {
		if m.sources[i].Key == key {
			s := m.sources[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (m memSources) GetByID(ctx context.Context, id uint) (*model.Source, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sources {
		if m.sources[i].ID == id {
			s := m.sources[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (m memSources) List(ctx context.Context) ([]model.SourceSummary, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SourceSummary, 0, len(m.sources))
	for _, s := range m.sources {
		var n int64
		for _, f := range m.fragments {
			if f.SourceID == s.ID {
				n++
			}
		}
		out = append(out, model.SourceSummary{ID: s.ID, Key: s.Key, FragmentCount: n, CreatedAt: s.CreatedAt})
	}
	return out, nil
}

func (m memSources) Delete(ctx context.Context, id uint) (bool, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i := range m.sources {
		if m.sources[i].ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return false, nil
	}
	m.sources = append(m.sources[:idx], m.sources[idx+1:]...)
	kept := m.fragments[:0]
	for _, f := range m.fragments {
		if f.SourceID != id {
			kept = append(kept, f)
		}
	}
	m.fragments = kept
	return true, nil
}

func (m memFragments) Exists(ctx context.Context, sourceID uint, snippet string) (bool, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fragments {
		if f.SourceID == sourceID && f.Snippet == snippet {
			return true, nil
		}
	}
	return false, nil
}

func (m memFragments) Upsert(ctx context.Context, fragment *model.Fragment) (bool, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fragments {
		if f.SourceID == fragment.SourceID && f.Snippet == fragment.Snippet {
			return false, nil
		}
	}
	var next uint
	for _, f := range m.fragments {
		next = max(next, f.ID)
	}
	fragment.ID = next + 1
	m.fragments = append(m.fragments, *fragment)
	return true, nil
}

func (m memFragments) GetByID(ctx context.Context, id uint) (*model.Fragment, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.fragments {
		if m.fragments[i].ID == id {
			f := m.fragments[i]
			return &f, nil
		}
	}
	return nil, nil
}

func (m memFragments) ListAll(ctx context.Context) ([]model.Fragment, error) {
	m.calls.Add(1)
	if m.fail != nil {
		return nil, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.Fragment(nil), m.fragments...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memFragments) CountBySource(ctx context.Context, sourceID uint) (int64, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, f := range m.fragments {
		if f.SourceID == sourceID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) fragmentBySnippet(snippet string) (model.Fragment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fragments {
		if f.Snippet == snippet {
			return f, true
		}
	}
	return model.Fragment{}, false
}

// fakeEmbedder looks vectors up by text and falls back to a constant vector.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	onCall   func(n int32)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.peak.Load()
		if cur <= old || f.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if f.onCall != nil {
		f.onCall(n)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]float32
	hits int
}

func (c *fakeCache) Get(ctx context.Context, text string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[text]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, text string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]float32{}
	}
	c.data[text] = vec
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *fakeLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return func() {}, nil
}

type fakePublisher struct {
	jobs []model.IngestJob
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, job model.IngestJob) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type fakeRetriever struct {
	results []search.Result
	err     error
	gotOpts search.Options
}

func (r *fakeRetriever) Search(ctx context.Context, text string, opts search.Options) ([]search.Result, error) {
	r.gotOpts = opts
	return r.results, r.err
}

type fakeChat struct {
	reply    string
	deltas   []string
	err      error
	messages []ai.ChatMessage
}

func (c *fakeChat) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	c.messages = messages
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *fakeChat) StreamComplete(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	c.messages = messages
	var out string
	for _, d := range c.deltas {
		out += d
		if err := onChunk(d); err != nil {
			return out, err
		}
	}
	return out, c.err
}

var errProviderDown = errors.Join(ai.ErrProviderUnavailable, errors.New("503 after retries"))

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
