package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ospreyhq/osprey/internal/budget"
)

const (
	// DefaultMaxMemories bounds the store when no count ceiling is given.
	DefaultMaxMemories = 100
	// DefaultDebounce is the coalescing window for persistence.
	DefaultDebounce = 100 * time.Millisecond
)

// Options configures a Store.
type Options struct {
	// Path of the memory file. Empty disables persistence.
	Path string
	// MaxMemories is the count ceiling; 0 selects DefaultMaxMemories.
	MaxMemories int
	// MaxTokens is the token ceiling; 0 means unlimited. It bounds how much
	// prompt space the store can ever claim and is enforced before the
	// count ceiling.
	MaxTokens int
	// Obfuscate wraps the file in a reversible at-rest transform. Not a
	// security control.
	Obfuscate bool
	// Debounce is the save coalescing window; 0 selects DefaultDebounce.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Store keeps durable cross-session facts with relevance scoring, bounded
// size, and debounced persistence. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	memories  []*Memory
	path      string
	maxCount  int
	maxTokens int
	obfuscate bool
	saver     *saver
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore opens (or initializes) a store. A missing file starts fresh; a
// present but unreadable one is an error so corruption is never silently
// discarded.
func NewStore(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxCount := opts.MaxMemories
	if maxCount <= 0 {
		maxCount = DefaultMaxMemories
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	s := &Store{
		path:      opts.Path,
		maxCount:  maxCount,
		maxTokens: opts.MaxTokens,
		obfuscate: opts.Obfuscate,
		logger:    logger.Named("memory"),
		now:       time.Now,
	}

	if s.path != "" {
		loaded, err := loadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("load memory file: %w", err)
		}
		s.memories = loaded
	}

	s.saver = newSaver(debounce, s.persist, s.logger)
	return s, nil
}

// Add creates a memory with a zero access count and returns it. The store
// is re-bounded before Add returns.
func (s *Store) Add(content string, category Category) (Memory, error) {
	if content == "" {
		return Memory{}, fmt.Errorf("memory content must not be empty")
	}
	if !category.Valid() {
		return Memory{}, fmt.Errorf("unknown memory category %q", category)
	}

	s.mu.Lock()
	now := s.now()
	m := &Memory{
		ID:             uuid.NewString(),
		Content:        content,
		Category:       category,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	s.memories = append(s.memories, m)
	s.evictLocked()
	out := *m
	s.mu.Unlock()

	s.saver.MarkDirty()
	return out, nil
}

// Get returns a memory by id, bumping its access stats.
func (s *Store) Get(id string) (Memory, bool) {
	s.mu.Lock()
	for _, m := range s.memories {
		if m.ID == id {
			s.touchLocked(m)
			out := *m
			s.mu.Unlock()
			s.saver.MarkDirty()
			return out, true
		}
	}
	s.mu.Unlock()
	return Memory{}, false
}

// Remove deletes a memory by id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	for i, m := range s.memories {
		if m.ID == id {
			s.memories = append(s.memories[:i], s.memories[i+1:]...)
			s.mu.Unlock()
			s.saver.MarkDirty()
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// FindRelevant scores every memory against the query and returns up to
// maxResults matches, best first. Returned memories are touched: surfacing
// a fact into a prompt counts as using it.
func (s *Store) FindRelevant(query string, maxResults int) []Memory {
	if maxResults <= 0 {
		return nil
	}
	words := queryWords(query)
	if len(words) == 0 {
		return nil
	}

	s.mu.Lock()
	type scored struct {
		m     *Memory
		score float64
	}
	candidates := make([]scored, 0, len(s.memories))
	for _, m := range s.memories {
		if sc := m.score(words); sc > 0 {
			candidates = append(candidates, scored{m: m, score: sc})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	out := make([]Memory, 0, len(candidates))
	for _, c := range candidates {
		s.touchLocked(c.m)
		out = append(out, *c.m)
	}
	touched := len(out) > 0
	s.mu.Unlock()

	if touched {
		s.saver.MarkDirty()
	}
	return out
}

// List returns a copy of all memories in creation order.
func (s *Store) List() []Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Memory, 0, len(s.memories))
	for _, m := range s.memories {
		out = append(out, *m)
	}
	return out
}

// Stats summarizes the store for diagnostics.
type Stats struct {
	Count           int              `json:"count"`
	EstimatedTokens int              `json:"estimated_tokens"`
	ByCategory      map[Category]int `json:"by_category"`
}

// Stats reports current size and composition.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Count:           len(s.memories),
		EstimatedTokens: s.totalTokensLocked(),
		ByCategory:      make(map[Category]int),
	}
	for _, m := range s.memories {
		st.ByCategory[m.Category]++
	}
	return st
}

// Flush commits any pending write synchronously.
func (s *Store) Flush() error {
	return s.saver.Flush()
}

// Close drains the pending write and stops the saver. Mutations after Close
// are not persisted.
func (s *Store) Close() error {
	return s.saver.Close()
}

func (s *Store) touchLocked(m *Memory) {
	m.LastAccessedAt = s.now()
	m.AccessCount++
}

func (s *Store) totalTokensLocked() int {
	total := 0
	for _, m := range s.memories {
		total += budget.EstimateTokens(m.Content)
	}
	return total
}

// evictLocked re-bounds the store. The token ceiling runs first and stops
// at one remaining entry; the count ceiling is the hard backstop.
func (s *Store) evictLocked() {
	if s.maxTokens > 0 {
		for len(s.memories) > 1 && s.totalTokensLocked() > s.maxTokens {
			s.evictOldestLocked()
		}
	}
	for len(s.memories) > s.maxCount {
		s.evictOldestLocked()
	}
}

func (s *Store) evictOldestLocked() {
	oldest := 0
	for i, m := range s.memories {
		if m.LastAccessedAt.Before(s.memories[oldest].LastAccessedAt) {
			oldest = i
		}
	}
	evicted := s.memories[oldest]
	s.memories = append(s.memories[:oldest], s.memories[oldest+1:]...)
	s.logger.Debug("memory evicted",
		zap.String("id", evicted.ID),
		zap.String("category", string(evicted.Category)),
		zap.Time("last_accessed", evicted.LastAccessedAt))
}

// persist snapshots and writes the store; called by the saver. The snapshot
// is taken by value so concurrent touches cannot race the marshal.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	snapshot := make([]Memory, 0, len(s.memories))
	for _, m := range s.memories {
		snapshot = append(snapshot, *m)
	}
	now := s.now()
	s.mu.Unlock()
	return saveFile(s.path, snapshot, s.obfuscate, now)
}
