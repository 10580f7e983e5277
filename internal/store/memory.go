package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/glm-met/internal/met"
)

var (
	// ErrNotFound is returned when no samples are cached for a key.
	ErrNotFound = errors.New("no samples cached for chunk")
)

type entry struct {
	source  string
	loc     met.Location
	r       met.DateRange
	samples []met.RawSample
	savedAt time.Time
}

// MemoryStore is a concurrency-safe in-memory cache of the raw samples of
// fetched chunks, keyed by source, location and date range.
type MemoryStore struct {
	mu sync.RWMutex

	data  map[string]*entry
	order []string // keys, oldest first

	// retention configuration
	maxEntries int           // max number of cached chunks
	maxAge     time.Duration // optional max age of a cached chunk

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxEntries is <= 0, it is treated as unlimited.
func NewMemoryStore(maxEntries int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*entry),
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

func key(source string, loc met.Location, r met.DateRange) string {
	return source + "|" + loc.Key() + "|" + r.String()
}

// SaveSamples stores a copy of the samples of a chunk and enforces retention.
func (s *MemoryStore) SaveSamples(source string, loc met.Location, r met.DateRange, samples []met.RawSample) {
	k := key(source, loc, r)
	cp := append([]met.RawSample(nil), samples...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[k]; ok {
		s.removeKey(k)
	}
	s.data[k] = &entry{source: source, loc: loc, r: r, samples: cp, savedAt: s.now()}
	s.order = append(s.order, k)

	// Enforce retention by count.
	for s.maxEntries > 0 && len(s.order) > s.maxEntries {
		delete(s.data, s.order[0])
		s.order = s.order[1:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		for len(s.order) > 0 && s.data[s.order[0]].savedAt.Before(cutoff) {
			delete(s.data, s.order[0])
			s.order = s.order[1:]
		}
	}
}

// GetSamples returns a copy of the cached samples of a chunk.
func (s *MemoryStore) GetSamples(source string, loc met.Location, r met.DateRange) ([]met.RawSample, error) {
	k := key(source, loc, r)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[k]
	if !ok {
		return nil, ErrNotFound
	}
	if s.maxAge > 0 && e.savedAt.Before(s.now().Add(-s.maxAge)) {
		return nil, ErrNotFound
	}
	return append([]met.RawSample(nil), e.samples...), nil
}

// Invalidate drops every cached chunk of loc that overlaps r, so the next
// fetch goes back to the source. It returns the number of dropped chunks.
func (s *MemoryStore) Invalidate(source string, loc met.Location, r met.DateRange) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drop []string
	for k, e := range s.data {
		if e.source == source && e.loc == loc && e.r.Start.Before(r.End) && r.Start.Before(e.r.End) {
			drop = append(drop, k)
		}
	}
	for _, k := range drop {
		s.removeKey(k)
	}
	return len(drop)
}

// Len returns the number of cached chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) removeKey(k string) {
	delete(s.data, k)
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
