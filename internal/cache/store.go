// Package cache provides the bounded, TTL-aware response cache used by the
// Pipeline. Store is generic over the cached value type so the Pipeline can
// store its own response envelope without this package depending on it.
//
// Invariants (enforced on every Set/Remove/cleanup cycle):
//   - total entry size ≤ MaxBytes and entry count ≤ MaxEntries
//   - no two entries share a key; Set on an existing key atomically replaces
//     the prior entry, accounting for the size delta
//   - reads observe either the pre- or post-Set value for a key, never torn
package cache

import (
	"container/list"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quaylabs/llmrouter/domain"
)

// EvictionPolicy selects which entry to drop when the store is over budget.
type EvictionPolicy string

// Supported eviction policies.
const (
	EvictionLRU      EvictionPolicy = "lru"
	EvictionLFU      EvictionPolicy = "lfu"
	EvictionFIFO     EvictionPolicy = "fifo"
	EvictionAdaptive EvictionPolicy = "adaptive"
)

// Entry is a single cached value plus its bookkeeping metadata.
type Entry[V any] struct {
	Key            string
	Value          V
	Size           int
	TTL            time.Duration
	CreatedAt      time.Time
	LastAccessed   time.Time
	AccessCount    int
	Tags           []string
	Priority       domain.Priority
	similarityText string
	tokens         map[string]struct{}
}

func (e *Entry[V]) expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// SetOptions configures a single Set call.
type SetOptions struct {
	TTL time.Duration
	Tags     []string
	Priority domain.Priority
	Size     int
	// SimilarityText is the text GetSemantic compares against. Typically the
	// sanitized request content. Leave empty to exclude the entry from
	// semantic lookup (it remains reachable by exact key).
	SimilarityText string
}

// Stats is a point-in-time snapshot of store-wide counters.
type Stats struct {
	Entries      int
	Bytes        int
	Hits         int64
	Misses       int64
	SemanticHits int64
	Evictions    int64
}

// Config configures a Store at construction time.
type Config struct {
	MaxBytes   int
	MaxEntries int
	Policy     EvictionPolicy
	// SimilarityThreshold is the default minimum GetSemantic must meet.
	SimilarityThreshold float64
	// ScanCap bounds how many live entries GetSemantic inspects, since the
	// scan is linear in entry count.
	ScanCap int
}

func (c Config) withDefaults() Config {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 64 << 20 // 64MiB
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10_000
	}
	if c.Policy == "" {
		c.Policy = EvictionLRU
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.8
	}
	if c.ScanCap <= 0 {
		c.ScanCap = 5_000
	}
	return c
}

// Store is a bounded key→value cache with TTL, tag-based invalidation and
// approximate semantic lookup. The zero value is not usable; use New.
type Store[V any] struct {
	mu  sync.Mutex
	cfg Config

	entries map[string]*Entry[V]
	order   *list.List // list.Element.Value is the key string; front = most-recently-touched
	elem    map[string]*list.Element

	totalBytes int
	stats      Stats
}

// New creates a Store with the given configuration.
func New[V any](cfg Config) *Store[V] {
	return &Store[V]{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*Entry[V]),
		order:   list.New(),
		elem:    make(map[string]*list.Element),
	}
}

// Get returns the value for key if present and unexpired.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.stats.Misses++
		var zero V
		return zero, false
	}
	if e.expired(time.Now()) {
		s.removeLocked(key)
		s.stats.Misses++
		var zero V
		return zero, false
	}
	e.AccessCount++
	e.LastAccessed = time.Now()
	if el, ok := s.elem[key]; ok {
		s.order.MoveToFront(el)
	}
	s.stats.Hits++
	return e.Value, true
}

// Set inserts or atomically replaces the entry at key.
func (s *Store[V]) Set(key string, value V, opts SetOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.entries[key]; ok {
		s.totalBytes -= existing.Size
	}

	e := &Entry[V]{
		Key:            key,
		Value:          value,
		Size:           opts.Size,
		TTL:            opts.TTL,
		CreatedAt:      now,
		LastAccessed:   now,
		Tags:           opts.Tags,
		Priority:       opts.Priority,
		similarityText: opts.SimilarityText,
		tokens:         tokenize(opts.SimilarityText),
	}
	s.entries[key] = e
	s.totalBytes += e.Size

	if el, ok := s.elem[key]; ok {
		s.order.MoveToFront(el)
	} else {
		s.elem[key] = s.order.PushFront(key)
	}

	s.evictUntilWithinBudget()
}

// Remove deletes the entry at key, if present.
func (s *Store[V]) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

// Has reports whether key is present and unexpired.
func (s *Store[V]) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// removeLocked must be called with s.mu held.
func (s *Store[V]) removeLocked(key string) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	s.totalBytes -= e.Size
	delete(s.entries, key)
	if el, ok := s.elem[key]; ok {
		s.order.Remove(el)
		delete(s.elem, key)
	}
}

// InvalidateTag removes every entry carrying tag, returning the count removed.
func (s *Store[V]) InvalidateTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var toRemove []string
	for key, e := range s.entries {
		for _, t := range e.Tags {
			if t == tag {
				toRemove = append(toRemove, key)
				break
			}
		}
	}
	for _, key := range toRemove {
		s.removeLocked(key)
	}
	return len(toRemove)
}

// Cleanup removes every expired entry and returns the count removed. Intended
// to be called periodically by the FeedbackLoop.
func (s *Store[V]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []string
	for key, e := range s.entries {
		if e.expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		s.removeLocked(key)
	}
	return len(expired)
}

// Stats returns a snapshot of store-wide counters.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Entries = len(s.entries)
	st.Bytes = s.totalBytes
	return st
}

// Len returns the current entry count.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes every entry.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry[V])
	s.elem = make(map[string]*list.Element)
	s.order.Init()
	s.totalBytes = 0
}

// evictUntilWithinBudget must be called with s.mu held.
func (s *Store[V]) evictUntilWithinBudget() {
	for s.totalBytes > s.cfg.MaxBytes || len(s.entries) > s.cfg.MaxEntries {
		victim, ok := s.chooseVictimLocked()
		if !ok {
			return
		}
		s.removeLocked(victim)
		s.stats.Evictions++
	}
}

// chooseVictimLocked must be called with s.mu held.
func (s *Store[V]) chooseVictimLocked() (string, bool) {
	if len(s.entries) == 0 {
		return "", false
	}
	switch s.cfg.Policy {
	case EvictionLFU:
		return s.lowestFieldKey(func(e *Entry[V]) float64 { return float64(e.AccessCount) }), true
	case EvictionFIFO:
		return s.oldestKey(), true
	case EvictionAdaptive:
		return s.highestFieldKey(adaptiveScore[V]), true
	default: // EvictionLRU
		back := s.order.Back()
		if back == nil {
			return "", false
		}
		return back.Value.(string), true
	}
}

func (s *Store[V]) oldestKey() string {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range s.entries {
		if first || e.CreatedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.CreatedAt
			first = false
		}
	}
	return oldestKey
}

func (s *Store[V]) lowestFieldKey(field func(*Entry[V]) float64) string {
	var bestKey string
	var best float64
	first := true
	for key, e := range s.entries {
		v := field(e)
		if first || v < best {
			best = v
			bestKey = key
			first = false
		}
	}
	return bestKey
}

func (s *Store[V]) highestFieldKey(field func(*Entry[V]) float64) string {
	var bestKey string
	var best float64
	first := true
	for key, e := range s.entries {
		v := field(e)
		if first || v > best {
			best = v
			bestKey = key
			first = false
		}
	}
	return bestKey
}

// adaptiveScore implements the adaptive eviction formula:
// priority_rank + 2/accessFreq + 0.1*ageHours + 0.5*sizeMB. Higher scores are
// evicted first, so priority_rank is inverted (critical=0 ... low=3) to keep
// high-priority entries sticky.
func adaptiveScore[V any](e *Entry[V]) float64 {
	rank := map[domain.Priority]float64{
		domain.PriorityCritical: 0,
		domain.PriorityHigh:     1,
		domain.PriorityMedium:   2,
		domain.PriorityLow:      3,
	}[e.Priority]

	freq := float64(e.AccessCount) + 1 // avoid divide-by-zero for never-accessed entries
	ageHours := time.Since(e.CreatedAt).Hours()
	sizeMB := float64(e.Size) / (1 << 20)

	return rank + 2/freq + 0.1*ageHours + 0.5*sizeMB
}

// GetSemantic scans live entries for the best similarity match against text,
// returning the stored value, the similarity score, and whether it met
// threshold. An exact content match scores 1.0. The scan is bounded by
// cfg.ScanCap to keep the operation from degrading unboundedly as the store
// grows.
func (s *Store[V]) GetSemantic(text string, threshold float64) (V, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if threshold <= 0 {
		threshold = s.cfg.SimilarityThreshold
	}
	queryTokens := tokenize(text)
	queryLen := len(text)

	var bestKey string
	var bestScore float64
	now := time.Now()
	scanned := 0
	for key, e := range s.entries {
		if scanned >= s.cfg.ScanCap {
			break
		}
		scanned++
		if e.expired(now) || e.tokens == nil {
			continue
		}
		score := similarity(queryTokens, queryLen, e.tokens, len(e.similarityText))
		if score > bestScore {
			bestScore = score
			bestKey = key
		}
	}

	var zero V
	if bestKey == "" || bestScore < threshold {
		return zero, bestScore, false
	}

	e := s.entries[bestKey]
	e.AccessCount++
	e.LastAccessed = now
	if el, ok := s.elem[bestKey]; ok {
		s.order.MoveToFront(el)
	}
	s.stats.SemanticHits++
	return e.Value, bestScore, true
}

// similarity combines 0.7-weighted Jaccard token overlap with 0.3-weighted
// length similarity, per the Cache's semantic-lookup specification.
func similarity(aTokens map[string]struct{}, aLen int, bTokens map[string]struct{}, bLen int) float64 {
	if len(aTokens) == 0 && len(bTokens) == 0 {
		if aLen == bLen {
			return 1.0
		}
	}
	jaccard := jaccardSimilarity(aTokens, bTokens)
	length := lengthSimilarity(aLen, bLen)
	return 0.7*jaccard + 0.3*length
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func lengthSimilarity(a, b int) float64 {
	if a == 0 && b == 0 {
		return 1.0
	}
	longer, shorter := a, b
	if shorter > longer {
		longer, shorter = shorter, longer
	}
	if longer == 0 {
		return 1.0
	}
	return float64(shorter) / float64(longer)
}

func tokenize(text string) map[string]struct{} {
	if text == "" {
		return nil
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	sort.Strings(fields) // deterministic iteration order doesn't matter for a set, but keeps debugging sane
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
