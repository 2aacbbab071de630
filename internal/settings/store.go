// ABOUTME: Settings store with single-slot TTL cache over a persistence backend
// ABOUTME: Provides cached loads, validated merge-on-save, and explicit invalidation

package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultCacheTTL bounds snapshot staleness when no TTL is configured.
const DefaultCacheTTL = 30 * time.Second

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcpgate_settings_cache_hits_total",
		Help: "Settings loads served from the in-memory snapshot.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcpgate_settings_cache_misses_total",
		Help: "Settings loads that re-read the persistence backend.",
	})
)

// Backend is the persistence boundary the store reads and writes through.
// It is the single point of truth for write ordering.
type Backend interface {
	LoadDocument(ctx context.Context) (*Document, error)
	SaveDocument(ctx context.Context, doc *Document) error
	HealthCheck(ctx context.Context) error
}

// snapshot wraps one cached document with its expiry. The store holds at
// most one snapshot process-wide; readers swap the whole pointer, never
// mutate fields in place.
type snapshot struct {
	doc     *Document
	expires time.Time
}

// Store owns the canonical settings document. Construct one instance at
// process start and pass it by handle; there is no ambient global.
type Store struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger

	cache atomic.Pointer[snapshot]

	// saveMu serializes save operations and cache refills in this process.
	saveMu sync.Mutex

	now func() time.Time // test hook
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the cache time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a settings store over the given backend.
func NewStore(backend Backend, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend: backend,
		ttl:     DefaultCacheTTL,
		logger:  logger.With("component", "settings"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the current settings snapshot. Within the TTL window the
// same snapshot pointer is returned; after expiry or invalidation the
// backend is re-read. If the backend is unreachable, a conservative
// default document is returned instead of an error so callers always hold
// a usable, safe view. Callers must treat the result as read-only; writes
// go through Save.
func (s *Store) Load(ctx context.Context) (*Document, error) {
	if snap := s.cache.Load(); snap != nil && s.now().Before(snap.expires) {
		cacheHits.Inc()
		return snap.doc, nil
	}

	cacheMisses.Inc()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	// Another loader may have refilled the cache while we waited.
	if snap := s.cache.Load(); snap != nil && s.now().Before(snap.expires) {
		return snap.doc, nil
	}

	doc, err := s.backend.LoadDocument(ctx)
	if err != nil {
		s.logger.Warn("backend unreachable, serving default document", "error", err)
		return DefaultDocument(), nil
	}

	s.cache.Store(&snapshot{doc: doc, expires: s.now().Add(s.ttl)})
	return doc, nil
}

// Save merges partial into a freshly loaded canonical document, validates
// the result, and writes it through the backend. On success the cache is
// invalidated so the next Load observes the write. On failure the cache
// is left untouched and no partial state is applied.
func (s *Store) Save(ctx context.Context, partial *Partial) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	base, err := s.backend.LoadDocument(ctx)
	if err != nil {
		return fmt.Errorf("loading canonical document: %w", err)
	}

	merged := Merge(base, partial)
	if errs := merged.Validate(); len(errs) > 0 {
		return errs
	}

	if err := s.backend.SaveDocument(ctx, merged); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	s.cache.Store(nil)
	s.logger.Debug("settings saved",
		"servers", len(merged.Servers),
		"groups", len(merged.Groups),
		"users", len(merged.Users),
	)
	return nil
}

// Invalidate drops the cached snapshot so the next Load re-reads the
// backend. Used when the backing data changes out of band.
func (s *Store) Invalidate() {
	s.cache.Store(nil)
}

// HealthCheck reports backend reachability.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}
