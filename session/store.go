// Package session keeps the live canvas sessions, with a bounded
// lifetime: the least recently used sessions are evicted when the
// store is full, and idle sessions expire.
package session

import (
	"container/list"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/benoitkugler/okcanvas/internal/domain"
	"github.com/benoitkugler/okcanvas/scene"
	"github.com/benoitkugler/okcanvas/sceneraster"
)

// Default retention settings.
const (
	DefaultCapacity     = 1024
	DefaultTTL          = time.Hour
	DefaultMaxDimension = 10000
	// DefaultMirrorMaxPixels is a 4 megapixels canvas, 16 MB of RGBA.
	DefaultMirrorMaxPixels = 4_000_000
)

// Session is one canvas being built.
type Session struct {
	ID        string
	Scene     *scene.Scene
	Preview   *sceneraster.Mirror // nil when raster mirrors are disabled
	CreatedAt time.Time
}

// Store holds the sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Create validates the dimensions and stores a new, empty session.
	Create(width, height int) (*Session, error)
	// Get returns the session, or an error wrapping domain.ErrSessionNotFound.
	// It never creates a session.
	Get(id string) (*Session, error)
	// Delete removes the session, or returns an error wrapping domain.ErrSessionNotFound.
	Delete(id string) error
	// Len returns the number of live sessions.
	Len() int
}

// Config is the retention policy of a MemoryStore.
type Config struct {
	// Capacity is the maximum number of live sessions.
	Capacity int
	// TTL is the idle time after which a session expires. 0 disables expiry.
	TTL time.Duration
	// MaxDimension bounds the width and height of new canvases.
	MaxDimension int
	// RasterMirror attaches a server side raster copy to the sessions
	// of at most MirrorMaxPixels pixels. Larger canvases are
	// rasterized on demand.
	RasterMirror    bool
	MirrorMaxPixels int
}

type entry struct {
	session  *Session
	lastUsed time.Time
}

// MemoryStore is an in-process Store, with LRU eviction and idle expiry.
type MemoryStore struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element // of *entry
	lru     *list.List               // front is the most recently used
	entropy *ulid.MonotonicEntropy
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. Zero fields of cfg are
// replaced by defaults, except TTL.
func NewMemoryStore(cfg Config, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if cfg.MirrorMaxPixels <= 0 {
		cfg.MirrorMaxPixels = DefaultMirrorMaxPixels
	}
	t := time.Now()
	return &MemoryStore{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
	}
}

func (s *MemoryStore) Create(width, height int) (*Session, error) {
	if width > s.cfg.MaxDimension || height > s.cfg.MaxDimension {
		return nil, domain.NewError("Store.Create", domain.ErrInvalidDimensions,
			fmt.Sprintf("%dx%d exceeds the %d pixels limit", width, height, s.cfg.MaxDimension))
	}
	sc, err := scene.New(width, height)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:        ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		Scene:     sc,
		CreatedAt: now,
	}
	if s.cfg.RasterMirror && width*height <= s.cfg.MirrorMaxPixels {
		sess.Preview = sceneraster.NewMirror(sc, s.logger)
	}

	s.expireLocked(now)
	for s.lru.Len() >= s.cfg.Capacity {
		oldest := s.lru.Back()
		s.removeLocked(oldest)
		s.logger.Info("session evicted", "session_id", oldest.Value.(*entry).session.ID, "reason", "capacity")
	}
	s.entries[sess.ID] = s.lru.PushFront(&entry{session: sess, lastUsed: now})
	return sess, nil
}

func (s *MemoryStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return nil, domain.NewError("Store.Get", domain.ErrSessionNotFound, id)
	}
	now := s.now()
	e := el.Value.(*entry)
	if s.expired(e, now) {
		s.removeLocked(el)
		s.logger.Info("session expired", "session_id", id)
		return nil, domain.NewError("Store.Get", domain.ErrSessionNotFound, id)
	}
	e.lastUsed = now
	s.lru.MoveToFront(el)
	return e.session, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return domain.NewError("Store.Delete", domain.ErrSessionNotFound, id)
	}
	s.removeLocked(el)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Sweep drops the expired sessions and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(s.now())
}

func (s *MemoryStore) expired(e *entry, now time.Time) bool {
	return s.cfg.TTL > 0 && now.Sub(e.lastUsed) >= s.cfg.TTL
}

// expireLocked walks from the least recently used entry, and
// stops at the first live one.
func (s *MemoryStore) expireLocked(now time.Time) int {
	n := 0
	for el := s.lru.Back(); el != nil; {
		e := el.Value.(*entry)
		if !s.expired(e, now) {
			break
		}
		prev := el.Prev()
		s.removeLocked(el)
		s.logger.Info("session expired", "session_id", e.session.ID)
		n++
		el = prev
	}
	return n
}

func (s *MemoryStore) removeLocked(el *list.Element) {
	s.lru.Remove(el)
	delete(s.entries, el.Value.(*entry).session.ID)
}
