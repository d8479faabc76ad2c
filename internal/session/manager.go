package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/quotes"
	"github.com/leafsii/combined-position/internal/repository"
	"github.com/leafsii/combined-position/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultTTL             = 30 * time.Minute
	DefaultJanitorInterval = time.Minute
)

type Config struct {
	// TTL is how long an idle session stays in memory and in the cache.
	TTL             time.Duration
	JanitorInterval time.Duration
	RequoteSettle   time.Duration
	RequoteMaxWait  time.Duration
	Quotes          quotes.Config
}

// persisted is the cached form of a session. Quotes are never persisted.
type persisted struct {
	ID        string         `json:"id"`
	State     position.State `json:"state"`
	Wallet    WalletInfo     `json:"wallet"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Manager owns the live sessions and their cached snapshots.
type Manager struct {
	deps     quotes.Deps
	cache    *store.Cache
	recorder repository.Recorder
	cfg      Config
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewManager(deps quotes.Deps, cache *store.Cache, recorder repository.Recorder, cfg Config, logger *zap.SugaredLogger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = DefaultJanitorInterval
	}
	if recorder == nil {
		recorder = repository.NoopRecorder{}
	}
	m := &Manager{
		deps:     deps,
		cache:    cache,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Create starts an empty session.
func (m *Manager) Create(ctx context.Context) *Session {
	s := newSession(uuid.NewString(), m)
	m.save(ctx, s.ID, s.store.Snapshot(), s.wallet.Info())
	s.start()

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Infow("Session created", "session", s.ID)
	return s
}

// Get returns a live session, restoring it from its cached snapshot when it
// is no longer in memory.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.touch()
		return s, nil
	}

	var snap persisted
	if err := m.cache.GetSession(ctx, id, &snap); err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	restored := newSession(id, m)
	restored.wallet.Set(snap.Wallet.Address, snap.Wallet.ChainID)
	restored.store.Restore(snap.State)

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		restored.close(false)
		existing.touch()
		return existing, nil
	}
	m.sessions[id] = restored
	m.mu.Unlock()

	restored.start()
	m.logger.Infow("Session restored", "session", id, "vaults", len(snap.State.Entries))
	return restored, nil
}

// Close ends a session and forgets its snapshot.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, live := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if live {
		s.close(false)
	} else {
		exists, err := m.cache.Exists(ctx, store.SessionKey(id))
		if err != nil {
			return err
		}
		if !exists {
			return ErrSessionNotFound
		}
	}
	if err := m.cache.DeleteSession(ctx, id); err != nil {
		return err
	}
	m.logger.Infow("Session closed", "session", id)
	return nil
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops the janitor and unloads every session. Cached snapshots
// stay so sessions survive a restart.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close(true)
	}
}

func (m *Manager) save(ctx context.Context, id string, st position.State, wallet WalletInfo) {
	snap := persisted{
		ID:        id,
		State:     st.WithoutQuotes(),
		Wallet:    wallet,
		UpdatedAt: time.Now(),
	}
	if err := m.cache.SetSession(ctx, id, snap, m.cfg.TTL); err != nil {
		m.logger.Warnw("Failed to persist session snapshot", "session", id, "error", err)
	}
}

func (m *Manager) janitor() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictIdle(time.Now())
		}
	}
}

// evictIdle unloads sessions idle for longer than the TTL. Their snapshots
// expire from the cache on their own.
func (m *Manager) evictIdle(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if now.Sub(s.idleSince()) > m.cfg.TTL {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close(true)
		m.logger.Debugw("Session evicted", "session", s.ID)
	}
	return len(idle)
}
