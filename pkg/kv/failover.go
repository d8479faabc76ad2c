package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// LogFunc is a structured log hook, e.g. a zap sugared logger's Infow.
type LogFunc func(msg string, fields ...any)

// FailoverStore sends traffic to primary and switches to fallback when the
// primary reports ErrBackendUnavailable. While on the fallback it probes the
// primary and switches back once a ping succeeds.
type FailoverStore struct {
	primary       Store
	fallback      Store
	active        atomic.Value
	probeInterval time.Duration
	logger        LogFunc

	mu      sync.Mutex
	probing bool
	closed  chan struct{}
	once    sync.Once
}

func NewFailoverStore(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	fs := &FailoverStore{
		primary:       primary,
		fallback:      fallback,
		probeInterval: probeInterval,
		logger:        logger,
		closed:        make(chan struct{}),
	}
	fs.active.Store(holder{primary})
	return fs
}

// NewFailoverStoreWithFallbackActive starts on the fallback and probes the primary.
func NewFailoverStoreWithFallbackActive(primary, fallback Store, probeInterval time.Duration, logger LogFunc) *FailoverStore {
	fs := NewFailoverStore(primary, fallback, probeInterval, logger)
	fs.demote()
	return fs
}

// holder keeps atomic.Value happy with differing concrete Store types.
type holder struct{ s Store }

func (fs *FailoverStore) current() Store {
	return fs.active.Load().(holder).s
}

// UsingFallback reports whether requests are served by the fallback store.
func (fs *FailoverStore) UsingFallback() bool {
	return fs.current() == fs.fallback
}

func (fs *FailoverStore) demote() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.current() != fs.fallback {
		fs.active.Store(holder{fs.fallback})
		fs.logger("Failing over to in-memory store", "reason", "primary_unavailable")
	}
	if !fs.probing {
		fs.probing = true
		go fs.probe()
	}
}

func (fs *FailoverStore) probe() {
	ticker := time.NewTicker(fs.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), fs.probeInterval/2)
			err := fs.primary.Ping(ctx)
			cancel()
			if err != nil {
				continue
			}

			fs.mu.Lock()
			fs.active.Store(holder{fs.primary})
			fs.probing = false
			fs.mu.Unlock()
			fs.logger("Recovered to primary store", "reason", "primary_healthy")
			return
		}
	}
}

func (fs *FailoverStore) exec(fn func(Store) error) error {
	store := fs.current()
	err := fn(store)
	if store == fs.primary && errors.Is(err, ErrBackendUnavailable) {
		fs.demote()
		return fn(fs.fallback)
	}
	return err
}

func (fs *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return fs.exec(func(s Store) error { return s.Set(ctx, key, value, ttl) })
}

func (fs *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := fs.exec(func(s Store) error {
		v, err := s.Get(ctx, key)
		out = v
		return err
	})
	return out, err
}

func (fs *FailoverStore) Del(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := fs.exec(func(s Store) error {
		v, err := s.Del(ctx, keys...)
		n = v
		return err
	})
	return n, err
}

func (fs *FailoverStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := fs.exec(func(s Store) error {
		v, err := s.Exists(ctx, keys...)
		n = v
		return err
	})
	return n, err
}

func (fs *FailoverStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := fs.exec(func(s Store) error {
		v, err := s.TTL(ctx, key)
		ttl = v
		return err
	})
	return ttl, err
}

// Ping succeeds while either store is serving.
func (fs *FailoverStore) Ping(ctx context.Context) error {
	return fs.current().Ping(ctx)
}

func (fs *FailoverStore) Close() error {
	var err error
	fs.once.Do(func() {
		close(fs.closed)
		err = errors.Join(fs.primary.Close(), fs.fallback.Close())
	})
	return err
}
