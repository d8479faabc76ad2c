package transact

import "sync"

type readinessFlags struct {
	routes  bool
	fees    bool
	changed chan struct{}
}

// Readiness tracks the per-vault route/fee loaded flags. Waiters grab the
// channel from Changed and are woken when it is closed by the next update.
type Readiness struct {
	mu    sync.Mutex
	flags map[string]*readinessFlags
}

func NewReadiness() *Readiness {
	return &Readiness{flags: make(map[string]*readinessFlags)}
}

// entry must be called with mu held.
func (r *Readiness) entry(vaultID string) *readinessFlags {
	f, ok := r.flags[vaultID]
	if !ok {
		f = &readinessFlags{changed: make(chan struct{})}
		r.flags[vaultID] = f
	}
	return f
}

func (r *Readiness) RoutesLoaded(vaultID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry(vaultID).routes
}

func (r *Readiness) FeesLoaded(vaultID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry(vaultID).fees
}

func (r *Readiness) Changed(vaultID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry(vaultID).changed
}

func (r *Readiness) SetRoutesLoaded(vaultID string, loaded bool) {
	r.update(vaultID, func(f *readinessFlags) { f.routes = loaded })
}

func (r *Readiness) SetFeesLoaded(vaultID string, loaded bool) {
	r.update(vaultID, func(f *readinessFlags) { f.fees = loaded })
}

// Reset clears both flags when a vault context is initialised again.
func (r *Readiness) Reset(vaultID string) {
	r.update(vaultID, func(f *readinessFlags) {
		f.routes = false
		f.fees = false
	})
}

func (r *Readiness) update(vaultID string, fn func(*readinessFlags)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.entry(vaultID)
	fn(f)
	close(f.changed)
	f.changed = make(chan struct{})
}
