package position

import (
	"sync"

	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
)

// Store owns the selection state of one panel. Every mutation is one atomic
// transition followed by a notification to subscribers.
type Store struct {
	mu    sync.RWMutex
	state State

	subMu  sync.Mutex
	subs   map[int]chan State
	nextID int
}

func NewStore() *Store {
	return &Store{
		state: Initial(),
		subs:  make(map[int]chan State),
	}
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Subscribe returns a channel receiving the latest state after each change.
// Slow readers only ever see the most recent snapshot.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// publish never blocks: only publishers send, and they drain first.
func (s *Store) publish(st State) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st.Clone()
	}
}

// apply runs a transition under the write lock. Errors leave the state
// untouched. Subscribers are notified before the lock is released so they
// observe snapshots in commit order.
func (s *Store) apply(fn func(State) (State, error)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.state)
	if err != nil {
		return State{}, err
	}
	s.state = next
	snapshot := next.Clone()
	s.publish(snapshot)
	return snapshot, nil
}

func (s *Store) Open(open bool) State {
	st, _ := s.apply(func(cur State) (State, error) { return Open(cur, open), nil })
	return st
}

func (s *Store) Reset() State {
	st, _ := s.apply(func(cur State) (State, error) { return Reset(cur), nil })
	return st
}

func (s *Store) AddVault(vaultID string, chainID transact.ChainID) (State, error) {
	return s.apply(func(cur State) (State, error) { return AddVault(cur, vaultID, chainID) })
}

func (s *Store) RemoveVault(vaultID string) State {
	st, _ := s.apply(func(cur State) (State, error) { return RemoveVault(cur, vaultID), nil })
	return st
}

func (s *Store) SetAllocation(vaultID string, percent int) (State, error) {
	return s.apply(func(cur State) (State, error) { return SetAllocation(cur, vaultID, percent) })
}

func (s *Store) UpdateAllocation(vaultID string, percent int) (State, error) {
	return s.apply(func(cur State) (State, error) { return UpdateAllocation(cur, vaultID, percent) })
}

func (s *Store) SetTotalAmount(amount decimal.Decimal, token transact.Token) State {
	st, _ := s.apply(func(cur State) (State, error) { return SetTotalAmount(cur, amount, token), nil })
	return st
}

// Restore replaces the state wholesale, used when a session is reloaded.
func (s *Store) Restore(st State) State {
	restored, _ := s.apply(func(cur State) (State, error) {
		next := st.Clone()
		next.Generation = cur.Generation + 1
		return next, nil
	})
	return restored
}

// BeginBatch starts a new quote batch: it supersedes any batch in flight and
// returns the generation all of this batch's writes must carry.
func (s *Store) BeginBatch() (uint64, State) {
	st, _ := s.apply(func(cur State) (State, error) {
		next := cur.Clone()
		next.Generation++
		next.QuotesStatus = StatusPending
		next.QuotesError = ""
		return next, nil
	})
	return st.Generation, st
}

var errStale = staleError{}

type staleError struct{}

func (staleError) Error() string { return "stale generation" }

// SetVaultQuote records a vault's quote outcome. It reports false when the
// generation is stale or the vault is no longer selected.
func (s *Store) SetVaultQuote(gen uint64, vaultID string, outcome QuoteOutcome) bool {
	_, err := s.apply(func(cur State) (State, error) {
		if cur.Generation != gen {
			return cur, errStale
		}
		idx := cur.indexOf(vaultID)
		if idx < 0 {
			return cur, ErrUnknownVault
		}
		next := cur.Clone()
		q := outcome
		next.Entries[idx].Quote = &q
		return next, nil
	})
	return err == nil
}

// FinishBatch records the batch-level outcome unless a newer generation started.
func (s *Store) FinishBatch(gen uint64, status QuoteStatus, errMsg string) bool {
	_, err := s.apply(func(cur State) (State, error) {
		if cur.Generation != gen {
			return cur, errStale
		}
		next := cur.Clone()
		next.QuotesStatus = status
		next.QuotesError = errMsg
		return next, nil
	})
	return err == nil
}
