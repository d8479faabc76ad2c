package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/quotes"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrVaultNotFound   = errors.New("vault not found")
	ErrUnknownToken    = errors.New("unknown token")
	ErrInvalidAmount   = errors.New("amount must not be negative")
)

const flushTimeout = 2 * time.Second

// Session is one open combined-position panel.
type Session struct {
	ID string

	store     *position.Store
	wallet    *Wallet
	orch      *quotes.Orchestrator
	debouncer *quotes.Debouncer
	mgr       *Manager
	logger    *zap.SugaredLogger

	ctx      context.Context
	cancel   context.CancelFunc
	lastSeen atomic.Int64
	closed   sync.Once
	persist  sync.WaitGroup
}

func newSession(id string, mgr *Manager) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     id,
		store:  position.NewStore(),
		wallet: &Wallet{},
		mgr:    mgr,
		logger: mgr.logger.With("session", id),
		ctx:    ctx,
		cancel: cancel,
	}
	s.orch = quotes.New(s.store, s.wallet, mgr.deps, mgr.cfg.Quotes, s.logger)
	s.debouncer = quotes.NewDebouncer(mgr.cfg.RequoteSettle, mgr.cfg.RequoteMaxWait, s.requote)
	s.touch()
	return s
}

// start begins persisting every state change.
func (s *Session) start() {
	updates, cancel := s.store.Subscribe()
	s.persist.Add(1)
	go func() {
		defer s.persist.Done()
		defer cancel()
		for {
			select {
			case <-s.ctx.Done():
				return
			case st, ok := <-updates:
				if !ok {
					return
				}
				s.mgr.save(s.ctx, s.ID, st, s.wallet.Info())
			}
		}
	}()
}

// close stops background work. With flush the final state is written to the
// cache so an evicted session reloads exactly as it was left.
func (s *Session) close(flush bool) {
	s.closed.Do(func() {
		s.debouncer.Stop()
		s.cancel()
		s.persist.Wait()
		if flush {
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			s.mgr.save(ctx, s.ID, s.store.Snapshot(), s.wallet.Info())
		}
	})
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) Snapshot() position.State {
	return s.store.Snapshot()
}

// Subscribe streams state changes; see position.Store.Subscribe.
func (s *Session) Subscribe() (<-chan position.State, func()) {
	return s.store.Subscribe()
}

func (s *Session) Wallet() WalletInfo {
	return s.wallet.Info()
}

func (s *Session) SetWallet(address string, chainID transact.ChainID) {
	s.wallet.Set(address, chainID)
	s.mgr.save(s.ctx, s.ID, s.store.Snapshot(), s.wallet.Info())
}

func (s *Session) Open(open bool) position.State {
	return s.store.Open(open)
}

// ToggleVault adds the vault after validation, or removes it when it is
// already selected.
func (s *Session) ToggleVault(vaultID string) (position.State, error) {
	vault, ok := s.mgr.deps.Catalog.GetVaultByID(vaultID)
	if !ok {
		return position.State{}, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultID)
	}

	cur := s.store.Snapshot()
	if cur.HasVault(vaultID) {
		return s.store.RemoveVault(vaultID), nil
	}
	if err := position.ValidateAddVault(cur, vault); err != nil {
		return position.State{}, err
	}
	return s.store.AddVault(vault.ID, vault.ChainID)
}

func (s *Session) RemoveVault(vaultID string) position.State {
	return s.store.RemoveVault(vaultID)
}

// SetAllocation edits one vault's percent. With recompute the amounts and
// quotes are refreshed and a requote is scheduled.
func (s *Session) SetAllocation(vaultID string, percent int, recompute bool) (position.State, error) {
	if !recompute {
		return s.store.SetAllocation(vaultID, percent)
	}
	st, err := s.store.UpdateAllocation(vaultID, percent)
	if err != nil {
		return position.State{}, err
	}
	s.debouncer.Trigger()
	return st, nil
}

// SetAmount sets the total deposit and its token, then schedules a requote.
func (s *Session) SetAmount(amount decimal.Decimal, chainID transact.ChainID, tokenAddress string) (position.State, error) {
	if amount.IsNegative() {
		return position.State{}, ErrInvalidAmount
	}
	token, ok := s.mgr.deps.Catalog.TokenByAddress(chainID, tokenAddress)
	if !ok {
		return position.State{}, fmt.Errorf("%w: %s on chain %s", ErrUnknownToken, tokenAddress, chainID)
	}
	st := s.store.SetTotalAmount(amount, token)
	s.debouncer.Trigger()
	return st, nil
}

// FetchQuotes runs a batch now and records its report.
func (s *Session) FetchQuotes(ctx context.Context) (*quotes.BatchReport, error) {
	report, err := s.orch.FetchQuotes(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.mgr.recorder.RecordRun(ctx, s.ID, report); err != nil {
		s.logger.Warnw("Failed to record quote run", "generation", report.Generation, "error", err)
	}
	return report, nil
}

func (s *Session) requote() {
	if _, err := s.FetchQuotes(s.ctx); err != nil {
		if errors.Is(err, quotes.ErrMissingQuoteInputs) {
			s.logger.Debugw("Skipping requote", "reason", err)
			return
		}
		s.logger.Warnw("Requote failed", "error", err)
	}
}

func (s *Session) ValidateDeposit(walletChainID transact.ChainID, balance decimal.Decimal) position.DepositCheck {
	if walletChainID == "" {
		walletChainID = s.wallet.ChainID()
	}
	return position.ValidateDeposit(s.store.Snapshot(), position.DepositContext{
		Connected:     s.wallet.IsConnected(),
		WalletChainID: walletChainID,
		Balance:       balance,
	})
}

func (s *Session) DepositPlan() ([]position.PlanStep, error) {
	return position.BuildDepositPlan(s.store.Snapshot(), s.mgr.deps.Catalog)
}
