package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/repository"
	"github.com/leafsii/combined-position/internal/session"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/shopspring/decimal"
)

const (
	headerUserAddress = "X-User-Address"
	headerUserChainID = "X-User-Chain-Id"
	maxRunsLimit      = 100
)

// loadSession resolves {id} and syncs the wallet context from the request
// headers when they carry a different address or chain.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return nil, false
	}
	if !h.syncWallet(w, r, s) {
		return nil, false
	}
	return s, true
}

func (h *Handler) syncWallet(w http.ResponseWriter, r *http.Request, s *session.Session) bool {
	addr := r.Header.Get(headerUserAddress)
	if addr == "" {
		return true
	}
	if !common.IsHexAddress(addr) {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "X-User-Address is not a valid address")
		return false
	}

	cur := s.Wallet()
	chainID := cur.ChainID
	if c := r.Header.Get(headerUserChainID); c != "" {
		chainID = transact.ChainID(c)
	}
	if transact.SameAddress(cur.Address, addr) && cur.ChainID == chainID {
		return true
	}
	s.SetWallet(addr, chainID)
	return true
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, s *session.Session, st position.State) {
	h.writeJSON(w, status, SessionDTO{
		ID:     s.ID,
		Wallet: s.Wallet(),
		State:  st,
	})
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create(r.Context())
	if !h.syncWallet(w, r, s) {
		return
	}
	h.writeSession(w, http.StatusCreated, s, s.Snapshot())
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	h.writeSession(w, http.StatusOK, s, s.Snapshot())
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req OpenRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	h.writeSession(w, http.StatusOK, s, s.Open(req.Open))
}

func (h *Handler) SetWallet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req WalletRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Address != "" && !common.IsHexAddress(req.Address) {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "address is not a valid address")
		return
	}
	s.SetWallet(req.Address, req.ChainID)
	h.writeSession(w, http.StatusOK, s, s.Snapshot())
}

// ToggleVault adds a validated vault, or removes it when already selected.
func (h *Handler) ToggleVault(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req VaultRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.VaultID == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "vaultId is required")
		return
	}

	st, err := s.ToggleVault(req.VaultID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, s, st)
}

func (h *Handler) RemoveVault(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	h.writeSession(w, http.StatusOK, s, s.RemoveVault(chi.URLParam(r, "vaultId")))
}

func (h *Handler) SetAllocation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req AllocationRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Percent == nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "percent is required")
		return
	}

	st, err := s.SetAllocation(chi.URLParam(r, "vaultId"), *req.Percent, req.Recompute)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, s, st)
}

func (h *Handler) SetAmount(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a decimal string")
		return
	}
	st, err := s.SetAmount(amount, req.ChainID, req.TokenAddress)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, s, st)
}

// FetchQuotes runs a quote batch synchronously and returns its report.
func (h *Handler) FetchQuotes(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	report, err := s.FetchQuotes(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ValidateDeposit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	var req DepositValidateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	balance := decimal.Zero
	if req.Balance != "" {
		var err error
		if balance, err = decimal.NewFromString(req.Balance); err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "balance must be a decimal string")
			return
		}
	}
	h.writeJSON(w, http.StatusOK, s.ValidateDeposit(req.WalletChainID, balance))
}

func (h *Handler) DepositPlan(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	steps, err := s.DepositPlan()
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "PLAN_UNAVAILABLE", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, DepositPlanDTO{SessionID: s.ID, Steps: steps})
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	limit := repository.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRunsLimit {
			h.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), s.ID, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "RUNS_UNAVAILABLE", err.Error())
		return
	}
	if runs == nil {
		runs = []repository.Run{}
	}
	h.writeJSON(w, http.StatusOK, RunsDTO{SessionID: s.ID, Items: runs})
}

// Live updates
func (h *Handler) StreamSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	h.wsHub.ServeSession(w, r, "session:"+s.ID, s)
}

func (h *Handler) SessionEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	h.sseHandler.ServeSession(w, r, "session:"+s.ID, s)
}
