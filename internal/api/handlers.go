package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leafsii/combined-position/internal/catalog"
	"github.com/leafsii/combined-position/internal/position"
	"github.com/leafsii/combined-position/internal/prices"
	"github.com/leafsii/combined-position/internal/quotes"
	"github.com/leafsii/combined-position/internal/repository"
	"github.com/leafsii/combined-position/internal/session"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/leafsii/combined-position/internal/ws"
	"go.uber.org/zap"
)

const readinessProbeTimeout = 2 * time.Second

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// PriceLookup resolves the USD price of a catalog token.
type PriceLookup interface {
	Lookup(ctx context.Context, chainID transact.ChainID, address string) (prices.CachedPrice, error)
}

// RunHistory lists recorded quote batches.
type RunHistory interface {
	ListRuns(ctx context.Context, sessionID string, limit int) ([]repository.Run, error)
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	sessions   *session.Manager
	catalog    *catalog.Catalog
	prices     PriceLookup
	runs       RunHistory
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	checks     map[string]Pinger
	logger     *zap.SugaredLogger
}

func NewHandler(
	sessions *session.Manager,
	catalog *catalog.Catalog,
	prices PriceLookup,
	runs RunHistory,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	checks map[string]Pinger,
	logger *zap.SugaredLogger,
) *Handler {
	if runs == nil {
		runs = repository.NoopRecorder{}
	}
	return &Handler{
		sessions:   sessions,
		catalog:    catalog,
		prices:     prices,
		runs:       runs,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		checks:     checks,
		logger:     logger,
	}
}

// Catalog endpoints
func (h *Handler) ListVaults(w http.ResponseWriter, r *http.Request) {
	chainID := transact.ChainID(r.URL.Query().Get("chainId"))
	h.writeJSON(w, http.StatusOK, VaultsDTO{Vaults: h.catalog.Vaults(chainID)})
}

func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	chainID := transact.ChainID(r.URL.Query().Get("chainId"))
	tokens := h.catalog.Tokens()
	if chainID != "" {
		filtered := tokens[:0]
		for _, t := range tokens {
			if t.ChainID == chainID {
				filtered = append(filtered, t)
			}
		}
		tokens = filtered
	}
	h.writeJSON(w, http.StatusOK, TokensDTO{Tokens: tokens})
}

func (h *Handler) ListChains(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, ChainsDTO{Chains: h.catalog.Chains()})
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	chainID := transact.ChainID(chi.URLParam(r, "chain"))
	address := chi.URLParam(r, "address")

	price, err := h.prices.Lookup(r.Context(), chainID, address)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, PriceDTO{
		ChainID:   chainID,
		Address:   address,
		Symbol:    price.Symbol,
		Price:     price.Price,
		Source:    price.Source,
		UpdatedAt: price.UpdatedAt,
	})
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessProbeTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	dto := HealthDTO{Status: "ready", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			h.logger.Warnw("Readiness check failed", "check", name, "error", err)
			dto.Checks[name] = err.Error()
			dto.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		dto.Checks[name] = "ok"
	}
	h.writeJSON(w, status, dto)
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}

// writeDomainError maps the sentinel errors of the session layer to HTTP.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		h.writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrVaultNotFound):
		h.writeError(w, http.StatusNotFound, "VAULT_NOT_FOUND", err.Error())
	case errors.Is(err, position.ErrUnknownVault):
		h.writeError(w, http.StatusNotFound, "VAULT_NOT_SELECTED", err.Error())
	case errors.Is(err, position.ErrVaultLimit):
		h.writeError(w, http.StatusConflict, "VAULT_LIMIT", err.Error())
	case errors.Is(err, position.ErrWrongChain):
		h.writeError(w, http.StatusConflict, "WRONG_CHAIN", err.Error())
	case errors.Is(err, position.ErrMultiLPNotAllowed):
		h.writeError(w, http.StatusConflict, "MULTI_LP_NOT_ALLOWED", err.Error())
	case errors.Is(err, session.ErrUnknownToken):
		h.writeError(w, http.StatusBadRequest, "UNKNOWN_TOKEN", err.Error())
	case errors.Is(err, session.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, quotes.ErrMissingQuoteInputs):
		h.writeError(w, http.StatusUnprocessableEntity, "MISSING_QUOTE_INPUTS", err.Error())
	case errors.Is(err, prices.ErrUnknownToken):
		h.writeError(w, http.StatusNotFound, "PRICE_NOT_FOUND", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.writeError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON request body: "+err.Error())
		return false
	}
	return true
}
