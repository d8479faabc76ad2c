package transact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/leafsii/combined-position/internal/util"
	"go.uber.org/zap"
)

// VaultFees are the deposit/withdraw fee fractions loaded for a vault context.
type VaultFees struct {
	Deposit  float64 `json:"deposit"`
	Withdraw float64 `json:"withdraw"`
}

// Client is the HTTP adapter for route discovery and quote fetching against the
// transact API. It implements RouteContextService and QuoteService.
type Client struct {
	baseURL   string
	http      *http.Client
	catalog   VaultCatalog
	readiness *Readiness
	logger    *zap.SugaredLogger

	loadTimeout time.Duration
	routeLoads  util.Group[json.RawMessage]
	feeLoads    util.Group[VaultFees]

	mu     sync.RWMutex
	modes  map[string]Mode
	routes map[ChainID]json.RawMessage
	fees   map[string]VaultFees
}

func NewClient(baseURL string, catalog VaultCatalog, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 10 * time.Second},
		catalog:     catalog,
		readiness:   NewReadiness(),
		logger:      logger,
		loadTimeout: 15 * time.Second,
		modes:       make(map[string]Mode),
		routes:      make(map[ChainID]json.RawMessage),
		fees:        make(map[string]VaultFees),
	}
}

// InitRouteContext starts loading route-provider and fee data for the vault.
// Loading continues in the background; progress is visible through the
// readiness flags.
func (c *Client) InitRouteContext(ctx context.Context, vaultID string) error {
	vault, ok := c.catalog.GetVaultByID(vaultID)
	if !ok {
		return fmt.Errorf("vault %s not found", vaultID)
	}

	c.mu.RLock()
	_, haveRoutes := c.routes[vault.ChainID]
	_, haveFees := c.fees[vaultID]
	c.mu.RUnlock()

	c.readiness.Reset(vaultID)
	if haveRoutes {
		c.readiness.SetRoutesLoaded(vaultID, true)
	} else {
		go c.loadRoutes(vaultID, vault.ChainID)
	}
	if haveFees {
		c.readiness.SetFeesLoaded(vaultID, true)
	} else {
		go c.loadFees(vaultID)
	}
	return nil
}

// loadRoutes fetches a chain's route data once no matter how many vault
// contexts on that chain are initialised concurrently.
func (c *Client) loadRoutes(vaultID string, chainID ChainID) {
	_, err, _ := c.routeLoads.Do(string(chainID), func() (json.RawMessage, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.loadTimeout)
		defer cancel()

		var routes json.RawMessage
		if err := c.getJSON(ctx, "/routes/"+url.PathEscape(string(chainID)), nil, &routes); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.routes[chainID] = routes
		c.mu.Unlock()
		return routes, nil
	})
	if err != nil {
		c.logger.Warnw("Failed to load route data", "vault", vaultID, "chain", chainID, "error", err)
		return
	}
	c.readiness.SetRoutesLoaded(vaultID, true)
}

func (c *Client) loadFees(vaultID string) {
	_, err, _ := c.feeLoads.Do(vaultID, func() (VaultFees, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.loadTimeout)
		defer cancel()

		var fees VaultFees
		if err := c.getJSON(ctx, "/fees/"+url.PathEscape(vaultID), nil, &fees); err != nil {
			return VaultFees{}, err
		}
		c.mu.Lock()
		c.fees[vaultID] = fees
		c.mu.Unlock()
		return fees, nil
	})
	if err != nil {
		c.logger.Warnw("Failed to load fee data", "vault", vaultID, "error", err)
		return
	}
	c.readiness.SetFeesLoaded(vaultID, true)
}

func (c *Client) SetMode(ctx context.Context, vaultID string, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes[vaultID] = mode
	return nil
}

func (c *Client) IsRouteDataLoaded(vaultID string) bool {
	return c.readiness.RoutesLoaded(vaultID)
}

func (c *Client) IsFeeDataLoaded(vaultID string) bool {
	return c.readiness.FeesLoaded(vaultID)
}

func (c *Client) ReadinessChanged(vaultID string) <-chan struct{} {
	return c.readiness.Changed(vaultID)
}

// Fees returns the fee data loaded for a vault context, if any.
func (c *Client) Fees(vaultID string) (VaultFees, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fees[vaultID]
	return f, ok
}

func (c *Client) DiscoverOptions(ctx context.Context, vaultID string, mode Mode) ([]Option, error) {
	if mode == "" {
		c.mu.RLock()
		mode = c.modes[vaultID]
		c.mu.RUnlock()
	}

	params := url.Values{}
	params.Set("mode", string(mode))

	var resp struct {
		Options []Option `json:"options"`
	}
	if err := c.getJSON(ctx, "/vaults/"+url.PathEscape(vaultID)+"/options", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to discover options: %w", err)
	}

	c.logger.Debugw("Discovered options", "vault", vaultID, "mode", mode, "count", len(resp.Options))
	return resp.Options, nil
}

func (c *Client) FetchQuotes(ctx context.Context, options []Option, inputs []InputAmount) ([]Quote, error) {
	body, err := json.Marshal(struct {
		Options []Option      `json:"options"`
		Inputs  []InputAmount `json:"inputs"`
	}{options, inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode quote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/quotes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Quotes []Quote `json:"quotes"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Quotes, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transact API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return errors.New(envelope.Error.Message)
	}
	return fmt.Errorf("transact API error: %d", resp.StatusCode)
}
