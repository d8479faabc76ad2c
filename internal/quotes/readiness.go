package quotes

import (
	"context"
	"time"

	"github.com/leafsii/combined-position/internal/transact"
	"go.uber.org/zap"
)

const DefaultReadinessTimeout = 7000 * time.Millisecond

// Gate blocks route discovery for a vault until its route and fee data are
// loaded. It is best effort: a timeout lets the caller continue.
type Gate struct {
	routes  transact.RouteContextService
	timeout time.Duration
	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewGate(routes transact.RouteContextService, timeout time.Duration, metrics Metrics, logger *zap.SugaredLogger) *Gate {
	if timeout <= 0 {
		timeout = DefaultReadinessTimeout
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Gate{
		routes:  routes,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

func (g *Gate) ready(vaultID string) bool {
	return g.routes.IsRouteDataLoaded(vaultID) && g.routes.IsFeeDataLoaded(vaultID)
}

// Wait reports whether both flags became true before the timeout or ctx ended.
func (g *Gate) Wait(ctx context.Context, vaultID string) bool {
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	for {
		// Grab the channel before reading the flags so a change in between still wakes us.
		changed := g.routes.ReadinessChanged(vaultID)
		if g.ready(vaultID) {
			return true
		}

		select {
		case <-changed:
		case <-timer.C:
			g.metrics.RecordReadinessTimeout(ctx)
			g.logger.Warnw("Route context not ready, continuing",
				"vault", vaultID,
				"timeout", g.timeout,
				"routesLoaded", g.routes.IsRouteDataLoaded(vaultID),
				"feesLoaded", g.routes.IsFeeDataLoaded(vaultID),
			)
			return false
		case <-ctx.Done():
			return false
		}
	}
}
