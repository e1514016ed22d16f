package cache

import (
	"context"
	"time"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/domain"
)

// OverviewCache holds rendered stock overview snapshots. The ledger is the
// source of truth; a stale or missing snapshot only costs a recompute.
type OverviewCache interface {
	Get(ctx context.Context, key string) (*domain.StockOverview, bool, error)
	Set(ctx context.Context, key string, value *domain.StockOverview, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopOverviewCache struct{}

func (NoopOverviewCache) Get(_ context.Context, _ string) (*domain.StockOverview, bool, error) {
	return nil, false, nil
}

func (NoopOverviewCache) Set(_ context.Context, _ string, _ *domain.StockOverview, _ time.Duration) error {
	return nil
}

func (NoopOverviewCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
