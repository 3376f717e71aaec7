package port

import (
	"context"

	"github.com/rl1809/order-service/internal/core/domain"
)

type InventoryOracle interface {
	// InStock reports, for each requested SKU it knows about, whether it is
	// currently available. SKUs it cannot answer for are left out.
	InStock(ctx context.Context, skus []string) (domain.Availability, error)
}

type InventoryChecker interface {
	// Check returns the availability of skus or an error matching
	// domain.ErrInventoryUnavailable; it never blocks past its configured bound
	Check(ctx context.Context, skus []string) (domain.Availability, error)
}
