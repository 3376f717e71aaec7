package port

import (
	"context"

	"github.com/rl1809/order-service/internal/core/domain"
)

type OrderStore interface {
	// Save persists the order and all its lines in one transaction and
	// returns a copy carrying the assigned identity
	Save(ctx context.Context, order domain.Order) (domain.Order, error)

	// ExistsByID reports whether an order with the given identity exists
	ExistsByID(ctx context.Context, id int64) (bool, error)

	// FindByID returns domain.ErrNotFound when no order has the given identity
	FindByID(ctx context.Context, id int64) (domain.Order, error)

	// DeleteByID removes the order and its lines
	DeleteByID(ctx context.Context, id int64) error

	// FindAll returns every order, oldest first
	FindAll(ctx context.Context) ([]domain.Order, error)
}
