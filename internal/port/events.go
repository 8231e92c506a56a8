package port

import (
	"context"

	"github.com/minhpham/flashsale/internal/core/domain"
)

type PurchasePublisher interface {
	// PublishPurchase announces a finalized purchase to downstream
	// order/shipping consumers. Best effort: a publish failure never undoes
	// the purchase.
	PublishPurchase(ctx context.Context, rec domain.PurchaseRecord) error
}
