package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
)

// Cache holds auction read models. A miss returns nil, nil.
type Cache interface {
	SetAuction(ctx context.Context, v *domain.AuctionView) error
	GetAuction(ctx context.Context, listingID uuid.UUID) (*domain.AuctionView, error)
	Invalidate(ctx context.Context, listingID uuid.UUID) error
}
