package ports

import (
	"context"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
)

type PriceOracle interface {
	// FetchPriceUpdate returns one blob per feed, in the given order. Errors
	// wrap domain.ErrOracleUnavailable.
	FetchPriceUpdate(
		ctx context.Context, feedIds []domain.PriceFeedId,
	) (domain.PriceUpdatePayload, error)
}
