package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
)

type FeeCalculator struct {
	reader ports.FeeReader
}

func NewFeeCalculator(reader ports.FeeReader) *FeeCalculator {
	return &FeeCalculator{reader}
}

// ComputeFee returns the fee to attach to an entry carrying the given
// payload. The quote must not be reused with any other payload.
func (c *FeeCalculator) ComputeFee(
	ctx context.Context, payload domain.PriceUpdatePayload,
) (domain.FeeQuote, error) {
	if len(payload) <= 0 {
		return domain.FeeQuote{}, fmt.Errorf(
			"%w: missing price update payload", domain.ErrFeeQueryFailed,
		)
	}

	updateFee, err := c.reader.GetUpdateFee(ctx, payload)
	if err != nil {
		return domain.FeeQuote{}, feeQueryErr("update fee", err)
	}
	entropyFee, err := c.reader.GetEntropyFee(ctx)
	if err != nil {
		return domain.FeeQuote{}, feeQueryErr("entropy fee", err)
	}

	quote, err := domain.NewFeeQuote(updateFee, entropyFee)
	if err != nil {
		return domain.FeeQuote{}, feeQueryErr("fee sum", err)
	}
	return quote, nil
}

func feeQueryErr(what string, err error) error {
	if errors.Is(err, domain.ErrFeeQueryFailed) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrFeeQueryFailed, what, err)
}
