package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
)

// GameContract is the connection to the deployed game contract on behalf of
// the signing account.
type GameContract interface {
	FeeReader
	HeroReader
	TxSubmitter
	EventSource
	Close()
}

// FeeReader errors wrap domain.ErrFeeQueryFailed.
type FeeReader interface {
	GetUpdateFee(ctx context.Context, payload domain.PriceUpdatePayload) (*big.Int, error)
	GetEntropyFee(ctx context.Context) (*big.Int, error)
}

type HeroReader interface {
	Account() common.Address
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenOfOwnerByIndex(
		ctx context.Context, owner common.Address, index *big.Int,
	) (*big.Int, error)
	GetMarketState(ctx context.Context) (uint8, error)
}

// TxSubmitter errors wrap one of domain.ErrUserRejected,
// domain.ErrSubmissionFailed or domain.ErrReverted.
type TxSubmitter interface {
	MintHero(ctx context.Context) (*domain.TxHandle, error)
	EnterDungeon(
		ctx context.Context, heroId *big.Int,
		payload domain.PriceUpdatePayload, fee domain.FeeQuote,
	) (*domain.TxHandle, error)
	// AwaitConfirmation blocks until the transaction is included.
	AwaitConfirmation(ctx context.Context, handle domain.TxHandle) (*domain.Receipt, error)
}

type EventSource interface {
	// WatchEvents streams decoded contract events until ctx is done, then
	// closes the channel.
	WatchEvents(ctx context.Context) (<-chan domain.Event, error)
}
