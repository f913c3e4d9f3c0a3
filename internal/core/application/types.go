package application

import (
	"context"
	"math/big"
	"time"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
)

type Service interface {
	Start() error
	Stop()
	// EnterDungeon runs an attempt until its transaction is confirmed and
	// returns the session id. The outcome arrives later, see AwaitSession.
	EnterDungeon(ctx context.Context) (string, error)
	// StartDungeon accepts an attempt and runs it in the background.
	StartDungeon(ctx context.Context) (string, error)
	AwaitSession(ctx context.Context, sessionId string) (*domain.Attempt, error)
	Reset(ctx context.Context) error
	MintHero(ctx context.Context) (*domain.HeroStatus, error)
	GetHeroStatus(ctx context.Context) (*domain.HeroStatus, error)
	GetMarketState(ctx context.Context) domain.MarketState
	QuoteFee(ctx context.Context) (*domain.FeeQuote, error)
	GetStatus() Status
	ListAttempts(ctx context.Context, limit int) ([]domain.Attempt, error)
}

type Config struct {
	FeedIds        []domain.PriceFeedId
	OutcomeTimeout time.Duration
}

// Status is a snapshot of the session state, used to gate the entry and
// mint affordances.
type Status struct {
	Account       string
	Stage         string
	CanEnter      bool
	CanMint       bool
	SessionId     string
	HeroId        *big.Int
	RequestId     *big.Int
	TxHash        string
	LastOutcome   *domain.DungeonOutcome
	LastError     string
	LastErrorKind string
}
