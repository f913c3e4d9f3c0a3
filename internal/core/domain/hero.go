package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	BearMarket MarketState = iota
	NormalMarket
	BullMarket
	ExtremeMarket
)

type MarketState uint8

func (m MarketState) String() string {
	switch m {
	case BearMarket:
		return "Bear Market"
	case BullMarket:
		return "Bull Market"
	case ExtremeMarket:
		return "Extreme Market"
	default:
		return "Normal Market"
	}
}

// ParseMarketState falls back to NormalMarket for unknown values.
func ParseMarketState(v uint8) (MarketState, bool) {
	if v > uint8(ExtremeMarket) {
		return NormalMarket, false
	}
	return MarketState(v), true
}

type HeroStatus struct {
	Owner   common.Address
	Balance *big.Int
	HeroId  *big.Int
}

func (h HeroStatus) HasHero() bool {
	return h.HeroId != nil
}

// DungeonOutcome is only ever built from an on-chain resolution event.
type DungeonOutcome struct {
	Victory  bool
	Loot     *big.Int
	HeroLost bool
}

// TxHandle identifies a submitted, not yet confirmed, transaction.
type TxHandle struct {
	Hash  common.Hash
	Nonce uint64
	Value *big.Int
}

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Entered     *DungeonEntered
	Resolved    *DungeonResolved
}
