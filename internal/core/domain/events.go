package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	SessionTopic = "dungeon_session"
	ChainTopic   = "chain"
)

type EventType int

const (
	EventTypeUndefined EventType = iota

	// Session
	EventTypeSessionStarted
	EventTypeOracleDataFetched
	EventTypeFeeComputed
	EventTypeEntrySubmitted
	EventTypeEntryConfirmed
	EventTypeRequestIdentified
	EventTypeSessionResolved
	EventTypeSessionFailed
)

const (
	// Chain
	EventTypeDungeonEntered EventType = iota + 100
	EventTypeDungeonResolved
	EventTypeHeroMinted
	EventTypeHeroLeveledUp
	EventTypeDungeonFought
	EventTypeRewardEarned
	EventTypeMarketEventTriggered
)

func (t EventType) String() string {
	switch t {
	case EventTypeSessionStarted:
		return "session_started"
	case EventTypeOracleDataFetched:
		return "oracle_data_fetched"
	case EventTypeFeeComputed:
		return "fee_computed"
	case EventTypeEntrySubmitted:
		return "entry_submitted"
	case EventTypeEntryConfirmed:
		return "entry_confirmed"
	case EventTypeRequestIdentified:
		return "request_identified"
	case EventTypeSessionResolved:
		return "session_resolved"
	case EventTypeSessionFailed:
		return "session_failed"
	case EventTypeDungeonEntered:
		return "dungeon_entered"
	case EventTypeDungeonResolved:
		return "dungeon_resolved"
	case EventTypeHeroMinted:
		return "hero_minted"
	case EventTypeHeroLeveledUp:
		return "hero_leveled_up"
	case EventTypeDungeonFought:
		return "dungeon_fought"
	case EventTypeRewardEarned:
		return "reward_earned"
	case EventTypeMarketEventTriggered:
		return "market_event_triggered"
	default:
		return "undefined"
	}
}

type Event interface {
	GetTopic() string
	GetType() EventType
}

type SessionEvent struct {
	Id   string
	Type EventType
}

func (e SessionEvent) GetTopic() string   { return SessionTopic }
func (e SessionEvent) GetType() EventType { return e.Type }

type SessionStarted struct {
	SessionEvent
	HeroId    *big.Int
	Timestamp int64
}

type OracleDataFetched struct {
	SessionEvent
	Feeds int
}

type FeeComputed struct {
	SessionEvent
	Fee FeeQuote
}

type EntrySubmitted struct {
	SessionEvent
	TxHash string
}

type EntryConfirmed struct {
	SessionEvent
	BlockNumber uint64
	RequestId   *big.Int
}

type RequestIdentified struct {
	SessionEvent
	RequestId *big.Int
}

type SessionResolved struct {
	SessionEvent
	RequestId *big.Int
	Outcome   DungeonOutcome
	Timestamp int64
}

type SessionFailed struct {
	SessionEvent
	Kind      string
	Reason    string
	Timestamp int64
}

// ChainEvent carries the log coordinates shared by every decoded contract
// event.
type ChainEvent struct {
	Type        EventType
	Name        string
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

func (e ChainEvent) GetTopic() string   { return ChainTopic }
func (e ChainEvent) GetType() EventType { return e.Type }

type DungeonEntered struct {
	ChainEvent
	RequestId *big.Int
	Player    common.Address
	HeroId    *big.Int
}

// DungeonResolved has a zero Player when the emitting protocol variant does
// not include one.
type DungeonResolved struct {
	ChainEvent
	RequestId *big.Int
	Player    common.Address
	HeroId    *big.Int
	Outcome   DungeonOutcome
}

type HeroMinted struct {
	ChainEvent
	HeroId *big.Int
	Owner  common.Address
	Level  *big.Int
}

type HeroLeveledUp struct {
	ChainEvent
	HeroId   *big.Int
	NewLevel *big.Int
}

type DungeonFought struct {
	ChainEvent
	HeroId        *big.Int
	Victory       bool
	VictoryChance *big.Int
	Market        MarketState
}

type RewardEarned struct {
	ChainEvent
	HeroId     *big.Int
	Amount     *big.Int
	MarketName string
}

type MarketEventTriggered struct {
	ChainEvent
	EventName   string
	Description string
}
