package evmchain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
)

const (
	legacyEnteredEvent  = "RandomnessRequested"
	legacyResolvedEvent = "RandomnessFulfilled"
)

var (
	errUnknownEvent      = errors.New("unknown event")
	errIncompleteOutcome = errors.New("incomplete outcome")
)

type eventKind int

const (
	kindEntered eventKind = iota
	kindResolved
	kindLegacyEntered
	kindLegacyResolved
	kindHeroMinted
	kindHeroLeveledUp
	kindVictory
	kindDefeat
	kindReward
	kindMarketEvent
)

// Field names differ between deployed contract versions.
var (
	requestIdFields = []string{"requestId", "sequenceNumber"}
	playerFields    = []string{"player", "requester", "user"}
	heroIdFields    = []string{"heroId", "tokenId"}
	victoryFields   = []string{"victory", "won"}
	lootFields      = []string{"loot", "lootAmount", "amount", "reward"}
	heroLostFields  = []string{"heroLost", "died", "permadeath"}
)

type boundEvent struct {
	abi.Event
	kind eventKind
}

type decoder struct {
	byTopic map[common.Hash]boundEvent
	topics  []common.Hash
}

func newDecoder(contractAbi *abi.ABI, entered, resolved string) (*decoder, error) {
	d := &decoder{byTopic: make(map[common.Hash]boundEvent)}

	bind := func(name string, kind eventKind, required bool) error {
		ev, ok := contractAbi.Events[name]
		if !ok {
			if required {
				return fmt.Errorf("invalid abi: missing event %s", name)
			}
			return nil
		}
		if _, ok := d.byTopic[ev.ID]; ok {
			return nil
		}
		d.byTopic[ev.ID] = boundEvent{ev, kind}
		d.topics = append(d.topics, ev.ID)
		return nil
	}

	if err := bind(entered, kindEntered, true); err != nil {
		return nil, err
	}
	if err := bind(resolved, kindResolved, true); err != nil {
		return nil, err
	}
	optional := []struct {
		name string
		kind eventKind
	}{
		{legacyEnteredEvent, kindLegacyEntered},
		{legacyResolvedEvent, kindLegacyResolved},
		{"HeroMinted", kindHeroMinted},
		{"HeroLeveledUp", kindHeroLeveledUp},
		{"DungeonVictory", kindVictory},
		{"DungeonDefeat", kindDefeat},
		{"RewardEarned", kindReward},
		{"MarketEventTriggered", kindMarketEvent},
	}
	for _, o := range optional {
		_ = bind(o.name, o.kind, false)
	}
	return d, nil
}

// needsReceipt tells whether decoding lg requires the other logs of its tx.
func (d *decoder) needsReceipt(lg types.Log) bool {
	if len(lg.Topics) <= 0 {
		return false
	}
	ev, ok := d.byTopic[lg.Topics[0]]
	return ok && ev.kind == kindLegacyResolved
}

// decode turns a contract log into a domain event. siblings are the logs of
// the same transaction, only used by the legacy fulfillment event that does
// not carry the outcome itself.
func (d *decoder) decode(lg types.Log, siblings []*types.Log) (domain.Event, error) {
	if len(lg.Topics) <= 0 {
		return nil, errUnknownEvent
	}
	ev, ok := d.byTopic[lg.Topics[0]]
	if !ok {
		return nil, errUnknownEvent
	}
	f, err := unpackLog(ev.Event, lg)
	if err != nil {
		return nil, err
	}

	base := domain.ChainEvent{
		Name:        ev.Name,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}

	switch ev.kind {
	case kindEntered, kindLegacyEntered:
		requestId, ok := f.bigInt(requestIdFields...)
		if !ok {
			return nil, fmt.Errorf("%s: missing request id", ev.Name)
		}
		player, ok := f.address(playerFields...)
		if !ok {
			return nil, fmt.Errorf("%s: missing player", ev.Name)
		}
		heroId, _ := f.bigInt(heroIdFields...)
		base.Type = domain.EventTypeDungeonEntered
		return domain.DungeonEntered{
			ChainEvent: base, RequestId: requestId, Player: player, HeroId: heroId,
		}, nil

	case kindResolved:
		requestId, ok := f.bigInt(requestIdFields...)
		if !ok {
			return nil, fmt.Errorf("%s: missing request id", ev.Name)
		}
		victory, ok := f.boolean(victoryFields...)
		if !ok {
			return nil, fmt.Errorf("%s: missing victory flag", ev.Name)
		}
		loot, ok := f.bigInt(lootFields...)
		if !ok {
			loot = big.NewInt(0)
		}
		heroLost, _ := f.boolean(heroLostFields...)
		player, _ := f.address(playerFields...)
		heroId, _ := f.bigInt(heroIdFields...)
		base.Type = domain.EventTypeDungeonResolved
		return domain.DungeonResolved{
			ChainEvent: base,
			RequestId:  requestId,
			Player:     player,
			HeroId:     heroId,
			Outcome:    domain.DungeonOutcome{Victory: victory, Loot: loot, HeroLost: heroLost},
		}, nil

	case kindLegacyResolved:
		requestId, ok := f.bigInt(requestIdFields...)
		if !ok {
			return nil, fmt.Errorf("%s: missing request id", ev.Name)
		}
		resolved, err := d.legacyOutcome(lg, siblings)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		base.Type = domain.EventTypeDungeonResolved
		resolved.ChainEvent = base
		resolved.RequestId = requestId
		return *resolved, nil

	case kindHeroMinted:
		heroId, _ := f.bigInt(heroIdFields...)
		owner, _ := f.address("owner", "to")
		level, _ := f.bigInt("level")
		base.Type = domain.EventTypeHeroMinted
		return domain.HeroMinted{ChainEvent: base, HeroId: heroId, Owner: owner, Level: level}, nil

	case kindHeroLeveledUp:
		heroId, _ := f.bigInt(heroIdFields...)
		level, _ := f.bigInt("newLevel", "level")
		base.Type = domain.EventTypeHeroLeveledUp
		return domain.HeroLeveledUp{ChainEvent: base, HeroId: heroId, NewLevel: level}, nil

	case kindVictory, kindDefeat:
		heroId, _ := f.bigInt(heroIdFields...)
		chance, _ := f.bigInt("victoryChance")
		market := domain.NormalMarket
		if v, ok := f.bigInt("marketState"); ok && v.IsUint64() && v.Uint64() <= 255 {
			market, _ = domain.ParseMarketState(uint8(v.Uint64()))
		}
		base.Type = domain.EventTypeDungeonFought
		return domain.DungeonFought{
			ChainEvent:    base,
			HeroId:        heroId,
			Victory:       ev.kind == kindVictory,
			VictoryChance: chance,
			Market:        market,
		}, nil

	case kindReward:
		heroId, _ := f.bigInt(heroIdFields...)
		amount, _ := f.bigInt("amount")
		market, _ := f.str("marketName")
		base.Type = domain.EventTypeRewardEarned
		return domain.RewardEarned{
			ChainEvent: base, HeroId: heroId, Amount: amount, MarketName: market,
		}, nil

	case kindMarketEvent:
		name, _ := f.str("eventName")
		desc, _ := f.str("description")
		base.Type = domain.EventTypeMarketEventTriggered
		return domain.MarketEventTriggered{
			ChainEvent: base, EventName: name, Description: desc,
		}, nil
	}

	return nil, errUnknownEvent
}

// legacyOutcome rebuilds the outcome of a legacy fulfillment from the
// victory or defeat event and the reward emitted in the same transaction.
// A defeat always costs the hero.
func (d *decoder) legacyOutcome(lg types.Log, siblings []*types.Log) (*domain.DungeonResolved, error) {
	var (
		fought *domain.DungeonFought
		reward *domain.RewardEarned
	)
	for _, sibling := range siblings {
		if sibling == nil || sibling.Address != lg.Address || len(sibling.Topics) <= 0 {
			continue
		}
		ev, ok := d.byTopic[sibling.Topics[0]]
		if !ok {
			continue
		}
		if ev.kind != kindVictory && ev.kind != kindDefeat && ev.kind != kindReward {
			continue
		}
		event, err := d.decode(*sibling, nil)
		if err != nil {
			continue
		}
		switch e := event.(type) {
		case domain.DungeonFought:
			if fought == nil {
				fought = &e
			}
		case domain.RewardEarned:
			if reward == nil {
				reward = &e
			}
		}
	}
	if fought == nil {
		return nil, errIncompleteOutcome
	}

	loot := big.NewInt(0)
	if reward != nil && reward.Amount != nil {
		loot = reward.Amount
	}
	return &domain.DungeonResolved{
		HeroId: fought.HeroId,
		Outcome: domain.DungeonOutcome{
			Victory:  fought.Victory,
			Loot:     loot,
			HeroLost: !fought.Victory,
		},
	}, nil
}

type fields map[string]interface{}

func unpackLog(ev abi.Event, lg types.Log) (fields, error) {
	f := make(fields)
	if err := ev.Inputs.UnpackIntoMap(f, lg.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack %s data: %s", ev.Name, err)
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(f, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse %s topics: %s", ev.Name, err)
	}
	return f, nil
}

func (f fields) bigInt(names ...string) (*big.Int, bool) {
	for _, name := range names {
		switch v := f[name].(type) {
		case *big.Int:
			if v != nil {
				return new(big.Int).Set(v), true
			}
		case uint64:
			return new(big.Int).SetUint64(v), true
		case uint32:
			return new(big.Int).SetUint64(uint64(v)), true
		case uint16:
			return new(big.Int).SetUint64(uint64(v)), true
		case uint8:
			return new(big.Int).SetUint64(uint64(v)), true
		case int64:
			return big.NewInt(v), true
		}
	}
	return nil, false
}

func (f fields) address(names ...string) (common.Address, bool) {
	for _, name := range names {
		if v, ok := f[name].(common.Address); ok {
			return v, true
		}
	}
	return common.Address{}, false
}

func (f fields) boolean(names ...string) (bool, bool) {
	for _, name := range names {
		if v, ok := f[name].(bool); ok {
			return v, true
		}
	}
	return false, false
}

func (f fields) str(names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := f[name].(string); ok {
			return v, true
		}
	}
	return "", false
}
