package application_test

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hero-dungeon/dungeond/internal/core/application"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	account     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	otherPlayer = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	heroId      = big.NewInt(3)
	entryTx     = common.HexToHash("0x0e7a1d9c4b5f6e3a2c1b0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a")
	feedIds     = mustFeedIds(
		"0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
		"0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
	)
	blobA   = []byte{0xaa, 0x01}
	blobB   = []byte{0xbb, 0x02}
	payload = domain.PriceUpdatePayload{blobA, blobB}
)

type testEnv struct {
	svc       application.Service
	oracle    *mockedOracle
	contract  *mockedContract
	bus       *memBus
	scheduler *fakeScheduler
	repo      *memRepoManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	oracle := &mockedOracle{}
	contract := newMockedContract(account)
	bus := newMemBus()
	scheduler := newFakeScheduler()
	repo := newMemRepoManager()

	contract.On("WatchEvents", mock.Anything).Return(nil).Once()
	contract.On("BalanceOf", mock.Anything, account).Return(big.NewInt(1), nil).Maybe()
	contract.On("TokenOfOwnerByIndex", mock.Anything, account, big.NewInt(0)).
		Return(heroId, nil).Maybe()
	contract.On("Close").Return().Maybe()

	svc, err := application.NewService(
		application.Config{FeedIds: feedIds, OutcomeTimeout: time.Minute},
		oracle, contract, bus, scheduler, repo, nil,
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)

	return &testEnv{svc, oracle, contract, bus, scheduler, repo}
}

func (e *testEnv) mockHappyEntry(receipt *domain.Receipt) {
	e.oracle.On("FetchPriceUpdate", mock.Anything, feedIds).Return(payload, nil).Once()
	e.contract.On("GetUpdateFee", mock.Anything, payload).Return(big.NewInt(100), nil).Once()
	e.contract.On("GetEntropyFee", mock.Anything).Return(big.NewInt(50), nil).Once()
	e.contract.On(
		"EnterDungeon", mock.Anything, heroId, payload,
		mock.MatchedBy(func(fee domain.FeeQuote) bool { return fee.String() == "150" }),
	).Return(&domain.TxHandle{Hash: entryTx, Value: big.NewInt(150)}, nil).Once()
	e.contract.On("AwaitConfirmation", mock.Anything, mock.Anything).Return(receipt, nil).Once()
}

func TestService(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		env := newTestEnv(t)
		env.mockHappyEntry(confirmedReceipt(big.NewInt(7)))

		status := env.svc.GetStatus()
		require.Equal(t, domain.IdleStage.String(), status.Stage)
		require.True(t, status.CanEnter)

		sessionId, err := env.svc.EnterDungeon(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, sessionId)

		status = env.svc.GetStatus()
		require.Equal(t, domain.AwaitingOutcomeStage.String(), status.Stage)
		require.False(t, status.CanEnter)
		require.False(t, status.CanMint)
		require.Equal(t, sessionId, status.SessionId)
		require.Zero(t, big.NewInt(7).Cmp(status.RequestId))

		_, err = env.svc.EnterDungeon(context.Background())
		require.ErrorIs(t, err, domain.ErrSessionBusy)

		env.contract.events <- resolvedEvent(big.NewInt(7), account, true, 42, false)

		attempt, err := env.svc.AwaitSession(context.Background(), sessionId)
		require.NoError(t, err)
		require.True(t, attempt.Resolved)
		require.True(t, attempt.Victory)
		require.Equal(t, "42", attempt.Loot)
		require.False(t, attempt.HeroLost)
		require.Equal(t, "150", attempt.Fee)
		require.Equal(t, domain.ResolvedStage.String(), attempt.Stage)

		status = env.svc.GetStatus()
		require.Equal(t, domain.IdleStage.String(), status.Stage)
		require.True(t, status.CanEnter)
		require.Equal(t, &domain.DungeonOutcome{
			Victory: true, Loot: big.NewInt(42), HeroLost: false,
		}, status.LastOutcome)
		require.Empty(t, status.LastError)

		resolved := env.bus.eventsOfType(domain.EventTypeSessionResolved)
		require.Len(t, resolved, 1)
		require.Len(t, env.bus.eventsOfType(domain.EventTypeDungeonResolved), 1)

		stored, err := env.repo.Get(context.Background(), sessionId)
		require.NoError(t, err)
		require.True(t, stored.Resolved)

		env.mockHappyEntry(confirmedReceipt(big.NewInt(8)))
		_, err = env.svc.EnterDungeon(context.Background())
		require.NoError(t, err)

		env.oracle.AssertExpectations(t)
	})

	t.Run("user rejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.oracle.On("FetchPriceUpdate", mock.Anything, feedIds).Return(payload, nil).Once()
		env.contract.On("GetUpdateFee", mock.Anything, payload).Return(big.NewInt(100), nil).Once()
		env.contract.On("GetEntropyFee", mock.Anything).Return(big.NewInt(50), nil).Once()
		env.contract.On("EnterDungeon", mock.Anything, heroId, payload, mock.Anything).
			Return(nil, domain.ErrUserRejected).Once()

		sessionId, err := env.svc.EnterDungeon(context.Background())
		require.ErrorIs(t, err, domain.ErrUserRejected)

		status := env.svc.GetStatus()
		require.Equal(t, domain.IdleStage.String(), status.Stage)
		require.True(t, status.CanEnter)
		require.Equal(t, "UserRejected", status.LastErrorKind)
		require.Empty(t, status.SessionId)
		require.Empty(t, status.TxHash)

		attempt, err := env.svc.AwaitSession(context.Background(), sessionId)
		require.NoError(t, err)
		require.False(t, attempt.Resolved)
		require.Equal(t, "UserRejected", attempt.ErrorKind)
		require.Equal(t, domain.AwaitingSignatureStage.String(), attempt.Stage)
		env.contract.AssertNotCalled(t, "AwaitConfirmation", mock.Anything, mock.Anything)
	})

	t.Run("oracle unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.oracle.On("FetchPriceUpdate", mock.Anything, feedIds).
			Return(nil, fmt.Errorf("%w: status 503", domain.ErrOracleUnavailable)).Once()

		_, err := env.svc.EnterDungeon(context.Background())
		require.ErrorIs(t, err, domain.ErrOracleUnavailable)

		status := env.svc.GetStatus()
		require.Equal(t, domain.IdleStage.String(), status.Stage)
		require.True(t, status.CanEnter)
		require.Equal(t, "OracleUnavailable", status.LastErrorKind)
		env.contract.AssertNotCalled(t, "GetUpdateFee", mock.Anything, mock.Anything)
		env.contract.AssertNotCalled(t, "GetEntropyFee", mock.Anything)
		env.contract.AssertNotCalled(
			t, "EnterDungeon", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		)
	})

	t.Run("short payload", func(t *testing.T) {
		env := newTestEnv(t)
		env.oracle.On("FetchPriceUpdate", mock.Anything, feedIds).
			Return(domain.PriceUpdatePayload{blobA}, nil).Once()

		_, err := env.svc.EnterDungeon(context.Background())
		require.ErrorIs(t, err, domain.ErrOracleUnavailable)
		env.contract.AssertNotCalled(t, "GetUpdateFee", mock.Anything, mock.Anything)
	})

	t.Run("fee query failed", func(t *testing.T) {
		env := newTestEnv(t)
		env.oracle.On("FetchPriceUpdate", mock.Anything, feedIds).Return(payload, nil).Once()
		env.contract.On("GetUpdateFee", mock.Anything, payload).Return(big.NewInt(100), nil).Once()
		env.contract.On("GetEntropyFee", mock.Anything).
			Return(nil, fmt.Errorf("connection refused")).Once()

		_, err := env.svc.EnterDungeon(context.Background())
		require.ErrorIs(t, err, domain.ErrFeeQueryFailed)
		require.True(t, env.svc.GetStatus().CanEnter)
		env.contract.AssertNotCalled(
			t, "EnterDungeon", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		)
	})

	t.Run("reverted", func(t *testing.T) {
		env := newTestEnv(t)
		env.oracle.On("FetchPriceUpdate", mock.Anything, feedIds).Return(payload, nil).Once()
		env.contract.On("GetUpdateFee", mock.Anything, payload).Return(big.NewInt(100), nil).Once()
		env.contract.On("GetEntropyFee", mock.Anything).Return(big.NewInt(50), nil).Once()
		env.contract.On("EnterDungeon", mock.Anything, heroId, payload, mock.Anything).
			Return(&domain.TxHandle{Hash: entryTx}, nil).Once()
		env.contract.On("AwaitConfirmation", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: tx %s", domain.ErrReverted, entryTx)).Once()

		sessionId, err := env.svc.EnterDungeon(context.Background())
		require.ErrorIs(t, err, domain.ErrReverted)

		status := env.svc.GetStatus()
		require.True(t, status.CanEnter)
		require.Equal(t, "Reverted", status.LastErrorKind)

		attempt, err := env.svc.AwaitSession(context.Background(), sessionId)
		require.NoError(t, err)
		require.Equal(t, entryTx.Hex(), attempt.TxHash)
		require.Equal(t, domain.AwaitingConfirmationStage.String(), attempt.Stage)
	})

	t.Run("no hero", func(t *testing.T) {
		oracle := &mockedOracle{}
		contract := newMockedContract(account)
		contract.On("WatchEvents", mock.Anything).Return(nil).Once()
		contract.On("BalanceOf", mock.Anything, account).Return(big.NewInt(0), nil)
		contract.On("Close").Return()

		svc, err := application.NewService(
			application.Config{FeedIds: feedIds},
			oracle, contract, newMemBus(), newFakeScheduler(), newMemRepoManager(), nil,
		)
		require.NoError(t, err)
		require.NoError(t, svc.Start())
		defer svc.Stop()

		require.False(t, svc.GetStatus().CanEnter)
		require.True(t, svc.GetStatus().CanMint)

		_, err = svc.EnterDungeon(context.Background())
		require.ErrorIs(t, err, domain.ErrNoHero)
		oracle.AssertNotCalled(t, "FetchPriceUpdate", mock.Anything, mock.Anything)
	})
}

func TestResultCorrelation(t *testing.T) {
	t.Run("stale request", func(t *testing.T) {
		env := newTestEnv(t)
		env.mockHappyEntry(confirmedReceipt(big.NewInt(7)))

		_, err := env.svc.EnterDungeon(context.Background())
		require.NoError(t, err)

		env.contract.events <- resolvedEvent(big.NewInt(6), account, true, 1, false)
		env.contract.events <- resolvedEvent(big.NewInt(7), otherPlayer, true, 1, false)

		require.Eventually(t, func() bool {
			return len(env.bus.eventsOfType(domain.EventTypeDungeonResolved)) == 2
		}, 2*time.Second, 10*time.Millisecond)

		status := env.svc.GetStatus()
		require.Equal(t, domain.AwaitingOutcomeStage.String(), status.Stage)
		require.Nil(t, status.LastOutcome)
		require.Empty(t, env.bus.eventsOfType(domain.EventTypeSessionResolved))
	})

	t.Run("request learned from event", func(t *testing.T) {
		env := newTestEnv(t)
		env.mockHappyEntry(&domain.Receipt{TxHash: entryTx, BlockNumber: 10})

		sessionId, err := env.svc.EnterDungeon(context.Background())
		require.NoError(t, err)
		require.Nil(t, env.svc.GetStatus().RequestId)

		env.contract.events <- resolvedEvent(big.NewInt(9), account, false, 0, true)
		env.contract.events <- domain.DungeonEntered{
			ChainEvent: domain.ChainEvent{
				Type: domain.EventTypeDungeonEntered, Name: "DungeonEnter", TxHash: entryTx,
			},
			RequestId: big.NewInt(9),
			Player:    account,
			HeroId:    heroId,
		}

		attempt, err := env.svc.AwaitSession(context.Background(), sessionId)
		require.NoError(t, err)
		require.True(t, attempt.Resolved)
		require.True(t, attempt.HeroLost)
		require.Equal(t, "9", attempt.RequestId)
	})

	t.Run("resolution in receipt", func(t *testing.T) {
		env := newTestEnv(t)
		receipt := confirmedReceipt(big.NewInt(11))
		resolved := resolvedEvent(big.NewInt(11), account, true, 5, false)
		receipt.Resolved = &resolved
		env.mockHappyEntry(receipt)

		sessionId, err := env.svc.EnterDungeon(context.Background())
		require.NoError(t, err)

		attempt, err := env.svc.AwaitSession(context.Background(), sessionId)
		require.NoError(t, err)
		require.True(t, attempt.Resolved)
		require.Equal(t, "5", attempt.Loot)
	})

	t.Run("outcome timeout", func(t *testing.T) {
		env := newTestEnv(t)
		env.mockHappyEntry(confirmedReceipt(big.NewInt(7)))

		sessionId, err := env.svc.EnterDungeon(context.Background())
		require.NoError(t, err)
		require.True(t, env.scheduler.fire(sessionId))

		status := env.svc.GetStatus()
		require.Equal(t, domain.IdleStage.String(), status.Stage)
		require.Equal(t, "OutcomeTimeout", status.LastErrorKind)

		env.contract.events <- resolvedEvent(big.NewInt(7), account, true, 42, false)
		require.Eventually(t, func() bool {
			return len(env.bus.eventsOfType(domain.EventTypeDungeonResolved)) == 1
		}, 2*time.Second, 10*time.Millisecond)
		require.Nil(t, env.svc.GetStatus().LastOutcome)
	})

	t.Run("reset", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.svc.Reset(context.Background()))

		env.mockHappyEntry(confirmedReceipt(big.NewInt(7)))
		sessionId, err := env.svc.EnterDungeon(context.Background())
		require.NoError(t, err)

		require.NoError(t, env.svc.Reset(context.Background()))
		require.False(t, env.scheduler.fire(sessionId))

		status := env.svc.GetStatus()
		require.True(t, status.CanEnter)
		require.Equal(t, "Abandoned", status.LastErrorKind)
	})
}

func TestResultListener(t *testing.T) {
	contract := newMockedContract(account)
	contract.On("WatchEvents", mock.Anything).Return(nil).Once()
	bus := newMemBus()

	listener := application.NewResultListener(contract, bus, nil)

	entered := make(chan domain.DungeonEntered, 4)
	resolved := make(chan domain.DungeonResolved, 4)
	onEntered := func(e domain.DungeonEntered) { entered <- e }
	onResolved := func(e domain.DungeonResolved) { resolved <- e }

	require.NoError(t, listener.Subscribe(onEntered, onResolved))
	require.NoError(t, listener.Subscribe(onEntered, onResolved))
	require.True(t, listener.IsSubscribed())

	contract.events <- domain.DungeonEntered{
		ChainEvent: domain.ChainEvent{Type: domain.EventTypeDungeonEntered},
		RequestId:  big.NewInt(1),
	}
	contract.events <- resolvedEvent(big.NewInt(1), account, true, 1, false)
	contract.events <- domain.HeroLeveledUp{
		ChainEvent: domain.ChainEvent{Type: domain.EventTypeHeroLeveledUp},
		HeroId:     heroId,
		NewLevel:   big.NewInt(2),
	}

	require.Eventually(t, func() bool {
		return len(bus.eventsOfType(domain.EventTypeHeroLeveledUp)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(t, entered, 1)
	require.Len(t, resolved, 1)

	listener.Close()
	require.False(t, listener.IsSubscribed())
	contract.AssertNumberOfCalls(t, "WatchEvents", 1)
}

func TestMarketAndHero(t *testing.T) {
	t.Run("market state", func(t *testing.T) {
		env := newTestEnv(t)
		env.contract.On("GetMarketState", mock.Anything).Return(uint8(2), nil).Once()
		env.contract.On("GetMarketState", mock.Anything).
			Return(uint8(0), fmt.Errorf("call reverted")).Once()
		env.contract.On("GetMarketState", mock.Anything).Return(uint8(7), nil).Once()

		require.Equal(t, domain.BullMarket, env.svc.GetMarketState(context.Background()))
		require.Equal(t, domain.NormalMarket, env.svc.GetMarketState(context.Background()))
		require.Equal(t, domain.NormalMarket, env.svc.GetMarketState(context.Background()))
	})

	t.Run("mint hero", func(t *testing.T) {
		env := newTestEnv(t)
		mintTx := common.HexToHash("0x01")
		env.contract.On("MintHero", mock.Anything).Return(&domain.TxHandle{Hash: mintTx}, nil).Once()
		env.contract.On("AwaitConfirmation", mock.Anything, domain.TxHandle{Hash: mintTx}).
			Return(&domain.Receipt{TxHash: mintTx, BlockNumber: 3}, nil).Once()

		hero, err := env.svc.MintHero(context.Background())
		require.NoError(t, err)
		require.True(t, hero.HasHero())
		require.Zero(t, heroId.Cmp(hero.HeroId))
	})

	t.Run("mint rejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.contract.On("MintHero", mock.Anything).Return(nil, domain.ErrUserRejected).Once()

		_, err := env.svc.MintHero(context.Background())
		require.ErrorIs(t, err, domain.ErrUserRejected)
		require.True(t, env.svc.GetStatus().CanMint)
	})

	t.Run("quote fee", func(t *testing.T) {
		env := newTestEnv(t)
		env.oracle.On("FetchPriceUpdate", mock.Anything, feedIds).Return(payload, nil).Once()
		env.contract.On("GetUpdateFee", mock.Anything, payload).Return(big.NewInt(2), nil).Once()
		env.contract.On("GetEntropyFee", mock.Anything).Return(big.NewInt(3), nil).Once()

		quote, err := env.svc.QuoteFee(context.Background())
		require.NoError(t, err)
		require.Equal(t, "5", quote.String())
		require.Equal(t, domain.IdleStage.String(), env.svc.GetStatus().Stage)
	})
}

func TestFeeCalculator(t *testing.T) {
	fixtures := []struct {
		name        string
		updateFee   *big.Int
		updateErr   error
		entropyFee  *big.Int
		entropyErr  error
		expected    string
		expectedErr error
	}{
		{name: "sum", updateFee: big.NewInt(100), entropyFee: big.NewInt(50), expected: "150"},
		{name: "zero", updateFee: big.NewInt(0), entropyFee: big.NewInt(0), expected: "0"},
		{
			name:        "update fee read fails",
			updateErr:   fmt.Errorf("execution reverted"),
			expectedErr: domain.ErrFeeQueryFailed,
		},
		{
			name:        "entropy fee read fails",
			updateFee:   big.NewInt(1),
			entropyErr:  fmt.Errorf("%w: malformed output", domain.ErrFeeQueryFailed),
			expectedErr: domain.ErrFeeQueryFailed,
		},
		{
			name:        "negative amount",
			updateFee:   big.NewInt(-1),
			entropyFee:  big.NewInt(1),
			expectedErr: domain.ErrFeeQueryFailed,
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			contract := newMockedContract(account)
			contract.On("GetUpdateFee", mock.Anything, payload).Return(f.updateFee, f.updateErr)
			contract.On("GetEntropyFee", mock.Anything).Return(f.entropyFee, f.entropyErr)

			quote, err := application.NewFeeCalculator(contract).
				ComputeFee(context.Background(), payload)
			if f.expectedErr != nil {
				require.ErrorIs(t, err, f.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, f.expected, quote.String())
		})
	}

	t.Run("empty payload", func(t *testing.T) {
		contract := newMockedContract(account)
		_, err := application.NewFeeCalculator(contract).ComputeFee(context.Background(), nil)
		require.ErrorIs(t, err, domain.ErrFeeQueryFailed)
		contract.AssertNotCalled(t, "GetUpdateFee", mock.Anything, mock.Anything)
	})
}

func confirmedReceipt(requestId *big.Int) *domain.Receipt {
	return &domain.Receipt{
		TxHash:      entryTx,
		BlockNumber: 10,
		Entered: &domain.DungeonEntered{
			ChainEvent: domain.ChainEvent{
				Type: domain.EventTypeDungeonEntered, Name: "DungeonEnter", TxHash: entryTx,
			},
			RequestId: requestId,
			Player:    account,
			HeroId:    heroId,
		},
	}
}

func resolvedEvent(
	requestId *big.Int, player common.Address, victory bool, loot int64, heroLost bool,
) domain.DungeonResolved {
	return domain.DungeonResolved{
		ChainEvent: domain.ChainEvent{
			Type: domain.EventTypeDungeonResolved,
			Name: "DungeonResult",
			TxHash: common.HexToHash(
				fmt.Sprintf("0x%064x", requestId.Int64()+1000),
			),
		},
		RequestId: requestId,
		Player:    player,
		HeroId:    heroId,
		Outcome: domain.DungeonOutcome{
			Victory: victory, Loot: big.NewInt(loot), HeroLost: heroLost,
		},
	}
}

func mustFeedIds(ids ...string) []domain.PriceFeedId {
	parsed, err := domain.ParsePriceFeedIds(ids)
	if err != nil {
		panic(err)
	}
	return parsed
}
