package application

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hero-dungeon/dungeond/application"

type service struct {
	feedIds        []domain.PriceFeedId
	outcomeTimeout time.Duration

	oracle      ports.PriceOracle
	contract    ports.GameContract
	bus         ports.EventBus
	scheduler   ports.SchedulerService
	repoManager ports.RepoManager
	metrics     ports.Metrics
	fees        *FeeCalculator
	listener    *ResultListener
	early       *earlyResults
	tracer      trace.Tracer

	lock        *sync.Mutex
	session     *domain.DungeonSession
	sessionDone chan struct{}
	stageStart  time.Time
	minting     bool
	hero        *domain.HeroStatus
	lastOutcome *domain.DungeonOutcome
	lastErr     error
	lastAttempt *domain.Attempt

	stopBus context.CancelFunc
}

func NewService(
	config Config,
	oracle ports.PriceOracle, contract ports.GameContract,
	bus ports.EventBus, scheduler ports.SchedulerService,
	repoManager ports.RepoManager, metrics ports.Metrics,
) (Service, error) {
	if len(config.FeedIds) <= 0 {
		return nil, fmt.Errorf("missing price feed ids")
	}
	if config.OutcomeTimeout < 0 {
		return nil, fmt.Errorf("invalid outcome timeout %s", config.OutcomeTimeout)
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &service{
		feedIds:        append([]domain.PriceFeedId{}, config.FeedIds...),
		outcomeTimeout: config.OutcomeTimeout,
		oracle:         oracle,
		contract:       contract,
		bus:            bus,
		scheduler:      scheduler,
		repoManager:    repoManager,
		metrics:        metrics,
		fees:           NewFeeCalculator(contract),
		listener:       NewResultListener(contract, bus, metrics),
		early:          newEarlyResults(),
		tracer:         otel.Tracer(tracerName),
		lock:           &sync.Mutex{},
	}, nil
}

func (s *service) Start() error {
	s.scheduler.Start()

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.bus.Subscribe(ctx, domain.ChainTopic, s.onChainEvent); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to chain events: %s", err)
	}
	s.stopBus = cancel

	if err := s.listener.Subscribe(s.onEntered, s.onResolved); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to contract events: %s", err)
	}

	if _, err := s.refreshHero(ctx); err != nil {
		log.WithError(err).Warn("failed to fetch hero status")
	}
	return nil
}

func (s *service) Stop() {
	s.listener.Close()
	if s.stopBus != nil {
		s.stopBus()
	}
	s.scheduler.Stop()
	log.Debug("stopped scheduler")
	if err := s.bus.Close(); err != nil {
		log.WithError(err).Warn("failed to close event bus")
	}
	s.repoManager.Close()
	log.Debug("closed connection to db")
	s.contract.Close()
	log.Debug("closed connection to contract")
}

func (s *service) EnterDungeon(ctx context.Context) (string, error) {
	session, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	return session.Id, s.run(ctx, session)
}

func (s *service) StartDungeon(ctx context.Context) (string, error) {
	session, err := s.begin(ctx)
	if err != nil {
		return "", err
	}

	go func() {
		if err := s.run(context.WithoutCancel(ctx), session); err != nil {
			log.WithError(err).Warnf("dungeon attempt %s failed", session.Id)
		}
	}()
	return session.Id, nil
}

func (s *service) AwaitSession(ctx context.Context, sessionId string) (*domain.Attempt, error) {
	s.lock.Lock()
	if s.session == nil || s.session.Id != sessionId {
		defer s.lock.Unlock()
		if s.lastAttempt != nil && s.lastAttempt.Id == sessionId {
			attempt := *s.lastAttempt
			return &attempt, nil
		}
		return s.repoManager.Attempts().Get(ctx, sessionId)
	}
	session := s.session
	done := s.sessionDone
	s.lock.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	// Another attempt may have started and ended before the lock was
	// reacquired. The ended session is no longer mutated.
	if s.lastAttempt != nil && s.lastAttempt.Id == sessionId {
		attempt := *s.lastAttempt
		return &attempt, nil
	}
	attempt := domain.NewAttempt(session)
	return &attempt, nil
}

func (s *service) Reset(ctx context.Context) error {
	s.lock.Lock()
	session := s.session
	if session == nil {
		s.lock.Unlock()
		return nil
	}
	if session.Stage.Code != domain.AwaitingOutcomeStage {
		s.lock.Unlock()
		return fmt.Errorf(
			"%w: cannot reset while in %s", domain.ErrSessionBusy, session.Stage.Code,
		)
	}
	event, attempt := s.end(session, domain.ErrSessionAbandoned)
	s.lock.Unlock()

	s.publish(ctx, event)
	s.saveAttempt(attempt)
	log.Infof("abandoned dungeon attempt %s", session.Id)
	return nil
}

func (s *service) MintHero(ctx context.Context) (*domain.HeroStatus, error) {
	s.lock.Lock()
	if s.session != nil || s.minting {
		s.lock.Unlock()
		return nil, domain.ErrSessionBusy
	}
	s.minting = true
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		s.minting = false
		s.lock.Unlock()
	}()

	ctx, span := s.tracer.Start(ctx, "hero.mint")
	defer span.End()

	handle, err := s.contract.MintHero(ctx)
	if err != nil {
		recordSpanErr(span, err)
		return nil, err
	}
	log.Infof("mint hero tx %s submitted", handle.Hash)

	if _, err := s.contract.AwaitConfirmation(ctx, *handle); err != nil {
		recordSpanErr(span, err)
		return nil, err
	}
	log.Infof("mint hero tx %s confirmed", handle.Hash)

	return s.refreshHero(ctx)
}

func (s *service) GetHeroStatus(ctx context.Context) (*domain.HeroStatus, error) {
	return s.refreshHero(ctx)
}

func (s *service) GetMarketState(ctx context.Context) domain.MarketState {
	raw, err := s.contract.GetMarketState(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to get market state, assuming normal market")
		return domain.NormalMarket
	}
	state, ok := domain.ParseMarketState(raw)
	if !ok {
		log.Warnf("unknown market state %d, assuming normal market", raw)
	}
	return state
}

func (s *service) QuoteFee(ctx context.Context) (*domain.FeeQuote, error) {
	payload, err := s.fetchPriceUpdate(ctx)
	if err != nil {
		return nil, err
	}
	quote, err := s.fees.ComputeFee(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (s *service) GetStatus() Status {
	s.lock.Lock()
	defer s.lock.Unlock()

	status := Status{
		Account: s.contract.Account().Hex(),
		Stage:   domain.IdleStage.String(),
	}
	if s.hero != nil && s.hero.HeroId != nil {
		status.HeroId = new(big.Int).Set(s.hero.HeroId)
	}
	if s.session != nil {
		status.Stage = s.session.Stage.Code.String()
		status.SessionId = s.session.Id
		status.TxHash = s.session.TxHash
		if s.session.RequestId != nil {
			status.RequestId = new(big.Int).Set(s.session.RequestId)
		}
	}
	status.CanEnter = s.session == nil && !s.minting && status.HeroId != nil
	status.CanMint = s.session == nil && !s.minting
	if s.lastOutcome != nil {
		outcome := *s.lastOutcome
		status.LastOutcome = &outcome
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
		status.LastErrorKind = domain.ErrorKind(s.lastErr)
	}
	return status
}

func (s *service) ListAttempts(ctx context.Context, limit int) ([]domain.Attempt, error) {
	return s.repoManager.Attempts().List(ctx, limit)
}

// begin is the only way out of Idle.
func (s *service) begin(ctx context.Context) (*domain.DungeonSession, error) {
	s.lock.Lock()

	if s.session != nil || s.minting {
		s.lock.Unlock()
		return nil, domain.ErrSessionBusy
	}
	if s.hero == nil || !s.hero.HasHero() {
		s.lock.Unlock()
		return nil, domain.ErrNoHero
	}

	session := domain.NewDungeonSession(new(big.Int).Set(s.hero.HeroId))
	event, err := session.Start()
	if err != nil {
		s.lock.Unlock()
		return nil, err
	}
	s.session = session
	s.sessionDone = make(chan struct{})
	s.stageStart = time.Now()
	s.lastErr = nil
	s.early.clear()
	s.lock.Unlock()

	s.publish(ctx, event)
	log.Infof("started dungeon attempt %s for hero %s", session.Id, session.HeroId)
	return session, nil
}

func (s *service) run(ctx context.Context, session *domain.DungeonSession) error {
	ctx, span := s.tracer.Start(ctx, "dungeon.enter", trace.WithAttributes(
		attribute.String("session.id", session.Id),
		attribute.String("hero.id", session.HeroId.String()),
	))
	defer span.End()

	payload, err := s.fetchPriceUpdate(ctx)
	if err != nil {
		return s.fail(ctx, span, session, err)
	}
	if err := s.advance(ctx, session, func() (domain.Event, error) {
		return session.RecordOracleData(payload)
	}); err != nil {
		return s.fail(ctx, span, session, err)
	}

	fee, err := s.computeFee(ctx, payload)
	if err != nil {
		return s.fail(ctx, span, session, err)
	}
	if err := s.advance(ctx, session, func() (domain.Event, error) {
		return session.RecordFee(fee)
	}); err != nil {
		return s.fail(ctx, span, session, err)
	}

	handle, err := s.submitEntry(ctx, session.HeroId, payload, fee)
	if err != nil {
		return s.fail(ctx, span, session, err)
	}
	if err := s.advance(ctx, session, func() (domain.Event, error) {
		return session.RecordSubmission(handle.Hash.Hex())
	}); err != nil {
		return s.fail(ctx, span, session, err)
	}
	log.Infof("dungeon entry tx %s submitted with fee %s", handle.Hash, fee)

	receipt, err := s.awaitConfirmation(ctx, *handle)
	if err != nil {
		return s.fail(ctx, span, session, err)
	}
	var requestId *big.Int
	if receipt.Entered != nil {
		requestId = receipt.Entered.RequestId
	}
	if err := s.advance(ctx, session, func() (domain.Event, error) {
		return session.RecordConfirmation(receipt.BlockNumber, requestId)
	}); err != nil {
		return s.fail(ctx, span, session, err)
	}
	log.Infof(
		"dungeon entry tx %s confirmed in block %d, awaiting outcome",
		handle.Hash, receipt.BlockNumber,
	)

	s.armOutcomeTimeout(session)

	if receipt.Resolved != nil {
		s.onResolved(*receipt.Resolved)
	}
	s.drainEarlyResults(session)
	return nil
}

func (s *service) fetchPriceUpdate(ctx context.Context) (domain.PriceUpdatePayload, error) {
	ctx, span := s.tracer.Start(ctx, "oracle.fetch")
	defer span.End()

	started := time.Now()
	payload, err := s.oracle.FetchPriceUpdate(ctx, s.feedIds)
	s.metrics.OracleFetched(time.Since(started), err)
	if err != nil {
		recordSpanErr(span, err)
		return nil, err
	}
	if len(payload) != len(s.feedIds) {
		err := fmt.Errorf(
			"%w: expected %d price updates, got %d",
			domain.ErrOracleUnavailable, len(s.feedIds), len(payload),
		)
		recordSpanErr(span, err)
		return nil, err
	}
	return payload, nil
}

func (s *service) computeFee(
	ctx context.Context, payload domain.PriceUpdatePayload,
) (domain.FeeQuote, error) {
	ctx, span := s.tracer.Start(ctx, "fee.compute")
	defer span.End()

	fee, err := s.fees.ComputeFee(ctx, payload)
	if err != nil {
		recordSpanErr(span, err)
		return domain.FeeQuote{}, err
	}
	span.SetAttributes(attribute.String("fee.total", fee.String()))
	return fee, nil
}

func (s *service) submitEntry(
	ctx context.Context, heroId *big.Int,
	payload domain.PriceUpdatePayload, fee domain.FeeQuote,
) (*domain.TxHandle, error) {
	ctx, span := s.tracer.Start(ctx, "tx.submit")
	defer span.End()

	handle, err := s.contract.EnterDungeon(ctx, heroId, payload, fee)
	if err != nil {
		recordSpanErr(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.hash", handle.Hash.Hex()))
	return handle, nil
}

func (s *service) awaitConfirmation(
	ctx context.Context, handle domain.TxHandle,
) (*domain.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "tx.confirm", trace.WithAttributes(
		attribute.String("tx.hash", handle.Hash.Hex()),
	))
	defer span.End()

	receipt, err := s.contract.AwaitConfirmation(ctx, handle)
	if err != nil {
		recordSpanErr(span, err)
		return nil, err
	}
	return receipt, nil
}

// advance applies a forward transition to the tracked session and publishes
// the resulting event.
func (s *service) advance(
	ctx context.Context, session *domain.DungeonSession,
	transition func() (domain.Event, error),
) error {
	s.lock.Lock()
	if s.session != session {
		s.lock.Unlock()
		return fmt.Errorf("dungeon attempt %s is no longer tracked", session.Id)
	}
	from := session.Stage.Code
	event, err := transition()
	if err != nil {
		s.lock.Unlock()
		return err
	}
	elapsed := time.Since(s.stageStart)
	s.stageStart = time.Now()
	s.lock.Unlock()

	s.metrics.StageCompleted(from.String(), elapsed)
	log.Debugf("dungeon attempt %s moved from %s to %s", session.Id, from, session.Stage.Code)
	s.publish(ctx, event)
	return nil
}

func (s *service) fail(
	ctx context.Context, span trace.Span, session *domain.DungeonSession, err error,
) error {
	recordSpanErr(span, err)

	s.lock.Lock()
	if s.session != session {
		s.lock.Unlock()
		return err
	}
	event, attempt := s.end(session, err)
	s.lock.Unlock()

	s.publish(ctx, event)
	s.saveAttempt(attempt)
	log.WithError(err).Warnf(
		"dungeon attempt %s failed at %s (%s)",
		session.Id, session.Stage.Code, domain.ErrorKind(err),
	)
	return err
}

// end moves the tracked session to a terminal state and brings the service
// back to Idle. Must be called with the lock held; err nil means resolved.
func (s *service) end(
	session *domain.DungeonSession, err error,
) (domain.Event, domain.Attempt) {
	var event domain.Event
	if err != nil {
		event = session.Fail(err)
		s.lastErr = err
		s.metrics.AttemptEnded(domain.ErrorKind(err))
	} else {
		events := session.Events()
		event = events[len(events)-1]
		outcome := *session.Outcome
		s.lastOutcome = &outcome
		s.lastErr = nil
		s.metrics.AttemptEnded("Resolved")
	}

	s.scheduler.CancelTask(session.Id)
	attempt := domain.NewAttempt(session)
	s.lastAttempt = &attempt
	s.session = nil
	close(s.sessionDone)
	s.early.clear()
	return event, attempt
}

func (s *service) armOutcomeTimeout(session *domain.DungeonSession) {
	if s.outcomeTimeout <= 0 {
		return
	}
	sessionId := session.Id
	if err := s.scheduler.ScheduleTaskOnce(sessionId, s.outcomeTimeout, func() {
		s.expire(sessionId)
	}); err != nil {
		log.WithError(err).Warnf(
			"failed to schedule outcome timeout for attempt %s, waiting indefinitely",
			sessionId,
		)
	}
}

func (s *service) expire(sessionId string) {
	s.lock.Lock()
	session := s.session
	if session == nil || session.Id != sessionId ||
		session.Stage.Code != domain.AwaitingOutcomeStage {
		s.lock.Unlock()
		return
	}
	event, attempt := s.end(session, domain.ErrOutcomeTimeout)
	s.lock.Unlock()

	s.publish(context.Background(), event)
	s.saveAttempt(attempt)
	log.Warnf(
		"dungeon attempt %s timed out after %s waiting for request %s",
		sessionId, s.outcomeTimeout, session.RequestId,
	)
}

func (s *service) onEntered(event domain.DungeonEntered) {
	account := s.contract.Account()
	if event.Player != account {
		s.ignore(event.ChainEvent, "other player")
		return
	}

	s.lock.Lock()
	session := s.session
	if session == nil || !session.IsInFlight() {
		s.lock.Unlock()
		s.ignore(event.ChainEvent, "no dungeon attempt in flight")
		return
	}
	if session.TxHash == "" || session.TxHash != event.TxHash.Hex() {
		s.lock.Unlock()
		s.ignore(event.ChainEvent, "entry not submitted by this attempt")
		return
	}
	identified, err := session.Identify(event.RequestId)
	s.lock.Unlock()

	if err != nil {
		log.WithError(err).Warnf("failed to identify request for attempt %s", session.Id)
		return
	}
	if identified != nil {
		log.Debugf("dungeon attempt %s waits on request %s", session.Id, event.RequestId)
		s.publish(context.Background(), identified)
	}
	s.drainEarlyResults(session)
}

func (s *service) onResolved(event domain.DungeonResolved) {
	account := s.contract.Account()
	if event.Player != (common.Address{}) && event.Player != account {
		s.ignore(event.ChainEvent, "other player")
		return
	}

	s.lock.Lock()
	session := s.session
	if session == nil || !session.IsInFlight() {
		s.lock.Unlock()
		s.ignore(event.ChainEvent, "no dungeon attempt in flight")
		return
	}
	if session.Stage.Code != domain.AwaitingOutcomeStage || session.RequestId == nil {
		s.lock.Unlock()
		s.early.push(event)
		log.Debugf(
			"stashed result for request %s until attempt %s knows its request",
			event.RequestId, session.Id,
		)
		return
	}
	if !session.IsOutstanding(event.RequestId) {
		s.lock.Unlock()
		s.ignore(event.ChainEvent, "stale request")
		return
	}
	s.resolve(session, event)
}

// resolve must be called with the lock held, it releases it.
func (s *service) resolve(session *domain.DungeonSession, event domain.DungeonResolved) {
	if _, err := session.Resolve(event.RequestId, event.Outcome); err != nil {
		s.lock.Unlock()
		log.WithError(err).Warnf("failed to resolve attempt %s", session.Id)
		return
	}
	resolved, attempt := s.end(session, nil)
	s.lock.Unlock()

	s.publish(context.Background(), resolved)
	s.saveAttempt(attempt)
	log.Infof(
		"dungeon attempt %s resolved: victory=%t loot=%s hero_lost=%t",
		session.Id, event.Outcome.Victory, event.Outcome.Loot, event.Outcome.HeroLost,
	)
}

func (s *service) drainEarlyResults(session *domain.DungeonSession) {
	if s.early.len() <= 0 {
		return
	}

	s.lock.Lock()
	if s.session != session || session.Stage.Code != domain.AwaitingOutcomeStage {
		s.lock.Unlock()
		return
	}
	result, ok := s.early.pop(session)
	if !ok {
		s.lock.Unlock()
		return
	}
	s.resolve(session, *result)
}

func (s *service) onChainEvent(event domain.Event) {
	account := s.contract.Account()

	s.lock.Lock()
	var heroId *big.Int
	if s.hero != nil {
		heroId = s.hero.HeroId
	}
	s.lock.Unlock()

	refresh := false
	switch e := event.(type) {
	case domain.HeroMinted:
		log.Infof("hero %s minted for %s at level %s", e.HeroId, e.Owner, e.Level)
		refresh = e.Owner == account
	case domain.HeroLeveledUp:
		log.Infof("hero %s leveled up to %s", e.HeroId, e.NewLevel)
		refresh = sameId(heroId, e.HeroId)
	case domain.DungeonFought:
		result := "defeat"
		if e.Victory {
			result = "victory"
		}
		log.Infof(
			"dungeon %s for hero %s with %s%% chance in %s",
			result, e.HeroId, e.VictoryChance, e.Market,
		)
		refresh = sameId(heroId, e.HeroId)
	case domain.DungeonResolved:
		if e.Outcome.HeroLost {
			log.Infof("hero %s was lost in the dungeon", e.HeroId)
		}
		refresh = e.Player == account || sameId(heroId, e.HeroId)
	case domain.RewardEarned:
		log.Infof("hero %s earned %s in %s", e.HeroId, e.Amount, e.MarketName)
	case domain.MarketEventTriggered:
		log.Infof("market event %s: %s", e.EventName, e.Description)
	}

	if refresh {
		if _, err := s.refreshHero(context.Background()); err != nil {
			log.WithError(err).Warn("failed to refresh hero status")
		}
	}
}

func (s *service) refreshHero(ctx context.Context) (*domain.HeroStatus, error) {
	account := s.contract.Account()
	balance, err := s.contract.BalanceOf(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get hero balance: %w", err)
	}

	status := domain.HeroStatus{Owner: account, Balance: balance}
	if balance.Sign() > 0 {
		heroId, err := s.contract.TokenOfOwnerByIndex(ctx, account, big.NewInt(0))
		if err != nil {
			return nil, fmt.Errorf("failed to get hero id: %w", err)
		}
		status.HeroId = heroId
	}

	s.lock.Lock()
	s.hero = &status
	s.lock.Unlock()

	return &status, nil
}

func (s *service) ignore(event domain.ChainEvent, reason string) {
	s.metrics.ChainEventIgnored(reason)
	log.WithError(domain.ErrEventCorrelationMismatch).Debugf(
		"ignored %s event from tx %s: %s", event.Name, event.TxHash, reason,
	)
}

func (s *service) publish(ctx context.Context, events ...domain.Event) {
	if err := s.bus.Publish(ctx, events...); err != nil {
		log.WithError(err).Warn("failed to publish session events")
	}
}

func (s *service) saveAttempt(attempt domain.Attempt) {
	if err := s.repoManager.Attempts().Add(context.Background(), attempt); err != nil {
		log.WithError(err).Warnf("failed to store attempt %s", attempt.Id)
	}
}

func recordSpanErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, domain.ErrorKind(err))
}

func sameId(a, b *big.Int) bool {
	return a != nil && b != nil && a.Cmp(b) == 0
}
