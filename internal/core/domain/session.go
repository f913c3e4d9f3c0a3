package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	IdleStage SessionStage = iota
	FetchingOracleDataStage
	ComputingFeeStage
	AwaitingSignatureStage
	AwaitingConfirmationStage
	AwaitingOutcomeStage
	ResolvedStage
)

type SessionStage int

func (s SessionStage) String() string {
	switch s {
	case FetchingOracleDataStage:
		return "FETCHING_ORACLE_DATA_STAGE"
	case ComputingFeeStage:
		return "COMPUTING_FEE_STAGE"
	case AwaitingSignatureStage:
		return "AWAITING_SIGNATURE_STAGE"
	case AwaitingConfirmationStage:
		return "AWAITING_CONFIRMATION_STAGE"
	case AwaitingOutcomeStage:
		return "AWAITING_OUTCOME_STAGE"
	case ResolvedStage:
		return "RESOLVED_STAGE"
	default:
		return "IDLE_STAGE"
	}
}

type Stage struct {
	Code   SessionStage
	Failed bool
}

// DungeonSession tracks a single dungeon entry attempt from the moment it
// leaves Idle until it is resolved or fails.
type DungeonSession struct {
	Id                string
	Stage             Stage
	HeroId            *big.Int
	Feeds             int
	Fee               *FeeQuote
	TxHash            string
	BlockNumber       uint64
	RequestId         *big.Int
	Outcome           *DungeonOutcome
	FailKind          string
	FailReason        string
	StartingTimestamp int64
	EndingTimestamp   int64
	Version           uint
	changes           []Event
}

func NewDungeonSession(heroId *big.Int) *DungeonSession {
	return &DungeonSession{
		Id:      uuid.New().String(),
		HeroId:  heroId,
		changes: make([]Event, 0),
	}
}

func NewDungeonSessionFromEvents(events []Event) *DungeonSession {
	s := &DungeonSession{}

	for _, event := range events {
		s.on(event, true)
	}

	s.changes = append([]Event{}, events...)

	return s
}

func (s *DungeonSession) Start() (Event, error) {
	if s.Stage.Failed || s.Stage.Code != IdleStage {
		return nil, fmt.Errorf("not in a valid stage to start dungeon session")
	}
	if s.HeroId == nil {
		return nil, ErrNoHero
	}

	event := SessionStarted{
		SessionEvent: SessionEvent{Id: s.Id, Type: EventTypeSessionStarted},
		HeroId:       new(big.Int).Set(s.HeroId),
		Timestamp:    time.Now().Unix(),
	}
	s.raise(event)
	return event, nil
}

func (s *DungeonSession) RecordOracleData(payload PriceUpdatePayload) (Event, error) {
	if !s.isAt(FetchingOracleDataStage) {
		return nil, fmt.Errorf("not in a valid stage to record oracle data")
	}
	if len(payload) <= 0 {
		return nil, fmt.Errorf("missing price update payload")
	}

	event := OracleDataFetched{
		SessionEvent: SessionEvent{Id: s.Id, Type: EventTypeOracleDataFetched},
		Feeds:        len(payload),
	}
	s.raise(event)
	return event, nil
}

func (s *DungeonSession) RecordFee(fee FeeQuote) (Event, error) {
	if !s.isAt(ComputingFeeStage) {
		return nil, fmt.Errorf("not in a valid stage to record fee")
	}

	event := FeeComputed{
		SessionEvent: SessionEvent{Id: s.Id, Type: EventTypeFeeComputed},
		Fee:          fee,
	}
	s.raise(event)
	return event, nil
}

func (s *DungeonSession) RecordSubmission(txHash string) (Event, error) {
	if !s.isAt(AwaitingSignatureStage) {
		return nil, fmt.Errorf("not in a valid stage to record submission")
	}
	if txHash == "" {
		return nil, fmt.Errorf("missing tx hash")
	}

	event := EntrySubmitted{
		SessionEvent: SessionEvent{Id: s.Id, Type: EventTypeEntrySubmitted},
		TxHash:       txHash,
	}
	s.raise(event)
	return event, nil
}

// RecordConfirmation moves the session to AwaitingOutcome. The request id
// may be nil when the receipt did not carry the entered event, in which case
// it is learned later through Identify.
func (s *DungeonSession) RecordConfirmation(
	blockNumber uint64, requestId *big.Int,
) (Event, error) {
	if !s.isAt(AwaitingConfirmationStage) {
		return nil, fmt.Errorf("not in a valid stage to record confirmation")
	}

	event := EntryConfirmed{
		SessionEvent: SessionEvent{Id: s.Id, Type: EventTypeEntryConfirmed},
		BlockNumber:  blockNumber,
		RequestId:    copyInt(requestId),
	}
	s.raise(event)
	return event, nil
}

func (s *DungeonSession) Identify(requestId *big.Int) (Event, error) {
	if requestId == nil {
		return nil, fmt.Errorf("missing request id")
	}
	if !s.isAt(AwaitingConfirmationStage) && !s.isAt(AwaitingOutcomeStage) {
		return nil, fmt.Errorf("not in a valid stage to identify request")
	}
	if s.RequestId != nil {
		if s.RequestId.Cmp(requestId) != 0 {
			return nil, fmt.Errorf(
				"%w: request already identified as %s, got %s",
				ErrEventCorrelationMismatch, s.RequestId, requestId,
			)
		}
		return nil, nil
	}

	event := RequestIdentified{
		SessionEvent: SessionEvent{Id: s.Id, Type: EventTypeRequestIdentified},
		RequestId:    new(big.Int).Set(requestId),
	}
	s.raise(event)
	return event, nil
}

func (s *DungeonSession) Resolve(requestId *big.Int, outcome DungeonOutcome) (Event, error) {
	if !s.isAt(AwaitingOutcomeStage) {
		return nil, fmt.Errorf("not in a valid stage to resolve dungeon session")
	}
	if !s.IsOutstanding(requestId) {
		return nil, fmt.Errorf(
			"%w: request %s is not outstanding", ErrEventCorrelationMismatch, requestId,
		)
	}

	event := SessionResolved{
		SessionEvent: SessionEvent{Id: s.Id, Type: EventTypeSessionResolved},
		RequestId:    new(big.Int).Set(requestId),
		Outcome:      outcome,
		Timestamp:    time.Now().Unix(),
	}
	s.raise(event)
	return event, nil
}

func (s *DungeonSession) Fail(err error) Event {
	event := SessionFailed{
		SessionEvent: SessionEvent{Id: s.Id, Type: EventTypeSessionFailed},
		Kind:         ErrorKind(err),
		Reason:       err.Error(),
		Timestamp:    time.Now().Unix(),
	}
	s.raise(event)
	return event
}

// IsOutstanding returns whether the given request id is the one this session
// is waiting on.
func (s *DungeonSession) IsOutstanding(requestId *big.Int) bool {
	return s.RequestId != nil && requestId != nil && s.RequestId.Cmp(requestId) == 0
}

func (s *DungeonSession) IsInFlight() bool {
	return !s.Stage.Failed &&
		s.Stage.Code > IdleStage && s.Stage.Code < ResolvedStage
}

func (s *DungeonSession) IsResolved() bool {
	return !s.Stage.Failed && s.Stage.Code == ResolvedStage
}

func (s *DungeonSession) IsFailed() bool {
	return s.Stage.Failed
}

func (s *DungeonSession) IsEnded() bool {
	return s.IsFailed() || s.IsResolved()
}

func (s *DungeonSession) Events() []Event {
	return s.changes
}

func (s *DungeonSession) isAt(stage SessionStage) bool {
	return !s.Stage.Failed && s.Stage.Code == stage
}

func (s *DungeonSession) on(event Event, replayed bool) {
	switch e := event.(type) {
	case SessionStarted:
		s.Stage.Code = FetchingOracleDataStage
		s.Id = e.Id
		s.HeroId = e.HeroId
		s.StartingTimestamp = e.Timestamp
	case OracleDataFetched:
		s.Stage.Code = ComputingFeeStage
		s.Feeds = e.Feeds
	case FeeComputed:
		s.Stage.Code = AwaitingSignatureStage
		fee := e.Fee
		s.Fee = &fee
	case EntrySubmitted:
		s.Stage.Code = AwaitingConfirmationStage
		s.TxHash = e.TxHash
	case EntryConfirmed:
		s.Stage.Code = AwaitingOutcomeStage
		s.BlockNumber = e.BlockNumber
		if e.RequestId != nil {
			s.RequestId = e.RequestId
		}
	case RequestIdentified:
		s.RequestId = e.RequestId
	case SessionResolved:
		s.Stage.Code = ResolvedStage
		outcome := e.Outcome
		s.Outcome = &outcome
		s.EndingTimestamp = e.Timestamp
	case SessionFailed:
		s.Stage.Failed = true
		s.FailKind = e.Kind
		s.FailReason = e.Reason
		s.EndingTimestamp = e.Timestamp
	}

	if replayed {
		s.Version++
	}
}

func (s *DungeonSession) raise(event Event) {
	if s.changes == nil {
		s.changes = make([]Event, 0)
	}
	s.changes = append(s.changes, event)
	s.on(event, false)
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
