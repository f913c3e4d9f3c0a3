package application_test

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

type mockedOracle struct {
	mock.Mock
}

func (m *mockedOracle) FetchPriceUpdate(
	ctx context.Context, feedIds []domain.PriceFeedId,
) (domain.PriceUpdatePayload, error) {
	args := m.Called(ctx, feedIds)

	var res domain.PriceUpdatePayload
	if a := args.Get(0); a != nil {
		res = a.(domain.PriceUpdatePayload)
	}
	return res, args.Error(1)
}

type mockedContract struct {
	mock.Mock
	account common.Address
	events  chan domain.Event
}

func newMockedContract(account common.Address) *mockedContract {
	return &mockedContract{account: account, events: make(chan domain.Event, 16)}
}

func (m *mockedContract) Account() common.Address {
	return m.account
}

func (m *mockedContract) GetUpdateFee(
	ctx context.Context, payload domain.PriceUpdatePayload,
) (*big.Int, error) {
	args := m.Called(ctx, payload)

	var res *big.Int
	if a := args.Get(0); a != nil {
		res = a.(*big.Int)
	}
	return res, args.Error(1)
}

func (m *mockedContract) GetEntropyFee(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)

	var res *big.Int
	if a := args.Get(0); a != nil {
		res = a.(*big.Int)
	}
	return res, args.Error(1)
}

func (m *mockedContract) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	args := m.Called(ctx, owner)

	var res *big.Int
	if a := args.Get(0); a != nil {
		res = a.(*big.Int)
	}
	return res, args.Error(1)
}

func (m *mockedContract) TokenOfOwnerByIndex(
	ctx context.Context, owner common.Address, index *big.Int,
) (*big.Int, error) {
	args := m.Called(ctx, owner, index)

	var res *big.Int
	if a := args.Get(0); a != nil {
		res = a.(*big.Int)
	}
	return res, args.Error(1)
}

func (m *mockedContract) GetMarketState(ctx context.Context) (uint8, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint8), args.Error(1)
}

func (m *mockedContract) MintHero(ctx context.Context) (*domain.TxHandle, error) {
	args := m.Called(ctx)

	var res *domain.TxHandle
	if a := args.Get(0); a != nil {
		res = a.(*domain.TxHandle)
	}
	return res, args.Error(1)
}

func (m *mockedContract) EnterDungeon(
	ctx context.Context, heroId *big.Int,
	payload domain.PriceUpdatePayload, fee domain.FeeQuote,
) (*domain.TxHandle, error) {
	args := m.Called(ctx, heroId, payload, fee)

	var res *domain.TxHandle
	if a := args.Get(0); a != nil {
		res = a.(*domain.TxHandle)
	}
	return res, args.Error(1)
}

func (m *mockedContract) AwaitConfirmation(
	ctx context.Context, handle domain.TxHandle,
) (*domain.Receipt, error) {
	args := m.Called(ctx, handle)

	var res *domain.Receipt
	if a := args.Get(0); a != nil {
		res = a.(*domain.Receipt)
	}
	return res, args.Error(1)
}

func (m *mockedContract) WatchEvents(ctx context.Context) (<-chan domain.Event, error) {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return nil, err
	}

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-m.events:
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *mockedContract) Close() {
	m.Called()
}

// memBus delivers events synchronously to its subscribers.
type memBus struct {
	lock        sync.Mutex
	subscribers map[string][]func(domain.Event)
	published   []domain.Event
}

func newMemBus() *memBus {
	return &memBus{subscribers: make(map[string][]func(domain.Event))}
}

func (b *memBus) Publish(_ context.Context, events ...domain.Event) error {
	for _, event := range events {
		b.lock.Lock()
		b.published = append(b.published, event)
		handlers := append([]func(domain.Event){}, b.subscribers[event.GetTopic()]...)
		b.lock.Unlock()

		for _, handler := range handlers {
			handler(event)
		}
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, topic string, handler func(domain.Event)) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.subscribers[topic] = append(b.subscribers[topic], handler)
	return nil
}

func (b *memBus) Close() error {
	return nil
}

func (b *memBus) eventsOfType(eventType domain.EventType) []domain.Event {
	b.lock.Lock()
	defer b.lock.Unlock()

	events := make([]domain.Event, 0)
	for _, e := range b.published {
		if e.GetType() == eventType {
			events = append(events, e)
		}
	}
	return events
}

type fakeScheduler struct {
	lock  sync.Mutex
	tasks map[string]func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[string]func())}
}

func (s *fakeScheduler) Start() {}
func (s *fakeScheduler) Stop()  {}

func (s *fakeScheduler) ScheduleTaskOnce(id string, _ time.Duration, task func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.tasks[id] = task
	return nil
}

func (s *fakeScheduler) CancelTask(id string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.tasks, id)
}

func (s *fakeScheduler) fire(id string) bool {
	s.lock.Lock()
	task, ok := s.tasks[id]
	delete(s.tasks, id)
	s.lock.Unlock()

	if ok {
		task()
	}
	return ok
}

type memRepoManager struct {
	lock     sync.Mutex
	attempts map[string]domain.Attempt
}

func newMemRepoManager() *memRepoManager {
	return &memRepoManager{attempts: make(map[string]domain.Attempt)}
}

func (r *memRepoManager) Attempts() domain.AttemptRepository { return r }
func (r *memRepoManager) Close()                             {}

func (r *memRepoManager) Add(_ context.Context, attempt domain.Attempt) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.attempts[attempt.Id] = attempt
	return nil
}

func (r *memRepoManager) Get(_ context.Context, id string) (*domain.Attempt, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	attempt, ok := r.attempts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, id)
	}
	return &attempt, nil
}

func (r *memRepoManager) List(_ context.Context, limit int) ([]domain.Attempt, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	list := make([]domain.Attempt, 0, len(r.attempts))
	for _, a := range r.attempts {
		list = append(list, a)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartedAt > list[j].StartedAt
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
