package handlers

import (
	"context"
	"sync"

	"github.com/hero-dungeon/dungeond/internal/core/application"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

type mockedService struct {
	mock.Mock
}

func (m *mockedService) Start() error {
	return m.Called().Error(0)
}

func (m *mockedService) Stop() {
	m.Called()
}

func (m *mockedService) EnterDungeon(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockedService) StartDungeon(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockedService) AwaitSession(
	ctx context.Context, sessionId string,
) (*domain.Attempt, error) {
	args := m.Called(ctx, sessionId)

	var res *domain.Attempt
	if a := args.Get(0); a != nil {
		res = a.(*domain.Attempt)
	}
	return res, args.Error(1)
}

func (m *mockedService) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockedService) MintHero(ctx context.Context) (*domain.HeroStatus, error) {
	args := m.Called(ctx)

	var res *domain.HeroStatus
	if a := args.Get(0); a != nil {
		res = a.(*domain.HeroStatus)
	}
	return res, args.Error(1)
}

func (m *mockedService) GetHeroStatus(ctx context.Context) (*domain.HeroStatus, error) {
	args := m.Called(ctx)

	var res *domain.HeroStatus
	if a := args.Get(0); a != nil {
		res = a.(*domain.HeroStatus)
	}
	return res, args.Error(1)
}

func (m *mockedService) GetMarketState(ctx context.Context) domain.MarketState {
	return m.Called(ctx).Get(0).(domain.MarketState)
}

func (m *mockedService) QuoteFee(ctx context.Context) (*domain.FeeQuote, error) {
	args := m.Called(ctx)

	var res *domain.FeeQuote
	if a := args.Get(0); a != nil {
		res = a.(*domain.FeeQuote)
	}
	return res, args.Error(1)
}

func (m *mockedService) GetStatus() application.Status {
	return m.Called().Get(0).(application.Status)
}

func (m *mockedService) ListAttempts(ctx context.Context, limit int) ([]domain.Attempt, error) {
	args := m.Called(ctx, limit)

	var res []domain.Attempt
	if a := args.Get(0); a != nil {
		res = a.([]domain.Attempt)
	}
	return res, args.Error(1)
}

// stubBus hands published events straight to the subscribed handlers.
type stubBus struct {
	lock     sync.Mutex
	handlers map[string][]func(domain.Event)
}

func newStubBus() *stubBus {
	return &stubBus{handlers: make(map[string][]func(domain.Event))}
}

func (b *stubBus) Publish(_ context.Context, events ...domain.Event) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, event := range events {
		for _, handler := range b.handlers[event.GetTopic()] {
			handler(event)
		}
	}
	return nil
}

func (b *stubBus) Subscribe(_ context.Context, topic string, handler func(domain.Event)) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

func (b *stubBus) Close() error {
	return nil
}
