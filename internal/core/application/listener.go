package application

import (
	"context"
	"sync"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

type (
	EnteredHandler  func(event domain.DungeonEntered)
	ResolvedHandler func(event domain.DungeonResolved)
)

// ResultListener watches the contract for the lifetime of the connection,
// publishes every decoded event to the bus and hands entry acknowledgements
// and resolutions to the registered handlers.
type ResultListener struct {
	source  ports.EventSource
	bus     ports.EventBus
	metrics ports.Metrics

	lock       *sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	onEntered  EnteredHandler
	onResolved ResolvedHandler
}

func NewResultListener(
	source ports.EventSource, bus ports.EventBus, metrics ports.Metrics,
) *ResultListener {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &ResultListener{
		source:  source,
		bus:     bus,
		metrics: metrics,
		lock:    &sync.Mutex{},
	}
}

// Subscribe installs the handlers and starts watching. Calling it again
// while subscribed is a no-op, handlers are never installed twice.
func (l *ResultListener) Subscribe(onEntered EnteredHandler, onResolved ResolvedHandler) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.cancel != nil {
		log.Debug("result listener already subscribed")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := l.source.WatchEvents(ctx)
	if err != nil {
		cancel()
		return err
	}

	l.cancel = cancel
	l.done = make(chan struct{})
	l.onEntered = onEntered
	l.onResolved = onResolved

	go l.listen(ctx, events, l.done)

	log.Debug("result listener subscribed to contract events")
	return nil
}

func (l *ResultListener) IsSubscribed() bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.cancel != nil
}

func (l *ResultListener) Close() {
	l.lock.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.lock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *ResultListener) listen(
	ctx context.Context, events <-chan domain.Event, done chan struct{},
) {
	defer close(done)

	for event := range events {
		l.handle(ctx, event)
	}
}

func (l *ResultListener) handle(ctx context.Context, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("result listener recovered from panic handling %s: %v", event.GetType(), r)
		}
	}()

	l.metrics.ChainEventReceived(event.GetType().String())

	if err := l.bus.Publish(ctx, event); err != nil {
		log.WithError(err).Warnf("failed to publish %s event", event.GetType())
	}

	switch e := event.(type) {
	case domain.DungeonEntered:
		if l.onEntered != nil {
			l.onEntered(e)
		}
	case domain.DungeonResolved:
		if l.onResolved != nil {
			l.onResolved(e)
		}
	}
}
