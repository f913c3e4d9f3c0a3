package ports

import (
	"context"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
)

type EventBus interface {
	Publish(ctx context.Context, events ...domain.Event) error
	// Subscribe delivers every event published on topic to handler until ctx
	// is done.
	Subscribe(ctx context.Context, topic string, handler func(domain.Event)) error
	Close() error
}
