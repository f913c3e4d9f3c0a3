package evmchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

const eventsBufferSize = 128

// WatchEvents subscribes to the contract logs. Nodes without subscription
// support, or a subscription that breaks, are served by polling.
func (c *contract) WatchEvents(ctx context.Context) (<-chan domain.Event, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.cfg.ContractAddress},
		Topics:    [][]common.Hash{c.decoder.topics},
	}

	logs := make(chan types.Log, eventsBufferSize)
	sub, err := c.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, fmt.Errorf("failed to subscribe to contract logs: %s", err)
		}
		log.Infof(
			"node does not support log subscriptions, polling every %s",
			c.cfg.LogPollInterval,
		)
		sub = nil
	}

	// Polling resumes from the head seen at subscribe time when the
	// subscription drops before delivering anything.
	var subscribedAt uint64
	if sub != nil {
		if head, err := c.client.HeaderByNumber(ctx, nil); err == nil && head != nil {
			subscribedAt = head.Number.Uint64()
		} else {
			log.WithError(err).Debug("failed to get chain head at subscribe time")
		}
	}

	out := make(chan domain.Event, eventsBufferSize)
	go func() {
		defer close(out)

		var next uint64
		if sub != nil {
			next = c.streamLogs(ctx, sub, subscribedAt, logs, out)
			if ctx.Err() != nil {
				return
			}
		}
		c.pollLogs(ctx, query, next, out)
	}()

	return out, nil
}

// streamLogs returns the block to resume from once the subscription ends.
func (c *contract) streamLogs(
	ctx context.Context, sub ethereum.Subscription, from uint64,
	logs <-chan types.Log, out chan<- domain.Event,
) uint64 {
	defer sub.Unsubscribe()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return 0
		case err := <-sub.Err():
			log.WithError(err).Warn("log subscription dropped, falling back to polling")
			if last > 0 {
				return last + 1
			}
			return from
		case lg := <-logs:
			if lg.BlockNumber > last {
				last = lg.BlockNumber
			}
			if !c.emit(ctx, lg, out) {
				return 0
			}
		}
	}
}

// pollLogs starts from the current head when from is zero.
func (c *contract) pollLogs(
	ctx context.Context, query ethereum.FilterQuery, from uint64, out chan<- domain.Event,
) {
	ticker := time.NewTicker(c.cfg.LogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := c.client.HeaderByNumber(ctx, nil)
		if err != nil || head == nil {
			log.WithError(err).Debug("failed to get chain head")
			continue
		}
		if from == 0 {
			from = head.Number.Uint64()
		}
		if head.Number.Uint64() < from {
			continue
		}

		query.FromBlock = new(big.Int).SetUint64(from)
		query.ToBlock = new(big.Int).Set(head.Number)
		logs, err := c.client.FilterLogs(ctx, query)
		if err != nil {
			log.WithError(err).Warnf("failed to poll contract logs from block %d", from)
			continue
		}
		for _, lg := range logs {
			if !c.emit(ctx, lg, out) {
				return
			}
		}
		from = head.Number.Uint64() + 1
	}
}

// emit returns false once ctx is done.
func (c *contract) emit(ctx context.Context, lg types.Log, out chan<- domain.Event) bool {
	if lg.Removed {
		log.Debugf("skipping removed log %d of tx %s", lg.Index, lg.TxHash)
		return true
	}

	var siblings []*types.Log
	if c.decoder.needsReceipt(lg) {
		receipt, err := c.client.TransactionReceipt(ctx, lg.TxHash)
		if err != nil {
			log.WithError(err).Warnf("failed to get receipt of tx %s", lg.TxHash)
		} else {
			siblings = receipt.Logs
		}
	}

	event, err := c.decoder.decode(lg, siblings)
	if err != nil {
		if !errors.Is(err, errUnknownEvent) {
			log.WithError(err).Warnf("failed to decode log %d of tx %s", lg.Index, lg.TxHash)
		}
		return true
	}

	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
