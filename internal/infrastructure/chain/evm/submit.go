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
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTipCap    = 2_000_000_000
	maxReceiptErrors = 5
)

func (c *contract) MintHero(ctx context.Context) (*domain.TxHandle, error) {
	return c.send(ctx, "mintHero", big.NewInt(0))
}

func (c *contract) EnterDungeon(
	ctx context.Context, heroId *big.Int,
	payload domain.PriceUpdatePayload, fee domain.FeeQuote,
) (*domain.TxHandle, error) {
	if heroId == nil {
		return nil, fmt.Errorf("%w: missing hero id", domain.ErrSubmissionFailed)
	}
	return c.send(ctx, "enterDungeon", fee.Wei(), heroId, [][]byte(payload))
}

// AwaitConfirmation polls for the receipt of the given transaction until it
// is buried under the configured number of confirmations.
func (c *contract) AwaitConfirmation(
	ctx context.Context, handle domain.TxHandle,
) (*domain.Receipt, error) {
	ticker := time.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := c.client.TransactionReceipt(ctx, handle.Hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				log.Warnf(
					"tx %s reverted in block %s, gas used %d",
					handle.Hash, receipt.BlockNumber, receipt.GasUsed,
				)
				return nil, fmt.Errorf(
					"%w: tx %s reverted in block %s",
					domain.ErrReverted, handle.Hash, receipt.BlockNumber,
				)
			}
			if c.isConfirmed(ctx, receipt) {
				return c.toReceipt(receipt), nil
			}
			failures = 0
		case err == nil || errors.Is(err, ethereum.NotFound):
			failures = 0
		default:
			failures++
			log.WithError(err).Debugf("failed to get receipt of tx %s", handle.Hash)
			if failures >= maxReceiptErrors {
				return nil, fmt.Errorf(
					"%w: failed to get receipt of tx %s: %w",
					domain.ErrSubmissionFailed, handle.Hash, err,
				)
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf(
				"%w: stopped waiting for tx %s: %w",
				domain.ErrSubmissionFailed, handle.Hash, ctx.Err(),
			)
		case <-ticker.C:
		}
	}
}

func (c *contract) send(
	ctx context.Context, method string, value *big.Int, args ...interface{},
) (*domain.TxHandle, error) {
	calldata, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to pack %s: %s", domain.ErrSubmissionFailed, method, err)
	}

	from := c.signer.From()
	to := c.cfg.ContractAddress

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch nonce: %w", domain.ErrSubmissionFailed, err)
	}

	gasLimit := c.estimateGasLimit(ctx, ethereum.CallMsg{
		From: from, To: &to, Value: value, Data: calldata,
	})
	tipCap, feeCap := c.suggestFees(ctx)

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainId,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gasLimit,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      calldata,
	})

	signed, err := c.signer.SignTx(ctx, unsigned)
	if err != nil {
		if errors.Is(err, ErrSignerDeclined) {
			return nil, fmt.Errorf("%w: %w", domain.ErrUserRejected, err)
		}
		return nil, fmt.Errorf(
			"%w: failed to sign %s tx: %w", domain.ErrSubmissionFailed, method, err,
		)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf(
			"%w: failed to send %s tx: %w", domain.ErrSubmissionFailed, method, err,
		)
	}

	log.WithFields(log.Fields{
		"tx":        signed.Hash().Hex(),
		"nonce":     nonce,
		"gas_limit": gasLimit,
		"value":     value.String(),
	}).Infof("%s tx submitted", method)

	return &domain.TxHandle{
		Hash:  signed.Hash(),
		Nonce: nonce,
		Value: new(big.Int).Set(value),
	}, nil
}

// estimateGasLimit falls back to a fixed limit so that a call the node
// refuses to simulate still reaches the chain and fails there.
func (c *contract) estimateGasLimit(ctx context.Context, msg ethereum.CallMsg) uint64 {
	est, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		log.WithError(err).Warnf(
			"gas estimation failed, using fallback limit %d", c.cfg.FallbackGasLimit,
		)
		return c.cfg.FallbackGasLimit
	}
	return est + est*gasLimitBufferPct/100
}

func (c *contract) suggestFees(ctx context.Context) (*big.Int, *big.Int) {
	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		tipCap = big.NewInt(defaultTipCap)
	}

	head, _ := c.client.HeaderByNumber(ctx, nil)
	if head != nil && head.BaseFee != nil {
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		return tipCap, feeCap.Add(feeCap, tipCap)
	}
	if price, err := c.client.SuggestGasPrice(ctx); err == nil && price != nil {
		if price.Cmp(tipCap) < 0 {
			return price, price
		}
		return tipCap, price
	}
	return tipCap, new(big.Int).Add(big.NewInt(defaultTipCap), tipCap)
}

func (c *contract) isConfirmed(ctx context.Context, receipt *types.Receipt) bool {
	if c.cfg.Confirmations <= 1 {
		return true
	}
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil || head == nil {
		return false
	}
	included := receipt.BlockNumber.Uint64()
	if head.Number.Uint64() < included {
		return false
	}
	return head.Number.Uint64()-included+1 >= c.cfg.Confirmations
}

func (c *contract) toReceipt(receipt *types.Receipt) *domain.Receipt {
	res := &domain.Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}

	account := c.Account()
	for _, lg := range receipt.Logs {
		if lg.Address != c.cfg.ContractAddress {
			continue
		}
		event, err := c.decoder.decode(*lg, receipt.Logs)
		if err != nil {
			log.WithError(err).Debugf("skipping log %d of tx %s", lg.Index, receipt.TxHash)
			continue
		}
		switch e := event.(type) {
		case domain.DungeonEntered:
			if res.Entered == nil && e.Player == account {
				res.Entered = &e
			}
		case domain.DungeonResolved:
			if res.Resolved == nil && isOwnResult(e, account) {
				res.Resolved = &e
			}
		}
	}

	if res.Entered == nil {
		log.Debugf("no entry event found in tx %s", receipt.TxHash)
	}
	return res
}

func isOwnResult(e domain.DungeonResolved, account common.Address) bool {
	return e.Player == (common.Address{}) || e.Player == account
}
