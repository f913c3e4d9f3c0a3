package evmchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	defaultReceiptPollInterval = 2 * time.Second
	defaultLogPollInterval     = 4 * time.Second
	defaultFallbackGasLimit    = 500_000
	gasLimitBufferPct          = 20
)

// ethClient is the subset of ethclient.Client used by the contract, kept
// narrow for mocking.
type ethClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(
		ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log,
	) (ethereum.Subscription, error)
	Close()
}

type Config struct {
	RpcUrl              string
	ContractAddress     common.Address
	AbiPath             string
	Confirmations       uint64
	ReceiptPollInterval time.Duration
	LogPollInterval     time.Duration
	FallbackGasLimit    uint64
	EnteredEvent        string
	ResolvedEvent       string
}

func (c *Config) setDefaults() {
	if c.Confirmations <= 0 {
		c.Confirmations = 1
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = defaultReceiptPollInterval
	}
	if c.LogPollInterval <= 0 {
		c.LogPollInterval = defaultLogPollInterval
	}
	if c.FallbackGasLimit <= 0 {
		c.FallbackGasLimit = defaultFallbackGasLimit
	}
	if c.EnteredEvent == "" {
		c.EnteredEvent = "DungeonEnter"
	}
	if c.ResolvedEvent == "" {
		c.ResolvedEvent = "DungeonResult"
	}
}

type contract struct {
	cfg     Config
	client  ethClient
	signer  Signer
	abi     *abi.ABI
	chainId *big.Int
	decoder *decoder
}

// NewGameContract dials the node at cfg.RpcUrl and binds the game contract
// for the account of the given signer.
func NewGameContract(
	ctx context.Context, cfg Config, signer Signer,
) (ports.GameContract, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("missing rpc url")
	}
	rpcClient, err := rpc.DialContext(ctx, cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %s", err)
	}
	client := ethclient.NewClient(rpcClient)

	contract, err := newGameContract(ctx, cfg, client, signer)
	if err != nil {
		client.Close()
		return nil, err
	}
	return contract, nil
}

func newGameContract(
	ctx context.Context, cfg Config, client ethClient, signer Signer,
) (*contract, error) {
	if signer == nil {
		return nil, fmt.Errorf("missing signer")
	}
	if cfg.ContractAddress == (common.Address{}) {
		return nil, fmt.Errorf("missing contract address")
	}
	cfg.setDefaults()

	contractAbi, err := LoadABI(cfg.AbiPath)
	if err != nil {
		return nil, err
	}
	decoder, err := newDecoder(contractAbi, cfg.EnteredEvent, cfg.ResolvedEvent)
	if err != nil {
		return nil, err
	}

	chainId, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %s", err)
	}
	log.Debugf(
		"bound game contract %s on chain %s for account %s",
		cfg.ContractAddress, chainId, signer.From(),
	)

	return &contract{
		cfg:     cfg,
		client:  client,
		signer:  signer,
		abi:     contractAbi,
		chainId: chainId,
		decoder: decoder,
	}, nil
}

func (c *contract) Account() common.Address {
	return c.signer.From()
}

func (c *contract) Close() {
	c.client.Close()
}

func (c *contract) GetUpdateFee(
	ctx context.Context, payload domain.PriceUpdatePayload,
) (*big.Int, error) {
	fee, err := c.callBig(ctx, "getUpdateFee", [][]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: update fee: %w", domain.ErrFeeQueryFailed, err)
	}
	return fee, nil
}

func (c *contract) GetEntropyFee(ctx context.Context) (*big.Int, error) {
	fee, err := c.callBig(ctx, "getFee")
	if err != nil {
		return nil, fmt.Errorf("%w: entropy fee: %w", domain.ErrFeeQueryFailed, err)
	}
	return fee, nil
}

func (c *contract) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return c.callBig(ctx, "balanceOf", owner)
}

func (c *contract) TokenOfOwnerByIndex(
	ctx context.Context, owner common.Address, index *big.Int,
) (*big.Int, error) {
	return c.callBig(ctx, "tokenOfOwnerByIndex", owner, index)
}

func (c *contract) GetMarketState(ctx context.Context) (uint8, error) {
	out, err := c.call(ctx, "getMarketState")
	if err != nil {
		return 0, err
	}
	state, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected market state type %T", out[0])
	}
	return state, nil
}

func (c *contract) call(
	ctx context.Context, method string, args ...interface{},
) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %s", method, err)
	}
	to := c.cfg.ContractAddress
	msg := ethereum.CallMsg{From: c.Account(), To: &to, Data: data}

	res, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %s", method, err)
	}
	if len(out) <= 0 {
		return nil, fmt.Errorf("empty result for %s", method)
	}
	return out, nil
}

func (c *contract) callBig(
	ctx context.Context, method string, args ...interface{},
) (*big.Int, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, out[0])
	}
	return v, nil
}
