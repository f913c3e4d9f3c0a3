package evmchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignerDeclined is returned by signers that asked for an explicit
// approval and did not get it.
var ErrSignerDeclined = errors.New("signature request declined")

// Signer signs transactions on behalf of a single account. The chain id is
// taken from the transaction.
type Signer interface {
	From() common.Address
	SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

type localSigner struct {
	key  *ecdsa.PrivateKey
	from common.Address
}

func NewLocalSigner(key *ecdsa.PrivateKey) Signer {
	return &localSigner{key, crypto.PubkeyToAddress(key.PublicKey)}
}

// NewLocalSignerFromHex accepts the key with or without 0x prefix.
func NewLocalSignerFromHex(keyHex string) (Signer, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("missing private key")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %s", err)
	}
	return NewLocalSigner(key), nil
}

func (s *localSigner) From() common.Address { return s.from }

func (s *localSigner) SignTx(
	_ context.Context, tx *types.Transaction,
) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(tx.ChainId()), s.key)
}

type keystoreSigner struct {
	ks      *keystore.KeyStore
	account accounts.Account
}

// NewKeystoreSigner unlocks the given account of the keystore at dir. An
// empty address selects the only account of the keystore.
func NewKeystoreSigner(dir, address, password string) (Signer, error) {
	if dir == "" {
		return nil, fmt.Errorf("missing keystore dir")
	}
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)

	account, err := selectAccount(ks.Accounts(), address)
	if err != nil {
		return nil, err
	}
	if err := ks.Unlock(account, password); err != nil {
		return nil, fmt.Errorf("failed to unlock account %s: %s", account.Address, err)
	}
	return &keystoreSigner{ks, account}, nil
}

func (s *keystoreSigner) From() common.Address { return s.account.Address }

func (s *keystoreSigner) SignTx(
	_ context.Context, tx *types.Transaction,
) (*types.Transaction, error) {
	return s.ks.SignTx(s.account, tx, tx.ChainId())
}

type clefSigner struct {
	clef    *external.ExternalSigner
	account accounts.Account
}

// NewClefSigner delegates signing to a running clef instance, every request
// is subject to the approval of its operator.
func NewClefSigner(endpoint, address string) (Signer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("missing clef url")
	}
	clef, err := external.NewExternalSigner(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clef: %s", err)
	}
	account, err := selectAccount(clef.Accounts(), address)
	if err != nil {
		return nil, err
	}
	return &clefSigner{clef, account}, nil
}

func (s *clefSigner) From() common.Address { return s.account.Address }

func (s *clefSigner) SignTx(
	_ context.Context, tx *types.Transaction,
) (*types.Transaction, error) {
	signed, err := s.clef.SignTx(s.account, tx, tx.ChainId())
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "denied") {
		return nil, fmt.Errorf("%w: %s", ErrSignerDeclined, err)
	}
	return signed, err
}

// ConfirmFunc is asked to approve every transaction before it is signed.
type ConfirmFunc func(ctx context.Context, tx *types.Transaction) (bool, error)

type confirmingSigner struct {
	Signer
	confirm ConfirmFunc
}

func NewConfirmingSigner(signer Signer, confirm ConfirmFunc) Signer {
	return &confirmingSigner{signer, confirm}
}

func (s *confirmingSigner) SignTx(
	ctx context.Context, tx *types.Transaction,
) (*types.Transaction, error) {
	ok, err := s.confirm(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSignerDeclined
	}
	return s.Signer.SignTx(ctx, tx)
}

func selectAccount(list []accounts.Account, address string) (accounts.Account, error) {
	if address == "" {
		if len(list) != 1 {
			return accounts.Account{}, fmt.Errorf(
				"missing account, signer holds %d accounts", len(list),
			)
		}
		return list[0], nil
	}
	if !common.IsHexAddress(address) {
		return accounts.Account{}, fmt.Errorf("invalid account address %s", address)
	}
	want := common.HexToAddress(address)
	for _, account := range list {
		if account.Address == want {
			return account, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("account %s not found", want)
}
