package domain_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestFeeQuote(t *testing.T) {
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	t.Run("valid", func(t *testing.T) {
		fixtures := []struct {
			update, entropy *big.Int
			expected        *big.Int
		}{
			{big.NewInt(100), big.NewInt(50), big.NewInt(150)},
			{big.NewInt(0), big.NewInt(0), big.NewInt(0)},
			{big.NewInt(0), big.NewInt(1), big.NewInt(1)},
			{maxUint256, big.NewInt(0), maxUint256},
			{new(big.Int).Sub(maxUint256, big.NewInt(9)), big.NewInt(9), maxUint256},
		}

		for _, f := range fixtures {
			quote, err := domain.NewFeeQuote(f.update, f.entropy)
			require.NoError(t, err)
			require.Zero(t, f.expected.Cmp(quote.Wei()))
			require.Equal(t, f.update.String(), quote.UpdateFee.Dec())
			require.Equal(t, f.entropy.String(), quote.EntropyFee.Dec())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			update, entropy *big.Int
			expectedErr     string
		}{
			{nil, big.NewInt(1), "invalid update fee: missing amount"},
			{big.NewInt(1), nil, "invalid entropy fee: missing amount"},
			{big.NewInt(-1), big.NewInt(1), "invalid update fee: negative amount -1"},
			{
				new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(0),
				"invalid update fee: amount " +
					new(big.Int).Lsh(big.NewInt(1), 256).String() + " overflows 256 bits",
			},
		}

		for _, f := range fixtures {
			_, err := domain.NewFeeQuote(f.update, f.entropy)
			require.EqualError(t, err, f.expectedErr)
		}

		_, err := domain.NewFeeQuote(maxUint256, big.NewInt(1))
		require.ErrorContains(t, err, "overflows 256 bits")
	})

	t.Run("json", func(t *testing.T) {
		quote, err := domain.NewFeeQuote(big.NewInt(100), big.NewInt(50))
		require.NoError(t, err)

		buf, err := json.Marshal(quote)
		require.NoError(t, err)
		require.JSONEq(t, `{"updateFee":"100","entropyFee":"50","total":"150"}`, string(buf))

		var decoded domain.FeeQuote
		require.NoError(t, json.Unmarshal(buf, &decoded))
		require.Equal(t, quote, decoded)
	})
}
