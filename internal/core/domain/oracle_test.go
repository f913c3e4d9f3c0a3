package domain_test

import (
	"testing"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/stretchr/testify/require"
)

const (
	ethUsd = "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
	btcUsd = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
)

func TestParsePriceFeedIds(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		ids, err := domain.ParsePriceFeedIds([]string{ethUsd, " " + btcUsd, ""})
		require.NoError(t, err)
		require.Len(t, ids, 2)
		require.Equal(t, ethUsd, ids[0].String())
		require.Equal(t, btcUsd, ids[1].Hex())
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			ids         []string
			expectedErr string
		}{
			{nil, "missing price feed ids"},
			{[]string{""}, "missing price feed ids"},
			{[]string{"0xabcd"}, `invalid price feed id "0xabcd": expected 32 bytes, got 2`},
			{[]string{ethUsd, ethUsd}, "duplicated price feed id " + ethUsd},
		}
		for _, f := range fixtures {
			_, err := domain.ParsePriceFeedIds(f.ids)
			require.EqualError(t, err, f.expectedErr)
		}

		_, err := domain.ParsePriceFeedIds([]string{"zz"})
		require.ErrorContains(t, err, "invalid price feed id")
	})
}

func TestMarketState(t *testing.T) {
	fixtures := []struct {
		raw      uint8
		expected string
		known    bool
	}{
		{0, "Bear Market", true},
		{1, "Normal Market", true},
		{2, "Bull Market", true},
		{3, "Extreme Market", true},
		{9, "Normal Market", false},
	}
	for _, f := range fixtures {
		state, ok := domain.ParseMarketState(f.raw)
		require.Equal(t, f.known, ok)
		require.Equal(t, f.expected, state.String())
	}
}
