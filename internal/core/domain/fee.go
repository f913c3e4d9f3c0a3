package domain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// FeeQuote is the native amount attached to a dungeon entry: the cost of
// applying a price update plus the cost of a randomness request. It is only
// valid for the payload it was computed against.
type FeeQuote struct {
	UpdateFee  uint256.Int
	EntropyFee uint256.Int
	Total      uint256.Int
}

func NewFeeQuote(updateFee, entropyFee *big.Int) (FeeQuote, error) {
	update, err := toUint256(updateFee)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("invalid update fee: %w", err)
	}
	entropy, err := toUint256(entropyFee)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("invalid entropy fee: %w", err)
	}

	quote := FeeQuote{UpdateFee: *update, EntropyFee: *entropy}
	if _, overflow := quote.Total.AddOverflow(update, entropy); overflow {
		return FeeQuote{}, fmt.Errorf(
			"fee sum %s + %s overflows 256 bits", updateFee, entropyFee,
		)
	}
	return quote, nil
}

// Wei returns the total as a big integer, ready to be used as tx value.
func (q FeeQuote) Wei() *big.Int {
	return q.Total.ToBig()
}

func (q FeeQuote) String() string {
	return q.Total.Dec()
}

func (q FeeQuote) MarshalJSON() ([]byte, error) {
	return json.Marshal(feeQuoteJSON{
		UpdateFee:  q.UpdateFee.Dec(),
		EntropyFee: q.EntropyFee.Dec(),
		Total:      q.Total.Dec(),
	})
}

func (q *FeeQuote) UnmarshalJSON(data []byte) error {
	var v feeQuoteJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	for _, f := range []struct {
		dst *uint256.Int
		src string
	}{
		{&q.UpdateFee, v.UpdateFee},
		{&q.EntropyFee, v.EntropyFee},
		{&q.Total, v.Total},
	} {
		if f.src == "" {
			f.dst.Clear()
			continue
		}
		if err := f.dst.SetFromDecimal(f.src); err != nil {
			return fmt.Errorf("invalid fee amount %q: %w", f.src, err)
		}
	}
	return nil
}

type feeQuoteJSON struct {
	UpdateFee  string `json:"updateFee"`
	EntropyFee string `json:"entropyFee"`
	Total      string `json:"total"`
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("missing amount")
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount %s overflows 256 bits", v)
	}
	return out, nil
}
