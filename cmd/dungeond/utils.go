package main

import (
	"math/big"
)

// weiToUnit formats a wei amount in the given unit with up to 9 decimals.
func weiToUnit(wei *big.Int, unit float64) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(unit))
	return f.Text('f', 9)
}
