package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PriceFeedId names one price feed of the attestation service.
type PriceFeedId [32]byte

func ParsePriceFeedId(s string) (PriceFeedId, error) {
	var id PriceFeedId
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	buf, err := hex.DecodeString(raw)
	if err != nil {
		return id, fmt.Errorf("invalid price feed id %q: %s", s, err)
	}
	if len(buf) != len(id) {
		return id, fmt.Errorf(
			"invalid price feed id %q: expected %d bytes, got %d", s, len(id), len(buf),
		)
	}
	copy(id[:], buf)
	return id, nil
}

func ParsePriceFeedIds(list []string) ([]PriceFeedId, error) {
	ids := make([]PriceFeedId, 0, len(list))
	seen := make(map[PriceFeedId]struct{})
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			continue
		}
		id, err := ParsePriceFeedId(s)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("duplicated price feed id %s", id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) <= 0 {
		return nil, fmt.Errorf("missing price feed ids")
	}
	return ids, nil
}

func (id PriceFeedId) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Hex returns the id without prefix, the form used in attestation responses.
func (id PriceFeedId) Hex() string {
	return hex.EncodeToString(id[:])
}

// PriceUpdatePayload holds one signed blob per requested feed, in request
// order. Payloads are fetched fresh for every attempt.
type PriceUpdatePayload [][]byte

func (p PriceUpdatePayload) Size() int {
	size := 0
	for _, blob := range p {
		size += len(blob)
	}
	return size
}
