package hermesoracle

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

type latestResponse struct {
	Binary *binaryUpdate  `json:"binary"`
	Parsed []parsedUpdate `json:"parsed"`
}

type binaryUpdate struct {
	Encoding string   `json:"encoding"`
	Data     []string `json:"data"`
}

type parsedUpdate struct {
	Id  string `json:"id"`
	Vaa string `json:"vaa,omitempty"`
}

// updates turns the response into one blob per requested feed, in request
// order. The binary section is preferred; the parsed section is the degraded
// fallback.
func (r *latestResponse) updates(feedIds []domain.PriceFeedId) (domain.PriceUpdatePayload, error) {
	if r.Binary != nil && len(r.Binary.Data) > 0 {
		return r.binaryUpdates(feedIds)
	}
	if len(r.Parsed) > 0 {
		return r.parsedUpdates(feedIds)
	}
	return nil, fmt.Errorf(
		"%w: malformed response: missing binary and parsed data", domain.ErrOracleUnavailable,
	)
}

func (r *latestResponse) binaryUpdates(
	feedIds []domain.PriceFeedId,
) (domain.PriceUpdatePayload, error) {
	if len(r.Binary.Data) != len(feedIds) {
		return nil, fmt.Errorf(
			"%w: malformed response: expected %d updates, got %d",
			domain.ErrOracleUnavailable, len(feedIds), len(r.Binary.Data),
		)
	}
	if r.Binary.Encoding != "" && r.Binary.Encoding != "hex" {
		return nil, fmt.Errorf(
			"%w: malformed response: unsupported encoding %s",
			domain.ErrOracleUnavailable, r.Binary.Encoding,
		)
	}

	blobs := make([][]byte, 0, len(r.Binary.Data))
	for i, data := range r.Binary.Data {
		blob, err := decodeHex(data)
		if err != nil || len(blob) <= 0 {
			return nil, fmt.Errorf(
				"%w: malformed response: invalid update at index %d",
				domain.ErrOracleUnavailable, i,
			)
		}
		blobs = append(blobs, blob)
	}

	// Without a parsed section of the same size the response order is
	// assumed to be the request order.
	if len(r.Parsed) != len(blobs) {
		return blobs, nil
	}

	indexById := make(map[string]int, len(r.Parsed))
	for i, p := range r.Parsed {
		indexById[normalizeId(p.Id)] = i
	}
	payload := make(domain.PriceUpdatePayload, 0, len(feedIds))
	for _, id := range feedIds {
		i, ok := indexById[id.Hex()]
		if !ok {
			return nil, fmt.Errorf(
				"%w: malformed response: missing update for feed %s",
				domain.ErrOracleUnavailable, id,
			)
		}
		payload = append(payload, blobs[i])
	}
	return payload, nil
}

func (r *latestResponse) parsedUpdates(
	feedIds []domain.PriceFeedId,
) (domain.PriceUpdatePayload, error) {
	byId := make(map[string]parsedUpdate, len(r.Parsed))
	for _, p := range r.Parsed {
		byId[normalizeId(p.Id)] = p
	}

	payload := make(domain.PriceUpdatePayload, 0, len(feedIds))
	for _, id := range feedIds {
		p, ok := byId[id.Hex()]
		if !ok {
			return nil, fmt.Errorf(
				"%w: malformed response: missing parsed entry for feed %s",
				domain.ErrOracleUnavailable, id,
			)
		}
		if p.Vaa != "" {
			blob, err := base64.StdEncoding.DecodeString(p.Vaa)
			if err != nil {
				return nil, fmt.Errorf(
					"%w: malformed response: invalid vaa for feed %s",
					domain.ErrOracleUnavailable, id,
				)
			}
			payload = append(payload, blob)
			continue
		}
		log.Warnf("oracle response has no binary update for feed %s, using feed id", id)
		blob := make([]byte, len(id))
		copy(blob, id[:])
		payload = append(payload, blob)
	}
	return payload, nil
}

func normalizeId(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X"))
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}
