package hermesoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	latestUpdatesPath = "/v2/updates/price/latest"
	maxBodySize       = 4 << 20
)

type hermesOracle struct {
	baseUrl string
	client  *http.Client
}

func NewOracle(baseUrl string, timeout time.Duration) (ports.PriceOracle, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle url: %s", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid oracle url %s: unsupported scheme", baseUrl)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &hermesOracle{
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// FetchPriceUpdate returns one update blob per feed. When the service answers
// with a single accumulated update for several feeds, each feed is fetched on
// its own so that blobs stay one per feed.
func (o *hermesOracle) FetchPriceUpdate(
	ctx context.Context, feedIds []domain.PriceFeedId,
) (domain.PriceUpdatePayload, error) {
	if len(feedIds) <= 0 {
		return nil, fmt.Errorf("%w: missing price feed ids", domain.ErrOracleUnavailable)
	}

	resp, err := o.getLatest(ctx, feedIds)
	if err != nil {
		return nil, err
	}

	if resp.Binary != nil && len(resp.Binary.Data) == 1 && len(feedIds) > 1 {
		log.Debugf("oracle returned an accumulated update, fetching %d feeds one by one", len(feedIds))
		payload := make(domain.PriceUpdatePayload, 0, len(feedIds))
		for _, id := range feedIds {
			single, err := o.getLatest(ctx, []domain.PriceFeedId{id})
			if err != nil {
				return nil, err
			}
			blobs, err := single.updates([]domain.PriceFeedId{id})
			if err != nil {
				return nil, err
			}
			payload = append(payload, blobs...)
		}
		return payload, nil
	}

	return resp.updates(feedIds)
}

func (o *hermesOracle) getLatest(
	ctx context.Context, feedIds []domain.PriceFeedId,
) (*latestResponse, error) {
	params := url.Values{}
	for _, id := range feedIds {
		params.Add("ids[]", id.String())
	}
	params.Set("encoding", "hex")
	params.Set("parsed", "true")

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet,
		fmt.Sprintf("%s%s?%s", o.baseUrl, latestUpdatesPath, params.Encode()), nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
	// nolint:all
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", domain.ErrOracleUnavailable, err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: http status %d: %s",
			domain.ErrOracleUnavailable, res.StatusCode, strings.TrimSpace(string(body)),
		)
	}

	resp := &latestResponse{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %w", domain.ErrOracleUnavailable, err)
	}
	return resp, nil
}
