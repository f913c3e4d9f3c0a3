package handlers

import (
	"math/big"

	"github.com/hero-dungeon/dungeond/internal/core/application"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type enterResponse struct {
	SessionId string `json:"sessionId"`
}

type outcomeResponse struct {
	Victory  bool   `json:"victory"`
	Loot     string `json:"loot"`
	HeroLost bool   `json:"heroLost"`
}

type statusResponse struct {
	Account       string           `json:"account"`
	Stage         string           `json:"stage"`
	CanEnter      bool             `json:"canEnter"`
	CanMint       bool             `json:"canMint"`
	SessionId     string           `json:"sessionId,omitempty"`
	HeroId        string           `json:"heroId,omitempty"`
	RequestId     string           `json:"requestId,omitempty"`
	TxHash        string           `json:"txHash,omitempty"`
	LastOutcome   *outcomeResponse `json:"lastOutcome,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
	LastErrorKind string           `json:"lastErrorKind,omitempty"`
}

type heroResponse struct {
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
	HeroId  string `json:"heroId,omitempty"`
	HasHero bool   `json:"hasHero"`
}

type marketResponse struct {
	State uint8  `json:"state"`
	Name  string `json:"name"`
}

type attemptResponse struct {
	Id        string `json:"id"`
	HeroId    string `json:"heroId,omitempty"`
	RequestId string `json:"requestId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Fee       string `json:"fee,omitempty"`
	Feeds     int    `json:"feeds"`
	Stage     string `json:"stage"`
	Resolved  bool   `json:"resolved"`
	Victory   bool   `json:"victory"`
	Loot      string `json:"loot,omitempty"`
	HeroLost  bool   `json:"heroLost"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
	StartedAt int64  `json:"startedAt"`
	EndedAt   int64  `json:"endedAt"`
}

type eventResponse struct {
	Topic string       `json:"topic"`
	Type  string       `json:"type"`
	Data  domain.Event `json:"data"`
}

func toStatusResponse(s application.Status) statusResponse {
	res := statusResponse{
		Account:       s.Account,
		Stage:         s.Stage,
		CanEnter:      s.CanEnter,
		CanMint:       s.CanMint,
		SessionId:     s.SessionId,
		HeroId:        intString(s.HeroId),
		RequestId:     intString(s.RequestId),
		TxHash:        s.TxHash,
		LastError:     s.LastError,
		LastErrorKind: s.LastErrorKind,
	}
	if s.LastOutcome != nil {
		outcome := toOutcomeResponse(*s.LastOutcome)
		res.LastOutcome = &outcome
	}
	return res
}

func toOutcomeResponse(o domain.DungeonOutcome) outcomeResponse {
	loot := intString(o.Loot)
	if loot == "" {
		loot = "0"
	}
	return outcomeResponse{Victory: o.Victory, Loot: loot, HeroLost: o.HeroLost}
}

func toHeroResponse(h domain.HeroStatus) heroResponse {
	balance := intString(h.Balance)
	if balance == "" {
		balance = "0"
	}
	return heroResponse{
		Owner:   h.Owner.Hex(),
		Balance: balance,
		HeroId:  intString(h.HeroId),
		HasHero: h.HasHero(),
	}
}

func toAttemptResponses(attempts []domain.Attempt) []attemptResponse {
	list := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		list = append(list, attemptResponse(a))
	}
	return list
}

func intString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
