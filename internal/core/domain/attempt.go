package domain

import "context"

// Attempt is the flattened record of an ended dungeon session.
type Attempt struct {
	Id        string
	HeroId    string
	RequestId string
	TxHash    string
	Fee       string
	Feeds     int
	Stage     string
	Resolved  bool
	Victory   bool
	Loot      string
	HeroLost  bool
	ErrorKind string
	Error     string
	StartedAt int64
	EndedAt   int64
}

func NewAttempt(s *DungeonSession) Attempt {
	a := Attempt{
		Id:        s.Id,
		TxHash:    s.TxHash,
		Feeds:     s.Feeds,
		Stage:     s.Stage.Code.String(),
		Resolved:  s.IsResolved(),
		ErrorKind: s.FailKind,
		Error:     s.FailReason,
		StartedAt: s.StartingTimestamp,
		EndedAt:   s.EndingTimestamp,
	}
	if s.HeroId != nil {
		a.HeroId = s.HeroId.String()
	}
	if s.RequestId != nil {
		a.RequestId = s.RequestId.String()
	}
	if s.Fee != nil {
		a.Fee = s.Fee.String()
	}
	if s.Outcome != nil {
		a.Victory = s.Outcome.Victory
		a.HeroLost = s.Outcome.HeroLost
		if s.Outcome.Loot != nil {
			a.Loot = s.Outcome.Loot.String()
		}
	}
	return a
}

type AttemptRepository interface {
	Add(ctx context.Context, attempt Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	// List returns the most recent attempts first.
	List(ctx context.Context, limit int) ([]Attempt, error)
	Close()
}
