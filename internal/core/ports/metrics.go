package ports

import "time"

type Metrics interface {
	AttemptEnded(result string)
	StageCompleted(stage string, elapsed time.Duration)
	OracleFetched(elapsed time.Duration, err error)
	ChainEventReceived(name string)
	ChainEventIgnored(reason string)
}
