package domain

import "errors"

var (
	ErrOracleUnavailable        = errors.New("oracle unavailable")
	ErrFeeQueryFailed           = errors.New("fee query failed")
	ErrUserRejected             = errors.New("signing rejected by user")
	ErrSubmissionFailed         = errors.New("transaction submission failed")
	ErrReverted                 = errors.New("transaction reverted")
	ErrEventCorrelationMismatch = errors.New("event correlation mismatch")
	ErrOutcomeTimeout           = errors.New("timed out waiting for dungeon outcome")
	ErrSessionBusy              = errors.New("a dungeon attempt is already in progress")
	ErrNoHero                   = errors.New("no hero owned by account")
	ErrSessionAbandoned         = errors.New("dungeon attempt abandoned")
)

// ErrAttemptNotFound is returned by attempt stores for unknown ids.
var ErrAttemptNotFound = errors.New("attempt not found")

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrOracleUnavailable, "OracleUnavailable"},
	{ErrFeeQueryFailed, "FeeQueryFailed"},
	{ErrUserRejected, "UserRejected"},
	{ErrSubmissionFailed, "SubmissionFailed"},
	{ErrReverted, "Reverted"},
	{ErrEventCorrelationMismatch, "EventCorrelationMismatch"},
	{ErrOutcomeTimeout, "OutcomeTimeout"},
	{ErrSessionBusy, "SessionBusy"},
	{ErrNoHero, "NoHero"},
	{ErrSessionAbandoned, "Abandoned"},
}

// ErrorKind returns the stable name of the taxonomy entry err belongs to.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Unknown"
}
