package domain

import "errors"

// Kind classifies a failure so callers can react without matching every sentinel.
type Kind string

const (
	KindUnknown       Kind = ""
	KindTemporal      Kind = "temporal_violation"
	KindAuthorization Kind = "authorization_failure"
	KindInvalidInput  Kind = "invalid_input"
	KindStateConflict Kind = "state_conflict"
	KindArithmetic    Kind = "arithmetic_failure"
	KindPrecondition  Kind = "precondition_unmet"
	KindNotFound      Kind = "not_found"
	KindUnavailable   Kind = "unavailable"
)

// Error is a sentinel error tagged with its Kind. Sentinels are compared by
// identity, so errors.Is works through any amount of fmt.Errorf wrapping.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Infrastructure.
var (
	ErrNotFound      = newError(KindNotFound, "not found")
	ErrAlreadyExists = newError(KindStateConflict, "already exists")
	ErrRateLimited   = newError(KindUnavailable, "rate limited")
	ErrLockHeld      = newError(KindUnavailable, "lock already held")
	ErrUnavailable   = newError(KindUnavailable, "component not running")
	ErrSigningFailed = newError(KindUnknown, "signing failed")
)

// Temporal violations.
var (
	ErrMarketClosed     = newError(KindTemporal, "market closed for betting")
	ErrAlreadyResolved  = newError(KindTemporal, "market already resolved")
	ErrNotResolved      = newError(KindTemporal, "market not resolved")
	ErrSweepTooEarly    = newError(KindTemporal, "sweep cooldown has not elapsed")
	ErrEndTimeInPast    = newError(KindTemporal, "end time must be in the future")
	ErrProtocolNotReady = newError(KindTemporal, "protocol not initialized")
)

// Authorization failures.
var (
	ErrUnauthorized     = newError(KindAuthorization, "unauthorized")
	ErrInvalidSignature = newError(KindAuthorization, "invalid oracle signature")
)

// Invalid input.
var (
	ErrInvalidOutcome      = newError(KindInvalidInput, "invalid outcome index")
	ErrInvalidOutcomeCount = newError(KindInvalidInput, "outcome count must be between 1 and 8")
	ErrBetTooSmall         = newError(KindInvalidInput, "bet below market minimum")
	ErrBetTooLarge         = newError(KindInvalidInput, "bet above market maximum")
	ErrZeroAmount          = newError(KindInvalidInput, "amount must be positive")
	ErrInvalidFees         = newError(KindInvalidInput, "fee basis points exceed 10000")
	ErrInvalidPolicy       = newError(KindInvalidInput, "invalid payout policy")
	ErrInvalidWeights      = newError(KindInvalidInput, "invalid liquidity weights")
	ErrInvalidBounds       = newError(KindInvalidInput, "min bet exceeds max bet")
	ErrInvalidMarket       = newError(KindInvalidInput, "invalid market parameters")
)

// State conflicts.
var (
	ErrAlreadyClaimed         = newError(KindStateConflict, "vote already claimed")
	ErrFeesAlreadyDistributed = newError(KindStateConflict, "fees already distributed")
	ErrFeesNotDistributed     = newError(KindStateConflict, "fees not distributed")
	ErrMarketPaused           = newError(KindStateConflict, "market paused")
	ErrMarketNotPaused        = newError(KindStateConflict, "market not paused")
	ErrMarketCancelled        = newError(KindStateConflict, "market cancelled")
	ErrAlreadySwept           = newError(KindStateConflict, "market already swept")
	ErrOutcomeSwitch          = newError(KindStateConflict, "cannot switch outcome on an existing vote")
	ErrLoser                  = newError(KindStateConflict, "vote did not back the winning outcome")
	ErrSharedCustody          = newError(KindStateConflict, "market custody is the shared treasury")
)

// Arithmetic failures.
var (
	ErrOverflow          = newError(KindArithmetic, "arithmetic overflow")
	ErrNoWinners         = newError(KindArithmetic, "winning outcome has no stake")
	ErrInsufficientFunds = newError(KindArithmetic, "insufficient funds")
)

// Unmet preconditions.
var (
	ErrNoActiveBet   = newError(KindPrecondition, "no active bet")
	ErrNoDustToSweep = newError(KindPrecondition, "no residual to sweep")
	ErrOutcomeNotSet = newError(KindPrecondition, "winning outcome not set")
)
