package regression

import "errors"

// Each violated expectation is reported as one of these, wrapped with the offending value.
var (
	ErrNoQualifyingContract = errors.New("no option contract matches the selection criteria")
	ErrContractMismatch     = errors.New("resolved contract does not match expected contract")
	ErrUnknownSecurity      = errors.New("order event for security not in registry")
	ErrUnderlyingFilled     = errors.New("underlying index must never be filled")
	ErrUnexpectedPosition   = errors.New("unexpected position after fill")
	ErrUnexpectedAssignment = errors.New("unexpected assignment")
	ErrUnexpectedSymbol     = errors.New("event for unexpected symbol")
	ErrDelistingDate        = errors.New("delisting notification on unexpected date")
	ErrUnknownDelisting     = errors.New("unknown delisting notification type")
	ErrHoldingsRemain       = errors.New("holdings remain at end of run")
	ErrStatisticsMismatch   = errors.New("run does not match expected statistics")
	ErrNotInitialized       = errors.New("check not initialized")
	ErrNoExpectations       = errors.New("no recorded expectations for this configuration")
)
