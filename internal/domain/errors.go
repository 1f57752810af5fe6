package domain

import "errors"

var (
	// Authorization errors: caller lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotMember    = errors.New("caller is not a group member")
	ErrNotDirector  = errors.New("caller is not the group director")

	// State-precondition errors.
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrListingNotActive    = errors.New("listing is not active")
	ErrWrongMechanism      = errors.New("wrong sale mechanism for listing")
	ErrAuctionStarted      = errors.New("auction already started")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrAlreadyExecuted     = errors.New("transaction already executed")
	ErrAlreadyConfirmed    = errors.New("member already voted")
	ErrQuorumNotReached    = errors.New("quorum not reached")
	ErrQuorumUnsatisfiable = errors.New("quorum exceeds member count")
	ErrTokenListed         = errors.New("token has an active listing")

	// Value errors.
	ErrBidTooLow             = errors.New("bid below required price")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroBalance           = errors.New("nothing to withdraw")
	ErrInvalidAmount         = errors.New("invalid amount")

	// Timing errors.
	ErrAuctionNotExpired = errors.New("auction has not expired")

	// Infrastructure errors.
	ErrLockHeld    = errors.New("lock already held")
	ErrRateLimited = errors.New("rate limited")
)
