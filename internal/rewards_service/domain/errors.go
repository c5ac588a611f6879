package domain

import "errors"

// Failure taxonomy for coordinator operations. All of these are terminal for
// the request; none are retried by the coordinator itself.
var (
	// ErrInvalidAmount rejects non-positive or malformed amounts before the
	// ledger is touched.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAmountMismatch rejects a spend whose amount does not equal the sum
	// of its item line totals.
	ErrAmountMismatch = errors.New("amount does not match basket total")

	// ErrPolicyViolation rejects a spend containing at least one ineligible
	// item. The whole basket is rejected; there is no partial approval.
	ErrPolicyViolation = errors.New("basket contains ineligible items")

	// ErrInsufficientBalance rejects a debit that would take the derived
	// balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrIntegrityFault signals that the ledger for a user failed an internal
	// consistency check (sequence gap, or a checkpoint disagreeing with a
	// full fold). Processing for the user halts; an operator must intervene.
	ErrIntegrityFault = errors.New("ledger integrity fault")

	// ErrEntryNotFound is returned by lookups for missing entries.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrSettlementFailed signals that the payment provider declined or
	// failed to settle a redemption. The hold is released by a compensating
	// adjustment.
	ErrSettlementFailed = errors.New("settlement failed")
)
