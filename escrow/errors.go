package escrow

import "errors"

// Ledger error codes. The numeric values are part of the external contract and
// must not change.
const (
	CodeUnauthorized      = 100
	CodeAlreadyExists     = 101
	CodeNotFound          = 102
	CodeInsufficientFunds = 103
	CodeInvalidState      = 104
)

// Error is a typed ledger failure carrying a stable numeric code.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	// ErrUnauthorized signals the caller lacks the right role for the transition.
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Msg: "escrow: unauthorized"}
	// ErrAlreadyExists signals a create collision on escrow or payment id.
	ErrAlreadyExists = &Error{Code: CodeAlreadyExists, Msg: "escrow: already exists"}
	// ErrNotFound signals a reference to a non-existent escrow or payment.
	ErrNotFound = &Error{Code: CodeNotFound, Msg: "escrow: not found"}
	// ErrInsufficientFunds signals a release that would push released_amount past total_amount.
	ErrInsufficientFunds = &Error{Code: CodeInsufficientFunds, Msg: "escrow: insufficient funds"}
	// ErrInvalidState signals the operation is not valid for the entity's current status.
	ErrInvalidState = &Error{Code: CodeInvalidState, Msg: "escrow: invalid state"}
	// ErrMilestoneUnverified signals the release precondition on the referenced
	// milestone was not met. Only raised when the milestone gate is enabled.
	ErrMilestoneUnverified = &Error{Code: CodeInvalidState, Msg: "escrow: milestone not verified"}
)

// CodeOf extracts the stable ledger code from an error chain. The second
// return is false for plain validation or infrastructure errors.
func CodeOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
