package ledger

import "errors"

var (
	ErrInsufficientCredit = errors.New("insufficient credit balance")
	ErrUserNotFound       = errors.New("user not found")
	// ErrDuplicateEntry is returned when a row with the same kind and
	// reference id already exists; the balance is left untouched.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidKind    = errors.New("invalid credit kind")
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientCredit):
		return "insufficient"
	case errors.Is(err, ErrDuplicateEntry):
		return "duplicate"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidKind):
		return "invalid"
	default:
		return "error"
	}
}
