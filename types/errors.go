package types

import (
	"cosmossdk.io/errors"
)

// Module error codes
var (
	ErrUnknownInstrument     = errors.Register("bondbook", 1, "unknown instrument")
	ErrInstrumentNotTradable = errors.Register("bondbook", 2, "instrument is not tradable")
	ErrUnknownUser           = errors.Register("bondbook", 3, "unknown user")
	ErrBadPrice              = errors.Register("bondbook", 4, "invalid price")
	ErrBadQuantity           = errors.Register("bondbook", 5, "invalid quantity")
	ErrInsufficientHoldings  = errors.Register("bondbook", 6, "insufficient holdings")
	ErrNotCancellable        = errors.Register("bondbook", 7, "order is not cancellable")
	ErrNotOwner              = errors.Register("bondbook", 8, "order belongs to another user")
	ErrPersistenceFailure    = errors.Register("bondbook", 9, "persistence failure")
	ErrConflict              = errors.Register("bondbook", 10, "write conflict")
	ErrInternal              = errors.Register("bondbook", 11, "internal error")

	ErrOrderNotFound = errors.Register("bondbook", 20, "order not found")
)

// ErrorCode maps an engine error to its stable wire identifier.
// Unrecognized errors collapse to InternalError so internal state
// machines never leak.
func ErrorCode(err error) string {
	switch {
	case ErrUnknownInstrument.Is(err):
		return "UnknownInstrument"
	case ErrInstrumentNotTradable.Is(err):
		return "InstrumentNotTradable"
	case ErrUnknownUser.Is(err):
		return "UnknownUser"
	case ErrBadPrice.Is(err):
		return "BadPrice"
	case ErrBadQuantity.Is(err):
		return "BadQuantity"
	case ErrInsufficientHoldings.Is(err):
		return "InsufficientHoldings"
	case ErrNotCancellable.Is(err):
		return "NotCancellable"
	case ErrNotOwner.Is(err):
		return "NotOwner"
	case ErrPersistenceFailure.Is(err):
		return "PersistenceFailure"
	case ErrConflict.Is(err):
		return "Conflict"
	case ErrOrderNotFound.Is(err):
		return "OrderNotFound"
	default:
		return "InternalError"
	}
}
