package engine

import "errors"

// Engine and market errors. All of these are caller errors: the engine
// never terminates the process on bad input, and no operation leaves
// partially-mutated state behind a returned error.
var (
	ErrPairNotFound        = errors.New("pair not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrCoinNotFound        = errors.New("coin not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrInvalidRequest      = errors.New("invalid order request type")
)
