package trades

import (
	"errors"
	"fmt"
)

// Business-rule failures. Each structured error below matches exactly one
// of these through errors.Is.
var (
	ErrNotFound               = errors.New("trade not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrDateOrder              = errors.New("trade date must be <= value date <= delivery date")
	ErrAlreadyExecuted        = errors.New("trade has already been booked")
	ErrIndexOutOfRange        = errors.New("history index out of range")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrConcurrentModification = errors.New("trade was modified concurrently")
)

// NotFoundError reports an unknown trade identifier
type NotFoundError struct {
	TradeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("trade %s does not exist", e.TradeID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransitionError reports an action the state machine does not allow
type TransitionError struct {
	State  TradeState
	Action TradeAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Action %s not allowed from state %s", e.Action, e.State)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// DateOrderError reports details whose dates are out of order
type DateOrderError struct {
	TradeDate    Date
	ValueDate    Date
	DeliveryDate Date
}

func (e *DateOrderError) Error() string {
	return fmt.Sprintf("Trade date must be <= value date <= delivery date (trade_date=%s, value_date=%s, delivery_date=%s)",
		e.TradeDate, e.ValueDate, e.DeliveryDate)
}

func (e *DateOrderError) Is(target error) bool { return target == ErrDateOrder }

// AlreadyExecutedError reports a cancel attempted on a booked trade
type AlreadyExecutedError struct {
	TradeID string
}

func (e *AlreadyExecutedError) Error() string {
	return fmt.Sprintf("Trade %s has already been Booked", e.TradeID)
}

func (e *AlreadyExecutedError) Is(target error) bool { return target == ErrAlreadyExecuted }

// IndexOutOfRangeError reports diff indices outside the recorded history.
// Max is len(history)-1.
type IndexOutOfRangeError struct {
	From int
	To   int
	Max  int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("Invalid history indices - min index should be 0 and max index should be %d", e.Max)
}

func (e *IndexOutOfRangeError) Is(target error) bool { return target == ErrIndexOutOfRange }

// UnauthorizedError reports a principal denied by the policy
type UnauthorizedError struct {
	PrincipalID string
	Role        Role
	Action      PolicyAction
	Reason      string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("principal %s (%s) may not %s", e.PrincipalID, e.Role, e.Action)
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// ConcurrentModificationError reports a stale write rejected by the repository
type ConcurrentModificationError struct {
	TradeID         string
	ExpectedVersion int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("trade %s was modified concurrently (expected version %d)", e.TradeID, e.ExpectedVersion)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// IsBusinessError reports whether err is one of the lifecycle rule failures
// rather than an infrastructure fault
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDateOrder) ||
		errors.Is(err, ErrAlreadyExecuted) ||
		errors.Is(err, ErrIndexOutOfRange) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrConcurrentModification)
}
