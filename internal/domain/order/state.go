package order

// orderState implements the state pattern for order lifecycle transitions.
// Only pending orders may move; every terminal state rejects transitions
// except a repeat of the transition that produced it, which is a no-op.
type orderState interface {
	confirm() (Status, error)
	cancel() (Status, error)
	failPayment() (Status, error)
}

func stateFor(s Status) orderState {
	switch s {
	case StatusConfirmed:
		return confirmedState{}
	case StatusCancelled:
		return cancelledState{}
	case StatusPaymentFailed:
		return paymentFailedState{}
	default:
		return pendingState{}
	}
}

type pendingState struct{}

func (pendingState) confirm() (Status, error)     { return StatusConfirmed, nil }
func (pendingState) cancel() (Status, error)      { return StatusCancelled, nil }
func (pendingState) failPayment() (Status, error) { return StatusPaymentFailed, nil }

type confirmedState struct{}

func (confirmedState) confirm() (Status, error)     { return StatusConfirmed, nil }
func (confirmedState) cancel() (Status, error)      { return "", ErrInvalidStateTransition }
func (confirmedState) failPayment() (Status, error) { return "", ErrInvalidStateTransition }

type cancelledState struct{}

func (cancelledState) confirm() (Status, error)     { return "", ErrInvalidStateTransition }
func (cancelledState) cancel() (Status, error)      { return StatusCancelled, nil }
func (cancelledState) failPayment() (Status, error) { return "", ErrInvalidStateTransition }

type paymentFailedState struct{}

func (paymentFailedState) confirm() (Status, error)     { return "", ErrInvalidStateTransition }
func (paymentFailedState) cancel() (Status, error)      { return "", ErrInvalidStateTransition }
func (paymentFailedState) failPayment() (Status, error) { return StatusPaymentFailed, nil }
