package domain

import "errors"

// Sentinel errors shared by the call stores and the state machine.
var (
	ErrCallNotFound      = errors.New("call not found")
	ErrActiveCallExists  = errors.New("patient already has an active call")
	ErrStaleCall         = errors.New("call was modified concurrently")
	ErrInvalidTransition = errors.New("invalid call transition")
)
