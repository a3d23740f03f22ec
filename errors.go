package canbridge

import (
	"errors"
	"fmt"
)

var (
	ErrNoBus      = errors.New("no CAN bus configured")
	ErrBusOffline = errors.New("CAN bus offline")
)

// OfflineError is returned by sends on a bus that failed to initialize
type OfflineError struct {
	Cause error
}

func (e *OfflineError) Error() string {
	return fmt.Sprintf("%v : %v", ErrBusOffline, e.Cause)
}

func (e *OfflineError) Is(target error) bool {
	return target == ErrBusOffline
}

func (e *OfflineError) Unwrap() error {
	return e.Cause
}
