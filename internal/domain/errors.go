package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDuplicateModel     = errors.New("duplicate model")
	ErrValidation         = errors.New("validation failed")
)

// ErrNotReady is a transition failure for confirming before the terminal step.
var ErrNotReady = fmt.Errorf("not ready: %w", ErrInvalidTransition)
