package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
)

// Verification lifecycle errors.
var (
	ErrInvalidFormat   = fmt.Errorf("%w: invalid phone number format", ErrValidation)
	ErrDuplicateNumber = fmt.Errorf("%w: phone number already registered", ErrConflict)
	ErrCodeExpired     = fmt.Errorf("%w: verification code expired", ErrValidation)
	ErrCodeMismatch    = fmt.Errorf("%w: verification code mismatch", ErrValidation)
	ErrTooManyAttempts = fmt.Errorf("%w: too many verification attempts", ErrValidation)
)

// Tier admission errors.
var (
	ErrUpgradeRequired = fmt.Errorf("%w: upgrade required", ErrValidation)
	ErrQuotaExceeded   = fmt.Errorf("%w: tier quota exceeded", ErrValidation)
)

// Scheduling lease errors.
var (
	ErrClaimHeld = fmt.Errorf("%w: schedule run already in flight", ErrConflict)
	ErrClaimLost = errors.New("schedule claim lost")
)
