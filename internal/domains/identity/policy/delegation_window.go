package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"provenance/go-backend/internal/domains/contracts"
)

const (
	DefaultExpiryWindow   = 72 * time.Hour
	DefaultDeadlineWindow = 24 * time.Hour
)

// ExpiryOrderingMode decides what happens when a delegation expires no later
// than its signature deadline.
type ExpiryOrderingMode string

const (
	ExpiryOrderingWarn   ExpiryOrderingMode = "warn"
	ExpiryOrderingReject ExpiryOrderingMode = "reject"
)

var (
	ErrDeadlinePassed       = fmt.Errorf("%w: deadline is not in the future", contracts.ErrRegistryRejected)
	ErrExpiryBeforeDeadline = errors.New("expiry does not exceed deadline")
	ErrInvalidOrderingMode  = errors.New("invalid expiry ordering mode")
)

func ParseExpiryOrderingMode(raw string) (ExpiryOrderingMode, error) {
	switch ExpiryOrderingMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExpiryOrderingWarn:
		return ExpiryOrderingWarn, nil
	case ExpiryOrderingReject:
		return ExpiryOrderingReject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderingMode, raw)
	}
}

// WindowCheck reports a delegation window that passed validation but still
// deserves attention.
type WindowCheck struct {
	ExpiryNotAfterDeadline bool
}

// ValidateDelegationWindow checks the timestamps of a delegation about to be
// signed. The deadline must lie strictly in the future. Expiry ordering is
// handled per mode.
func ValidateDelegationWindow(now time.Time, expiry, deadline uint64, mode ExpiryOrderingMode) (WindowCheck, error) {
	if deadline <= uint64(now.Unix()) {
		return WindowCheck{}, ErrDeadlinePassed
	}
	if expiry > deadline {
		return WindowCheck{}, nil
	}
	if mode == ExpiryOrderingReject {
		return WindowCheck{}, ErrExpiryBeforeDeadline
	}
	return WindowCheck{ExpiryNotAfterDeadline: true}, nil
}

// DefaultWindows returns expiry and deadline relative to now.
func DefaultWindows(now time.Time) (expiry, deadline uint64) {
	return Windows(now, DefaultExpiryWindow, DefaultDeadlineWindow)
}

func Windows(now time.Time, expiryWindow, deadlineWindow time.Duration) (expiry, deadline uint64) {
	if expiryWindow <= 0 {
		expiryWindow = DefaultExpiryWindow
	}
	if deadlineWindow <= 0 {
		deadlineWindow = DefaultDeadlineWindow
	}
	return uint64(now.Add(expiryWindow).Unix()), uint64(now.Add(deadlineWindow).Unix())
}
