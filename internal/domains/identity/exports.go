package identity

import (
	"time"

	identitypolicy "provenance/go-backend/internal/domains/identity/policy"
)

type ExpiryOrderingMode = identitypolicy.ExpiryOrderingMode

const (
	ExpiryOrderingWarn   = identitypolicy.ExpiryOrderingWarn
	ExpiryOrderingReject = identitypolicy.ExpiryOrderingReject
)

func ParseExpiryOrderingMode(raw string) (ExpiryOrderingMode, error) {
	return identitypolicy.ParseExpiryOrderingMode(raw)
}

// Windows returns expiry and deadline timestamps relative to now.
func Windows(now time.Time, expiryWindow, deadlineWindow time.Duration) (expiry, deadline uint64) {
	return identitypolicy.Windows(now, expiryWindow, deadlineWindow)
}
