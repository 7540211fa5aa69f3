package policy

import (
	"errors"
	"testing"
	"time"

	"provenance/go-backend/internal/domains/contracts"
)

func TestValidateDelegationWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	nowSec := uint64(now.Unix())

	if _, err := ValidateDelegationWindow(now, nowSec+7200, nowSec+3600, ExpiryOrderingReject); err != nil {
		t.Fatalf("expected ordered window to pass, got %v", err)
	}

	_, err := ValidateDelegationWindow(now, nowSec+7200, nowSec, ExpiryOrderingWarn)
	if !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("expected ErrDeadlinePassed for deadline==now, got %v", err)
	}
	if !errors.Is(err, contracts.ErrRegistryRejected) {
		t.Fatalf("past deadline must classify as registry rejection, got %v", err)
	}

	check, err := ValidateDelegationWindow(now, nowSec+10, nowSec+3600, ExpiryOrderingWarn)
	if err != nil {
		t.Fatalf("warn mode must not fail, got %v", err)
	}
	if !check.ExpiryNotAfterDeadline {
		t.Fatal("expected warn mode to flag expiry before deadline")
	}

	_, err = ValidateDelegationWindow(now, nowSec+3600, nowSec+3600, ExpiryOrderingReject)
	if !errors.Is(err, ErrExpiryBeforeDeadline) {
		t.Fatalf("expected ErrExpiryBeforeDeadline, got %v", err)
	}
}

func TestParseExpiryOrderingMode(t *testing.T) {
	for raw, want := range map[string]ExpiryOrderingMode{
		"":         ExpiryOrderingWarn,
		"warn":     ExpiryOrderingWarn,
		" REJECT ": ExpiryOrderingReject,
	} {
		got, err := ParseExpiryOrderingMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseExpiryOrderingMode(%q)=%q,%v want %q", raw, got, err, want)
		}
	}
	if _, err := ParseExpiryOrderingMode("strict"); !errors.Is(err, ErrInvalidOrderingMode) {
		t.Fatalf("expected ErrInvalidOrderingMode, got %v", err)
	}
}

func TestDefaultWindows(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	expiry, deadline := DefaultWindows(now)
	if expiry != 1_700_000_000+72*3600 {
		t.Fatalf("unexpected expiry %d", expiry)
	}
	if deadline != 1_700_000_000+24*3600 {
		t.Fatalf("unexpected deadline %d", deadline)
	}
	expiry, deadline = Windows(now, time.Hour, 0)
	if expiry != 1_700_000_000+3600 || deadline != 1_700_000_000+24*3600 {
		t.Fatalf("unexpected custom windows %d/%d", expiry, deadline)
	}
}
