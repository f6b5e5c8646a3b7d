package llmerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorTypeString(t *testing.T) {
	cases := map[ErrorType]string{
		ErrorTypeRateLimit:          "rate_limit",
		ErrorTypeTransient:          "transient",
		ErrorTypeEmptyResponse:      "empty_response",
		ErrorTypeAuth:               "auth",
		ErrorTypeBadPrompt:          "bad_prompt",
		ErrorTypeUnknown:            "unknown",
		ErrorTypeServiceUnavailable: "service_unavailable",
	}
	for et, want := range cases {
		if got := et.String(); got != want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", et, got, want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse, ErrorTypeUnknown}
	for _, et := range retryable {
		e := &Error{Type: et}
		if !e.IsRetryable() {
			t.Errorf("expected %s to be retryable", et)
		}
	}

	permanent := []ErrorType{ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable}
	for _, et := range permanent {
		e := &Error{Type: et}
		if e.IsRetryable() {
			t.Errorf("expected %s to not be retryable", et)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	e := NewErrorWithCause(ErrorTypeTransient, cause, "wrapped")
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsAndTypeOf(t *testing.T) {
	e := NewError(ErrorTypeRateLimit, "slow down")
	wrapped := fmt.Errorf("call failed: %w", e)

	if !Is(wrapped, ErrorTypeRateLimit) {
		t.Error("expected Is to match wrapped error type")
	}
	if TypeOf(wrapped) != ErrorTypeRateLimit {
		t.Errorf("TypeOf = %s, want rate_limit", TypeOf(wrapped))
	}
	if TypeOf(errors.New("plain")) != ErrorTypeUnknown {
		t.Error("expected unknown for unclassified error")
	}
}

func TestServiceUnavailable(t *testing.T) {
	cause := errors.New("503")
	e := NewServiceUnavailableError(cause, 4)

	if !IsServiceUnavailable(e) {
		t.Error("expected IsServiceUnavailable to be true")
	}
	if !strings.Contains(e.Error(), "4 retry attempts") {
		t.Errorf("unexpected message: %s", e.Error())
	}
}

func TestSanitizePrompt(t *testing.T) {
	short := "short prompt"
	if got := SanitizePrompt(short, 100); got != short {
		t.Errorf("expected short prompt unchanged, got %q", got)
	}

	long := strings.Repeat("x", 5000)
	got := SanitizePrompt(long, 400)
	if len(got) >= len(long) {
		t.Error("expected long prompt to be shortened")
	}
	if !strings.Contains(got, "hash:") {
		t.Error("expected hash marker in sanitized prompt")
	}
}

func TestGetRetryConfig(t *testing.T) {
	e := &Error{Type: ErrorTypeRateLimit}
	cfg := e.GetRetryConfig()
	if cfg.MaxRetries != DefaultRateLimitRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, DefaultRateLimitRetries)
	}
}
