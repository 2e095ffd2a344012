package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthenticationMissing = errors.New("authentication missing")
	ErrDeploymentRejected    = errors.New("deployment rejected")
	ErrOperationInProgress   = errors.New("operation in progress")
	ErrTimedOut              = errors.New("timed out")
	ErrMissingOutput         = errors.New("missing output")
	ErrNotFound              = errors.New("not found")
	ErrNoChanges             = errors.New("no changes")
)

// Kind classifies a provider failure into the devenv taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindRejected
	KindInProgress
	KindNotFound
	KindNoChanges
	KindThrottled
)

func (k Kind) sentinel() error {
	switch k {
	case KindAuthentication:
		return ErrAuthenticationMissing
	case KindRejected:
		return ErrDeploymentRejected
	case KindInProgress:
		return ErrOperationInProgress
	case KindNotFound:
		return ErrNotFound
	case KindNoChanges:
		return ErrNoChanges
	default:
		return nil
	}
}

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindRejected:
		return "rejected"
	case KindInProgress:
		return "in-progress"
	case KindNotFound:
		return "not-found"
	case KindNoChanges:
		return "no-changes"
	case KindThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// APIError carries the provider's own message verbatim while still matching
// the taxonomy sentinels through errors.Is.
type APIError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *APIError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether waiting and trying again can succeed.
func (e *APIError) Retryable() bool {
	return e.Kind == KindInProgress || e.Kind == KindThrottled
}

// MissingOutputError lists every required output key that was absent.
type MissingOutputError struct {
	Unit string
	Keys []string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("unit %s is missing required output(s): %s", e.Unit, strings.Join(e.Keys, ", "))
}

func (e *MissingOutputError) Is(target error) bool { return target == ErrMissingOutput }

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}
