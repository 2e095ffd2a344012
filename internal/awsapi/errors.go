// File: internal/awsapi/errors.go
// Brief: Classification of AWS API failures into the devenv error taxonomy.

package awsapi

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/example/devenv/internal/provider"
)

var authCodes = map[string]struct{}{
	"ExpiredToken":                {},
	"ExpiredTokenException":       {},
	"InvalidClientTokenId":        {},
	"UnrecognizedClientException": {},
	"SignatureDoesNotMatch":       {},
	"MissingAuthenticationToken":  {},
	"IncompleteSignature":         {},
	"InvalidAccessKeyId":          {},
}

var throttleCodes = map[string]struct{}{
	"Throttling":               {},
	"ThrottlingException":      {},
	"RequestLimitExceeded":     {},
	"TooManyRequestsException": {},
	"SlowDown":                 {},
}

var notFoundCodes = map[string]struct{}{
	"ResourceNotFoundException": {},
	"NotFound":                  {},
	"NoSuchBucket":              {},
	"NoSuchKey":                 {},
	"StackNotFoundException":    {},
}

var inProgressCodes = map[string]struct{}{
	"InvalidStateException":             {},
	"OperationInProgressException":      {},
	"OperationIdAlreadyExistsException": {},
	"ConflictException":                 {},
}

// Classify maps err onto a *provider.APIError. The provider's own code and
// message are kept verbatim. Context errors and unrecognized transport
// failures are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *provider.APIError
	if errors.As(err, &existing) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		msg := apiErr.ErrorMessage()
		return &provider.APIError{Kind: kindFor(code, msg), Code: code, Message: msg, Err: err}
	}
	if isCredentialFailure(err.Error()) {
		return &provider.APIError{Kind: provider.KindAuthentication, Message: err.Error(), Err: err}
	}
	return err
}

func kindFor(code, msg string) provider.Kind {
	lower := strings.ToLower(msg)
	if _, ok := authCodes[code]; ok {
		return provider.KindAuthentication
	}
	if _, ok := throttleCodes[code]; ok {
		return provider.KindThrottled
	}
	if _, ok := notFoundCodes[code]; ok {
		return provider.KindNotFound
	}
	if _, ok := inProgressCodes[code]; ok {
		return provider.KindInProgress
	}
	switch {
	case strings.Contains(lower, "no updates are to be performed"):
		return provider.KindNoChanges
	case strings.Contains(lower, "does not exist"):
		return provider.KindNotFound
	case strings.Contains(lower, "_in_progress state"), strings.Contains(lower, "operation in progress"), strings.Contains(lower, "is under change"):
		return provider.KindInProgress
	default:
		return provider.KindRejected
	}
}

func isCredentialFailure(msg string) bool {
	lower := strings.ToLower(msg)
	for _, needle := range []string{
		"failed to retrieve credentials",
		"no valid credential",
		"failed to refresh cached credentials",
		"the sso session",
		"token has expired",
		"anonymous credentials",
	} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
