// Package identity verifies that usable AWS credentials are present.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/example/devenv/internal/awsapi"
	"github.com/example/devenv/internal/provider"
)

// API is the subset of the STS client used here.
type API interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Caller is the authenticated principal.
type Caller struct {
	Account string
	ARN     string
	UserID  string
}

// Verify returns the caller identity. Any failure is reported as
// provider.ErrAuthenticationMissing with the provider text kept.
func Verify(ctx context.Context, api API) (Caller, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Caller{}, ctxErr
		}
		return Caller{}, &provider.APIError{Kind: provider.KindAuthentication, Message: awsapi.Classify(err).Error(), Err: err}
	}
	c := Caller{Account: aws.ToString(out.Account), ARN: aws.ToString(out.Arn), UserID: aws.ToString(out.UserId)}
	if c.Account == "" {
		return Caller{}, &provider.APIError{Kind: provider.KindAuthentication, Message: fmt.Sprintf("caller identity %q has no account", c.ARN)}
	}
	return c, nil
}

// NewClient builds an STS client from an SDK configuration.
func NewClient(cfg aws.Config) *sts.Client {
	return sts.NewFromConfig(cfg)
}

// Name is the principal name at the end of the ARN, e.g. "alice" for
// arn:aws:sts::123456789012:assumed-role/dev/alice.
func (c Caller) Name() string {
	arn := c.ARN
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	if i := strings.LastIndex(arn, ":"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}
