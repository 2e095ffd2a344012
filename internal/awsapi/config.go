// File: internal/awsapi/config.go
// Brief: AWS SDK configuration loading and region resolution.

// Package awsapi loads AWS SDK configuration for devenv and translates AWS
// API failures into the provider error taxonomy.
package awsapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-logr/logr"
)

// DefaultRegion is used when neither flags, environment nor the shared AWS
// config name a region.
const DefaultRegion = "us-east-1"

// Settings select the AWS profile and region.
type Settings struct {
	Region  string
	Profile string
	// AppID is appended to the SDK user agent.
	AppID string
}

// Load resolves the SDK configuration. The region falls back to the shared
// config and then DefaultRegion.
func Load(ctx context.Context, s Settings, log logr.Logger) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if p := strings.TrimSpace(s.Profile); p != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(p))
	}
	if r := strings.TrimSpace(s.Region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	if id := strings.TrimSpace(s.AppID); id != "" {
		opts = append(opts, awsconfig.WithAppID(id))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", Classify(err))
	}
	region, fellBack := ResolveRegion(s.Region, cfg.Region)
	if fellBack {
		log.Info("no AWS region found in configuration, using default", "region", region)
	}
	cfg.Region = region
	return cfg, nil
}

// ResolveRegion picks the explicit region, then the configured one, then
// DefaultRegion. The bool reports whether the default was used.
func ResolveRegion(explicit, configured string) (string, bool) {
	if r := strings.TrimSpace(explicit); r != "" {
		return r, false
	}
	if r := strings.TrimSpace(configured); r != "" {
		return r, false
	}
	return DefaultRegion, true
}
