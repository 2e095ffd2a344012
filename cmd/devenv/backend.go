// File: cmd/devenv/backend.go
// Brief: CLI command wiring for the AWS-backed providers.

package main

import (
	"context"

	"github.com/example/devenv/internal/artifacts"
	"github.com/example/devenv/internal/awsapi"
	"github.com/example/devenv/internal/config"
	"github.com/example/devenv/internal/identity"
	"github.com/example/devenv/internal/provider"
	"github.com/example/devenv/internal/provider/catalog"
	"github.com/example/devenv/internal/provider/cfn"
	"github.com/example/devenv/internal/version"
	"github.com/go-logr/logr"
)

// environmentCatalog provisions developer units from a catalog product.
type environmentCatalog interface {
	provider.Provider
	ResolveProduct(ctx context.Context, portfolio, product string) (catalog.Product, error)
}

type artifactStore interface {
	EnsureBucket(ctx context.Context, bucket string) (bool, error)
	Upload(ctx context.Context, bucket string, uploads []artifacts.Upload) error
}

// backend groups the clients one command run needs.
type backend struct {
	Region    string
	Verify    func(ctx context.Context) (identity.Caller, error)
	Stacks    provider.Provider
	Catalog   environmentCatalog
	Artifacts artifactStore
}

type backendFactory func(ctx context.Context, opts *config.Options, log logr.Logger) (*backend, error)

func awsBackend(ctx context.Context, opts *config.Options, log logr.Logger) (*backend, error) {
	cfg, err := awsapi.Load(ctx, awsapi.Settings{Region: opts.Region, Profile: opts.Profile, AppID: version.Get().UserAgent()}, log)
	if err != nil {
		return nil, err
	}
	sts := identity.NewClient(cfg)
	return &backend{
		Region: cfg.Region,
		Verify: func(ctx context.Context) (identity.Caller, error) {
			return identity.Verify(ctx, sts)
		},
		Stacks:    cfn.NewFromConfig(cfg),
		Catalog:   catalog.NewFromConfig(cfg),
		Artifacts: artifacts.New(artifacts.NewClient(cfg), cfg.Region, log),
	}, nil
}
