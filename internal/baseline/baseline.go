// File: internal/baseline/baseline.go
// Brief: Explicit record of the shared infrastructure deployed by an administrator.

// Package baseline loads the shared network/catalog infrastructure as an
// explicit, versioned record that is passed to the developer flow instead of
// being looked up implicitly through cross-stack exports.
package baseline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/example/devenv/internal/provider"
)

const (
	DefaultStackName = "AgentDevEnv-Infrastructure-Master"
	DefaultPortfolio = "Development Environment Portfolio"
	DefaultProduct   = "Development Environment"

	ExportPortfolio      = "PortfolioName"
	ExportProduct        = "ProductName"
	ExportArtifactBucket = "ArtifactBucketName"
)

// Ref names the shared infrastructure to load.
type Ref struct {
	StackName string
	Region    string
	Portfolio string
	Product   string
}

// Record is the shared infrastructure as deployed.
type Record struct {
	StackName      string
	Region         string
	Status         string
	Version        string
	Portfolio      string
	Product        string
	ArtifactBucket string
	Exports        map[string]string
}

// Lookup returns an export by key. Absent keys are an error, never a default.
func (r Record) Lookup(key string) (string, error) {
	v := strings.TrimSpace(r.Exports[key])
	if v == "" {
		return "", &provider.MissingOutputError{Unit: r.StackName, Keys: []string{key}}
	}
	return v, nil
}

// Load reads the shared infrastructure record through p. The stack must exist,
// be settled successfully and export its artifact bucket. Names in ref win
// over the names exported by the stack, which win over the defaults.
func Load(ctx context.Context, p provider.Provider, ref Ref) (Record, error) {
	name := strings.TrimSpace(ref.StackName)
	if name == "" {
		name = DefaultStackName
	}
	ex, err := p.Describe(ctx, name)
	if err != nil {
		return Record{}, fmt.Errorf("load shared infrastructure %s: %w", name, err)
	}
	var status provider.Status
	switch v := ex.(type) {
	case provider.Absent:
		return Record{}, &provider.APIError{
			Kind:    provider.KindNotFound,
			Message: fmt.Sprintf("shared infrastructure stack %s not found in %s; ask an administrator to run 'devenv admin deploy'", name, ref.Region),
		}
	case provider.Present:
		status = v.Status
	default:
		return Record{}, fmt.Errorf("load shared infrastructure %s: unexpected existence result %T", name, ex)
	}
	if status.Phase != provider.PhaseSucceeded {
		return Record{}, fmt.Errorf("shared infrastructure stack %s is %s, not ready for launches", name, status.Raw)
	}
	exports, err := p.GetOutputs(ctx, name)
	if err != nil {
		return Record{}, fmt.Errorf("read shared infrastructure outputs: %w", err)
	}
	rec := Record{
		StackName: name,
		Region:    ref.Region,
		Status:    status.Raw,
		Version:   Version(exports),
		Portfolio: firstNonEmpty(ref.Portfolio, exports[ExportPortfolio], DefaultPortfolio),
		Product:   firstNonEmpty(ref.Product, exports[ExportProduct], DefaultProduct),
		Exports:   exports,
	}
	if rec.ArtifactBucket, err = rec.Lookup(ExportArtifactBucket); err != nil {
		return Record{}, fmt.Errorf("shared infrastructure stack %s: %w", name, err)
	}
	return rec, nil
}

// Version fingerprints a set of exports; it changes whenever any export does.
func Version(exports map[string]string) string {
	keys := make([]string, 0, len(exports))
	for k := range exports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, exports[k])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
