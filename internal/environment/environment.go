// File: internal/environment/environment.go
// Brief: Developer environment requests, unit naming and launch flow.

// Package environment turns a developer's request (owner, tier, key) into a
// deployment unit request and runs it through the coordinator.
package environment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/example/devenv/internal/coordinator"
	"github.com/example/devenv/internal/provider"
	"github.com/example/devenv/internal/tier"
)

const (
	UnitPrefix    = "devenv-"
	maxUnitLength = 128

	OutputInstanceID = "InstanceId"

	ParamInstanceType = "InstanceType"
	ParamUserName     = "UserName"
	ParamKeyName      = "KeyName"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Spec is a developer's environment request.
type Spec struct {
	Owner   string
	Tier    tier.Tier
	KeyName string
}

// UnitName derives the unit name from the owner identity alone, so a
// relaunch addresses the same unit and updates it in place.
func UnitName(owner string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(owner)), "-"), "-")
	if slug == "" {
		return ""
	}
	name := UnitPrefix + slug
	if len(name) > maxUnitLength {
		name = strings.TrimRight(name[:maxUnitLength], "-")
	}
	return name
}

// UnitName returns the unit this spec deploys to.
func (s Spec) UnitName() string {
	return UnitName(s.Owner)
}

// Validate checks the owner and tier.
func (s Spec) Validate() error {
	if s.UnitName() == "" {
		return fmt.Errorf("owner %q does not contain any usable characters", s.Owner)
	}
	if _, err := tier.Parse(string(s.Tier)); err != nil {
		return err
	}
	return nil
}

// Request builds the unit request for the given template.
func (s Spec) Request(tmpl provider.TemplateRef) provider.Request {
	params := map[string]string{
		ParamInstanceType: s.Tier.Size().InstanceClass,
		ParamUserName:     s.Owner,
	}
	if key := strings.TrimSpace(s.KeyName); key != "" {
		params[ParamKeyName] = key
	}
	return provider.Request{
		Name:       s.UnitName(),
		Template:   tmpl,
		Parameters: params,
		Tags: map[string]string{
			"Owner":       s.Owner,
			"Tier":        string(s.Tier),
			"ManagedBy":   "Developer",
			"Environment": "Development",
		},
	}
}

// RequiredOutputs lists the outputs a launched environment must expose.
func RequiredOutputs() []string {
	return []string{OutputInstanceID}
}

// ConnectCommand builds the Session Manager command for an instance.
func ConnectCommand(instanceID, region string) string {
	cmd := "aws ssm start-session --target " + instanceID
	if region = strings.TrimSpace(region); region != "" {
		cmd += " --region " + region
	}
	return cmd
}

// InstanceIDs returns the instance identifiers found in outputs, InstanceId first.
func InstanceIDs(outputs map[string]string) []string {
	var ids []string
	if id := strings.TrimSpace(outputs[OutputInstanceID]); id != "" {
		ids = append(ids, id)
	}
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == OutputInstanceID || !strings.Contains(strings.ToLower(k), "instance") {
			continue
		}
		if v := strings.TrimSpace(outputs[k]); strings.HasPrefix(v, "i-") {
			ids = append(ids, v)
		}
	}
	return ids
}

// Launch is a launched (or relaunched) environment.
type Launch struct {
	Spec           Spec
	Result         coordinator.Result
	InstanceID     string
	ConnectCommand string
}

// Launcher runs environment specs through a coordinator.
type Launcher struct {
	Coordinator *coordinator.Coordinator
	Template    provider.TemplateRef
	Region      string
}

// Launch deploys spec and waits for it to settle.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (Launch, error) {
	if err := spec.Validate(); err != nil {
		return Launch{Spec: spec}, err
	}
	if l.Template.Empty() {
		return Launch{Spec: spec}, errors.New("no environment template configured")
	}
	res, err := l.Coordinator.Deploy(ctx, spec.Request(l.Template), RequiredOutputs()...)
	out := Launch{Spec: spec, Result: res}
	if err != nil {
		return out, err
	}
	out.InstanceID = res.Outputs[OutputInstanceID]
	out.ConnectCommand = ConnectCommand(out.InstanceID, l.Region)
	return out, nil
}

// Submit dispatches spec without waiting for convergence.
func (l *Launcher) Submit(ctx context.Context, spec Spec) (provider.Handle, error) {
	if err := spec.Validate(); err != nil {
		return provider.Handle{}, err
	}
	if l.Template.Empty() {
		return provider.Handle{}, errors.New("no environment template configured")
	}
	return l.Coordinator.Dispatch(ctx, spec.Request(l.Template))
}
