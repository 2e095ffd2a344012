// File: internal/provider/provider.go
// Brief: Deployment provider contract shared by CloudFormation, Service Catalog and test fakes.

// Package provider defines the narrow contract devenv needs from a cloud
// deployment service: look a unit up, submit create/update/delete, poll a
// submission and read back outputs. Convergence itself is the provider's job.
package provider

import (
	"context"
	"time"
)

// Phase is the coarse lifecycle position of a unit or submission.
type Phase string

const (
	PhaseInProgress Phase = "InProgress"
	PhaseSucceeded  Phase = "Succeeded"
	PhaseFailed     Phase = "Failed"
)

// Terminal reports whether no further automatic transition happens.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Status is a provider status snapshot. Raw and Events are kept verbatim.
type Status struct {
	Phase  Phase
	Raw    string
	Reason string
	Events []string
}

// Existence is the result of a describe call: Absent or Present.
type Existence interface {
	existence()
}

// Absent means the provider has no unit with the requested name.
type Absent struct{}

// Present means the unit exists; Status is its current state.
type Present struct {
	Status Status
}

func (Absent) existence()  {}
func (Present) existence() {}

// Action is the verb submitted to the provider.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// TemplateRef points at the declarative definition of a unit. Exactly one
// of Body, URL or Product is expected to be set.
type TemplateRef struct {
	Body     string
	URL      string
	Product  string
	Artifact string
}

// Empty reports whether no template source is set.
func (t TemplateRef) Empty() bool {
	return t.Body == "" && t.URL == "" && t.Product == ""
}

// Request is the full submission for a create or update. Create and update
// carry the same request; only the verb differs.
type Request struct {
	Name         string
	Template     TemplateRef
	Parameters   map[string]string
	Tags         map[string]string
	Capabilities []string
}

// Handle identifies one submission.
type Handle struct {
	Unit      string
	Action    Action
	ID        string
	NoOp      bool
	Submitted time.Time
}

// Summary is one row of a List call.
type Summary struct {
	Name    string
	ID      string
	Status  string
	Type    string
	Created time.Time
}

// Provider is the deployment service contract.
type Provider interface {
	Describe(ctx context.Context, name string) (Existence, error)
	Create(ctx context.Context, req Request) (Handle, error)
	Update(ctx context.Context, req Request) (Handle, error)
	Delete(ctx context.Context, name string) (Handle, error)
	PollStatus(ctx context.Context, h Handle) (Status, error)
	GetOutputs(ctx context.Context, name string) (map[string]string, error)
	List(ctx context.Context) ([]Summary, error)
}
