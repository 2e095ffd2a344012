// File: internal/provider/fake/fake.go
// Brief: In-memory deployment provider used by coordinator and CLI tests.

// Package fake is an in-memory provider.Provider. Submissions settle after a
// configurable number of polls, which lets tests drive every branch of the
// coordinator without a network.
package fake

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/example/devenv/internal/provider"
)

// OutputsFunc computes the outputs a unit exposes after a successful submission.
type OutputsFunc func(req provider.Request, id string) map[string]string

// Unit is the stored state of one named unit.
type Unit struct {
	ID       string
	Request  provider.Request
	Outputs  map[string]string
	Status   provider.Status
	Created  time.Time
	Versions int
}

type submission struct {
	handle    provider.Handle
	req       provider.Request
	remaining int
	failure   *failure
	done      bool
	status    provider.Status
}

type failure struct {
	reason string
	events []string
}

// Provider is safe for concurrent use.
type Provider struct {
	mu      sync.Mutex
	units   map[string]*Unit
	subs    map[string]*submission
	seq     int
	settle  int
	outputs OutputsFunc
	now     func() time.Time

	busy        int
	pollErrs    int
	pollErr     error
	describeErr error
	submitErr   error
	failNext    *failure
	calls       []string
}

// Option configures a Provider.
type Option func(*Provider)

// WithSettle sets how many polls report InProgress before a submission settles.
func WithSettle(n int) Option {
	return func(p *Provider) { p.settle = n }
}

// WithOutputs overrides how outputs are derived from a request.
func WithOutputs(fn OutputsFunc) Option {
	return func(p *Provider) { p.outputs = fn }
}

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New returns an empty provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		units:   map[string]*Unit{},
		subs:    map[string]*submission{},
		settle:  1,
		outputs: EchoOutputs,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EchoOutputs exposes every parameter as an output plus UnitId.
func EchoOutputs(req provider.Request, id string) map[string]string {
	out := make(map[string]string, len(req.Parameters)+1)
	maps.Copy(out, req.Parameters)
	out["UnitId"] = id
	return out
}

// SetBusy makes the next n create/update calls fail with an in-progress error.
func (p *Provider) SetBusy(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = n
}

// FailNext makes the next submission settle as failed.
func (p *Provider) FailNext(reason string, events ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = &failure{reason: reason, events: events}
}

// FailPolls makes the next n PollStatus calls return err.
func (p *Provider) FailPolls(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pollErrs = n
	p.pollErr = err
}

// FailDescribe makes every Describe call return err until cleared with nil.
func (p *Provider) FailDescribe(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.describeErr = err
}

// FailSubmit makes every create/update/delete call return err until cleared with nil.
func (p *Provider) FailSubmit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitErr = err
}

// Seed stores a settled unit as if it had been created earlier.
func (p *Provider) Seed(req provider.Request) Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID(req.Name)
	u := &Unit{
		ID:       id,
		Request:  cloneRequest(req),
		Outputs:  p.outputs(req, id),
		Status:   provider.Status{Phase: provider.PhaseSucceeded, Raw: "CREATE_COMPLETE"},
		Created:  p.now(),
		Versions: 1,
	}
	p.units[req.Name] = u
	return *u
}

// Unit returns a copy of the stored unit.
func (p *Provider) Unit(name string) (Unit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.units[name]
	if !ok {
		return Unit{}, false
	}
	cp := *u
	cp.Request = cloneRequest(u.Request)
	cp.Outputs = maps.Clone(u.Outputs)
	return cp, true
}

// SetOutputs replaces the stored outputs of a unit.
func (p *Provider) SetOutputs(name string, outputs map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.units[name]; ok {
		u.Outputs = maps.Clone(outputs)
	}
}

// Calls returns the verbs received so far, e.g. "describe:devenv-alice".
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Provider) record(verb, name string) {
	p.calls = append(p.calls, verb+":"+name)
}

func (p *Provider) nextID(name string) string {
	p.seq++
	return fmt.Sprintf("%s-%04d", name, p.seq)
}

func (p *Provider) Describe(ctx context.Context, name string) (provider.Existence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("describe", name)
	if p.describeErr != nil {
		return nil, p.describeErr
	}
	u, ok := p.units[name]
	if !ok {
		return provider.Absent{}, nil
	}
	return provider.Present{Status: u.Status}, nil
}

func (p *Provider) Create(ctx context.Context, req provider.Request) (provider.Handle, error) {
	return p.submit(ctx, provider.ActionCreate, req)
}

func (p *Provider) Update(ctx context.Context, req provider.Request) (provider.Handle, error) {
	return p.submit(ctx, provider.ActionUpdate, req)
}

func (p *Provider) Delete(ctx context.Context, name string) (provider.Handle, error) {
	return p.submit(ctx, provider.ActionDelete, provider.Request{Name: name})
}

func (p *Provider) submit(ctx context.Context, action provider.Action, req provider.Request) (provider.Handle, error) {
	if err := ctx.Err(); err != nil {
		return provider.Handle{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(string(action), req.Name)
	if p.submitErr != nil {
		return provider.Handle{}, p.submitErr
	}
	if p.busy > 0 {
		p.busy--
		return provider.Handle{}, &provider.APIError{Kind: provider.KindInProgress, Code: "InvalidState", Message: fmt.Sprintf("unit %s has an operation in progress", req.Name)}
	}
	u, exists := p.units[req.Name]
	if exists && u.Status.Phase == provider.PhaseInProgress {
		return provider.Handle{}, &provider.APIError{Kind: provider.KindInProgress, Code: "InvalidState", Message: fmt.Sprintf("unit %s is in %s state and can not be updated", req.Name, u.Status.Raw)}
	}
	switch action {
	case provider.ActionCreate:
		if exists {
			return provider.Handle{}, &provider.APIError{Kind: provider.KindRejected, Code: "AlreadyExists", Message: fmt.Sprintf("unit %s already exists", req.Name)}
		}
		if req.Template.Empty() {
			return provider.Handle{}, &provider.APIError{Kind: provider.KindRejected, Code: "ValidationError", Message: "template is required"}
		}
		u = &Unit{ID: p.nextID(req.Name), Created: p.now()}
		p.units[req.Name] = u
	case provider.ActionUpdate:
		if !exists {
			return provider.Handle{}, &provider.APIError{Kind: provider.KindRejected, Code: "ValidationError", Message: fmt.Sprintf("unit %s does not exist", req.Name)}
		}
		if sameRequest(u.Request, req) && u.Status.Phase == provider.PhaseSucceeded {
			return provider.Handle{}, &provider.APIError{Kind: provider.KindNoChanges, Code: "ValidationError", Message: "No updates are to be performed."}
		}
	case provider.ActionDelete:
		if !exists {
			return provider.Handle{}, &provider.APIError{Kind: provider.KindNotFound, Code: "ResourceNotFound", Message: fmt.Sprintf("unit %s does not exist", req.Name)}
		}
	}
	h := provider.Handle{Unit: req.Name, Action: action, ID: fmt.Sprintf("%s/%s/%d", req.Name, action, p.seq), Submitted: p.now()}
	p.seq++
	u.Status = provider.Status{Phase: provider.PhaseInProgress, Raw: rawInProgress(action)}
	p.subs[h.ID] = &submission{handle: h, req: cloneRequest(req), remaining: p.settle, failure: p.failNext}
	p.failNext = nil
	return h, nil
}

func (p *Provider) PollStatus(ctx context.Context, h provider.Handle) (provider.Status, error) {
	if err := ctx.Err(); err != nil {
		return provider.Status{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("poll", h.Unit)
	if p.pollErrs > 0 {
		p.pollErrs--
		return provider.Status{}, p.pollErr
	}
	sub, ok := p.subs[h.ID]
	if !ok {
		return provider.Status{}, &provider.APIError{Kind: provider.KindNotFound, Code: "ResourceNotFound", Message: fmt.Sprintf("submission %s not found", h.ID)}
	}
	if sub.done {
		return sub.status, nil
	}
	if sub.remaining > 0 {
		sub.remaining--
		return provider.Status{Phase: provider.PhaseInProgress, Raw: rawInProgress(h.Action)}, nil
	}
	sub.done = true
	u := p.units[h.Unit]
	if sub.failure != nil {
		sub.status = provider.Status{Phase: provider.PhaseFailed, Raw: rawFailed(h.Action), Reason: sub.failure.reason, Events: sub.failure.events}
		if h.Action == provider.ActionUpdate {
			// Failed updates roll back to the previous settled request.
			u.Status = provider.Status{Phase: provider.PhaseSucceeded, Raw: "UPDATE_ROLLBACK_COMPLETE"}
		} else {
			u.Status = sub.status
		}
		return sub.status, nil
	}
	switch h.Action {
	case provider.ActionDelete:
		delete(p.units, h.Unit)
		sub.status = provider.Status{Phase: provider.PhaseSucceeded, Raw: "DELETE_COMPLETE"}
	default:
		u.Request = sub.req
		u.Outputs = p.outputs(sub.req, u.ID)
		u.Versions++
		sub.status = provider.Status{Phase: provider.PhaseSucceeded, Raw: rawSucceeded(h.Action)}
		u.Status = sub.status
	}
	return sub.status, nil
}

func (p *Provider) GetOutputs(ctx context.Context, name string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("outputs", name)
	u, ok := p.units[name]
	if !ok {
		return nil, &provider.APIError{Kind: provider.KindNotFound, Code: "ResourceNotFound", Message: fmt.Sprintf("unit %s does not exist", name)}
	}
	return maps.Clone(u.Outputs), nil
}

func (p *Provider) List(ctx context.Context) ([]provider.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("list", "")
	out := make([]provider.Summary, 0, len(p.units))
	for name, u := range p.units {
		out = append(out, provider.Summary{Name: name, ID: u.ID, Status: u.Status.Raw, Type: "FAKE", Created: u.Created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func sameRequest(a, b provider.Request) bool {
	return a.Template == b.Template && maps.Equal(a.Parameters, b.Parameters) && maps.Equal(a.Tags, b.Tags)
}

func cloneRequest(req provider.Request) provider.Request {
	req.Parameters = maps.Clone(req.Parameters)
	req.Tags = maps.Clone(req.Tags)
	req.Capabilities = append([]string(nil), req.Capabilities...)
	return req
}

func rawInProgress(a provider.Action) string {
	switch a {
	case provider.ActionCreate:
		return "CREATE_IN_PROGRESS"
	case provider.ActionDelete:
		return "DELETE_IN_PROGRESS"
	default:
		return "UPDATE_IN_PROGRESS"
	}
}

func rawSucceeded(a provider.Action) string {
	if a == provider.ActionCreate {
		return "CREATE_COMPLETE"
	}
	return "UPDATE_COMPLETE"
}

func rawFailed(a provider.Action) string {
	switch a {
	case provider.ActionCreate:
		return "ROLLBACK_COMPLETE"
	case provider.ActionDelete:
		return "DELETE_FAILED"
	default:
		return "UPDATE_ROLLBACK_COMPLETE"
	}
}

var _ provider.Provider = (*Provider)(nil)
