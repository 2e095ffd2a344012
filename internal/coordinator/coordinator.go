// File: internal/coordinator/coordinator.go
// Brief: Environment lifecycle coordinator (check, dispatch, poll, extract).

// Package coordinator drives one deployment unit through a single attempt:
// existence check, create-or-update dispatch, completion polling and output
// extraction. It holds no state between invocations; the provider serializes
// operations against a unit and performs the actual convergence.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/devenv/internal/provider"
	"github.com/go-logr/logr"
)

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultTimeout        = 30 * time.Minute
	DefaultMaxBusyRetries = 5
	DefaultMaxPollErrors  = 3
)

// Stage names the step of the pipeline that failed.
type Stage string

const (
	StageCheck    Stage = "check"
	StageDispatch Stage = "dispatch"
	StagePoll     Stage = "poll"
	StageOutputs  Stage = "outputs"
)

// StageError labels a failure with the pipeline stage and the unit.
type StageError struct {
	Stage Stage
	Unit  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Unit, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the failing stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Outcome is the end state of one attempt as seen by the caller.
type Outcome string

const (
	OutcomePending   Outcome = "Pending"
	OutcomeSucceeded Outcome = "Succeeded"
	OutcomeFailed    Outcome = "Failed"
	OutcomeTimedOut  Outcome = "TimedOut"
)

// Result is the outcome of one dispatch. Outputs is only populated on success.
type Result struct {
	Unit    string
	Action  provider.Action
	NoOp    bool
	Outcome Outcome
	Status  provider.Status
	Outputs map[string]string
	Reason  string
	Events  []string
	Elapsed time.Duration
}

// Options tune polling and retry behaviour.
type Options struct {
	PollInterval   time.Duration
	Timeout        time.Duration
	MaxBusyRetries int
	MaxPollErrors  int
	Logger         logr.Logger
	// OnStatus, when set, receives every successfully polled status.
	OnStatus func(provider.Status)

	sleep   func(ctx context.Context, d time.Duration) error
	backoff func(attempt int) time.Duration
}

// Coordinator runs the check → dispatch → poll → extract pipeline.
type Coordinator struct {
	p    provider.Provider
	opts Options
	log  logr.Logger
}

// New returns a Coordinator with zero-valued options replaced by defaults.
func New(p provider.Provider, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBusyRetries < 0 {
		opts.MaxBusyRetries = 0
	}
	if opts.MaxPollErrors < 0 {
		opts.MaxPollErrors = 0
	}
	if opts.sleep == nil {
		opts.sleep = sleepContext
	}
	if opts.backoff == nil {
		opts.backoff = busyBackoff
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Coordinator{p: p, opts: opts, log: log}
}

// Check reports whether the named unit exists. Lookup errors are returned as
// is and never coerced into Absent.
func (c *Coordinator) Check(ctx context.Context, name string) (provider.Existence, error) {
	ex, err := c.p.Describe(ctx, name)
	if err != nil {
		return nil, &StageError{Stage: StageCheck, Unit: name, Err: err}
	}
	if ex == nil {
		return nil, &StageError{Stage: StageCheck, Unit: name, Err: errors.New("provider returned no existence result")}
	}
	return ex, nil
}

// Dispatch submits a create when the unit is absent and an update when it is
// present. It returns as soon as the provider accepts the submission.
func (c *Coordinator) Dispatch(ctx context.Context, req provider.Request) (provider.Handle, error) {
	if strings.TrimSpace(req.Name) == "" {
		return provider.Handle{}, &StageError{Stage: StageDispatch, Unit: req.Name, Err: errors.New("unit name is required")}
	}
	for attempt := 1; ; attempt++ {
		ex, err := c.Check(ctx, req.Name)
		if err != nil {
			return provider.Handle{}, err
		}
		var h provider.Handle
		action := provider.ActionCreate
		switch existing := ex.(type) {
		case provider.Absent:
			h, err = c.p.Create(ctx, req)
		case provider.Present:
			action = provider.ActionUpdate
			c.log.V(1).Info("unit exists", "unit", req.Name, "status", existing.Status.Raw)
			h, err = c.p.Update(ctx, req)
		default:
			return provider.Handle{}, &StageError{Stage: StageCheck, Unit: req.Name, Err: fmt.Errorf("unexpected existence result %T", ex)}
		}
		if err == nil {
			c.log.V(1).Info("dispatched", "unit", req.Name, "action", h.Action, "id", h.ID)
			return h, nil
		}
		if action == provider.ActionUpdate && errors.Is(err, provider.ErrNoChanges) {
			c.log.V(1).Info("no changes to apply", "unit", req.Name)
			return provider.Handle{Unit: req.Name, Action: provider.ActionUpdate, NoOp: true, Submitted: time.Now()}, nil
		}
		if provider.IsRetryable(err) && attempt <= c.opts.MaxBusyRetries {
			wait := c.opts.backoff(attempt)
			c.log.Info("provider busy, retrying", "unit", req.Name, "attempt", attempt, "wait", wait.String(), "reason", err.Error())
			if serr := c.opts.sleep(ctx, wait); serr != nil {
				return provider.Handle{}, &StageError{Stage: StageDispatch, Unit: req.Name, Err: serr}
			}
			continue
		}
		return provider.Handle{}, &StageError{Stage: StageDispatch, Unit: req.Name, Err: err}
	}
}

// Extract returns the unit's outputs, failing with a MissingOutputError when
// any required key is absent or empty.
func (c *Coordinator) Extract(ctx context.Context, name string, required ...string) (map[string]string, error) {
	outputs, err := c.p.GetOutputs(ctx, name)
	if err != nil {
		return nil, &StageError{Stage: StageOutputs, Unit: name, Err: err}
	}
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(outputs[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &StageError{Stage: StageOutputs, Unit: name, Err: &provider.MissingOutputError{Unit: name, Keys: missing}}
	}
	return outputs, nil
}

// Deploy runs the whole pipeline for req and extracts the required outputs.
func (c *Coordinator) Deploy(ctx context.Context, req provider.Request, required ...string) (Result, error) {
	h, err := c.Dispatch(ctx, req)
	if err != nil {
		return Result{Unit: req.Name, Outcome: OutcomeFailed, Reason: err.Error()}, err
	}
	res, err := c.Poll(ctx, h)
	if err != nil {
		return res, err
	}
	outputs, err := c.Extract(ctx, req.Name, required...)
	if err != nil {
		return res, err
	}
	res.Outputs = outputs
	return res, nil
}

// Teardown deletes an existing unit and waits for the deletion to settle.
func (c *Coordinator) Teardown(ctx context.Context, name string) (Result, error) {
	h, err := c.SubmitDelete(ctx, name)
	if err != nil {
		return Result{Unit: name, Action: provider.ActionDelete, Outcome: OutcomeFailed, Reason: err.Error()}, err
	}
	return c.Poll(ctx, h)
}

// SubmitDelete checks that the unit exists and submits its deletion.
func (c *Coordinator) SubmitDelete(ctx context.Context, name string) (provider.Handle, error) {
	ex, err := c.Check(ctx, name)
	if err != nil {
		return provider.Handle{}, err
	}
	if _, ok := ex.(provider.Absent); ok {
		return provider.Handle{}, &StageError{Stage: StageCheck, Unit: name, Err: &provider.APIError{Kind: provider.KindNotFound, Message: fmt.Sprintf("unit %s does not exist", name)}}
	}
	h, err := c.p.Delete(ctx, name)
	if err != nil {
		return provider.Handle{}, &StageError{Stage: StageDispatch, Unit: name, Err: err}
	}
	c.log.V(1).Info("dispatched", "unit", name, "action", h.Action, "id", h.ID)
	return h, nil
}
