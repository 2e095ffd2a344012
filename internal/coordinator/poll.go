// File: internal/coordinator/poll.go
// Brief: Completion poller with wall-clock timeout and bounded error retries.

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/devenv/internal/provider"
)

// Poll blocks until the submission behind h is terminal, the timeout elapses
// or ctx is canceled. Cancellation only abandons the local wait; the provider
// keeps converging.
func (c *Coordinator) Poll(ctx context.Context, h provider.Handle) (Result, error) {
	res := Result{Unit: h.Unit, Action: h.Action, NoOp: h.NoOp, Outcome: OutcomePending}
	if h.NoOp {
		res.Outcome = OutcomeSucceeded
		res.Status = provider.Status{Phase: provider.PhaseSucceeded, Raw: "NO_CHANGES"}
		return res, nil
	}
	start := time.Now()
	// Provider calls are bounded by the poll deadline too.
	pollCtx, cancel := context.WithDeadline(ctx, start.Add(c.opts.Timeout))
	defer cancel()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	pollErrs := 0
	var lastErr error
	for {
		st, err := c.p.PollStatus(pollCtx, h)
		switch {
		case err != nil && ctx.Err() != nil:
			res.Elapsed = time.Since(start)
			return res, &StageError{Stage: StagePoll, Unit: h.Unit, Err: ctx.Err()}
		case err != nil && pollCtx.Err() != nil:
			return c.timedOut(res, start, c.deadlineErr(res))
		case err != nil && errors.Is(err, provider.ErrAuthenticationMissing):
			res.Elapsed = time.Since(start)
			res.Reason = err.Error()
			return res, &StageError{Stage: StagePoll, Unit: h.Unit, Err: err}
		case err != nil:
			pollErrs++
			lastErr = err
			c.log.V(1).Info("poll failed", "unit", h.Unit, "attempt", pollErrs, "error", err.Error())
			if pollErrs > c.opts.MaxPollErrors {
				return c.timedOut(res, start, fmt.Errorf("%w: %d consecutive poll errors, last: %v", provider.ErrTimedOut, pollErrs, lastErr))
			}
		default:
			pollErrs = 0
			res.Status = st
			c.log.V(1).Info("polled", "unit", h.Unit, "status", st.Raw, "phase", st.Phase)
			if c.opts.OnStatus != nil {
				c.opts.OnStatus(st)
			}
			if st.Phase.Terminal() {
				return c.settle(res, start, st)
			}
		}

		select {
		case <-ctx.Done():
			res.Elapsed = time.Since(start)
			return res, &StageError{Stage: StagePoll, Unit: h.Unit, Err: ctx.Err()}
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				res.Elapsed = time.Since(start)
				return res, &StageError{Stage: StagePoll, Unit: h.Unit, Err: ctx.Err()}
			}
			return c.timedOut(res, start, c.deadlineErr(res))
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) settle(res Result, start time.Time, st provider.Status) (Result, error) {
	res.Elapsed = time.Since(start)
	res.Reason = st.Reason
	res.Events = st.Events
	if st.Phase == provider.PhaseSucceeded {
		res.Outcome = OutcomeSucceeded
		return res, nil
	}
	res.Outcome = OutcomeFailed
	msg := st.Reason
	if msg == "" && len(st.Events) > 0 {
		msg = strings.Join(st.Events, "; ")
	}
	if msg == "" {
		msg = "provider reported failure without a reason"
	}
	return res, &StageError{Stage: StagePoll, Unit: res.Unit, Err: &provider.APIError{Kind: provider.KindRejected, Code: st.Raw, Message: msg}}
}

func (c *Coordinator) deadlineErr(res Result) error {
	last := res.Status.Raw
	if last == "" {
		last = "unknown"
	}
	return fmt.Errorf("%w after %s (last status %s)", provider.ErrTimedOut, c.opts.Timeout, last)
}

func (c *Coordinator) timedOut(res Result, start time.Time, err error) (Result, error) {
	res.Elapsed = time.Since(start)
	res.Outcome = OutcomeTimedOut
	res.Reason = err.Error()
	return res, &StageError{Stage: StagePoll, Unit: res.Unit, Err: err}
}
