// File: cmd/devenv/run.go
// Brief: Progress display and history recording shared by the commands.

package main

import (
	"context"
	"time"

	"github.com/example/devenv/internal/config"
	"github.com/example/devenv/internal/coordinator"
	"github.com/example/devenv/internal/history"
	"github.com/example/devenv/internal/provider"
	"github.com/example/devenv/internal/ui"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// progress wraps the spinner; it is a no-op without a terminal.
type progress struct {
	spinner *ui.Spinner
}

func (a *app) startProgress(cmd *cobra.Command, message string) *progress {
	if !ui.IsTerminalWriter(cmd.ErrOrStderr()) {
		return &progress{}
	}
	return &progress{spinner: ui.StartSpinner(cmd.ErrOrStderr(), message)}
}

func (p *progress) update(st provider.Status) {
	if p.spinner != nil {
		p.spinner.Update(st.Raw)
	}
}

func (p *progress) stop(success bool) {
	if p.spinner != nil {
		p.spinner.Stop(success)
	}
}

// coordinatorOptions converts the shared settings for the coordinator.
func coordinatorOptions(o *config.Options, log logr.Logger) coordinator.Options {
	return coordinator.Options{
		PollInterval:   o.PollInterval,
		Timeout:        o.Timeout,
		MaxBusyRetries: o.MaxBusyRetries,
		MaxPollErrors:  o.MaxPollErrors,
		Logger:         log,
	}
}

func (a *app) newCoordinator(p provider.Provider, prog *progress) *coordinator.Coordinator {
	opts := coordinatorOptions(a.opts, a.log)
	if prog != nil {
		opts.OnStatus = prog.update
	}
	return coordinator.New(p, opts)
}

// record appends e to the local history. Failures are logged, never fatal.
func (a *app) record(ctx context.Context, e history.Entry) {
	if a.opts.NoHistory {
		return
	}
	store, err := history.Open(a.opts.HistoryPath, false)
	if err != nil {
		a.log.Error(err, "open history")
		return
	}
	defer store.Close()
	if _, err := store.Record(context.WithoutCancel(ctx), e); err != nil {
		a.log.Error(err, "record history", "unit", e.Unit)
	}
}

func historyEntry(command, region string, res coordinator.Result, err error) history.Entry {
	e := history.Entry{
		At:      time.Now(),
		Command: command,
		Region:  region,
		Unit:    res.Unit,
		Action:  string(res.Action),
		NoOp:    res.NoOp,
		Outcome: string(res.Outcome),
		Status:  res.Status.Raw,
		Reason:  res.Reason,
		Elapsed: res.Elapsed,
		Outputs: res.Outputs,
	}
	if err != nil && e.Reason == "" {
		e.Reason = err.Error()
	}
	if e.Outcome == "" {
		e.Outcome = string(coordinator.OutcomePending)
	}
	return e
}
