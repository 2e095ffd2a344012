// File: cmd/devenv/developer.go
// Brief: CLI command wiring and implementation for the developer commands.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/example/devenv/internal/baseline"
	"github.com/example/devenv/internal/coordinator"
	"github.com/example/devenv/internal/environment"
	"github.com/example/devenv/internal/history"
	"github.com/example/devenv/internal/identity"
	"github.com/example/devenv/internal/provider"
	"github.com/example/devenv/internal/tier"
	"github.com/example/devenv/internal/ui"
	"github.com/spf13/cobra"
)

func newDeveloperCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "developer",
		Aliases: []string{"dev"},
		Short:   "Launch and manage your development environment",
		Args:    cobra.NoArgs,
	}
	cmd.AddCommand(
		newLaunchCommand(a),
		newStatusCommand(a),
		newOutputsCommand(a),
		newListCommand(a),
		newTerminateCommand(a),
		newHistoryCommand(a),
	)
	return cmd
}

// unitFlags select the environment a command acts on.
type unitFlags struct {
	name  string
	owner string
}

func (f *unitFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Environment unit name (default devenv-<owner>)")
	cmd.Flags().StringVar(&f.owner, "owner", "", "Owner the environment belongs to (default: the AWS caller name)")
}

// resolveOwner prefers the explicit owner, then the authenticated principal
// name, then the local user.
func resolveOwner(ctx context.Context, b *backend, explicit string) (string, error) {
	if owner := strings.TrimSpace(explicit); owner != "" {
		return owner, nil
	}
	caller, err := b.Verify(ctx)
	if err != nil {
		return "", fmt.Errorf("authentication: %w", err)
	}
	return ownerFor(explicit, caller)
}

// ownerFor picks the environment owner from an explicit value, the verified
// caller or $USER, in that order.
func ownerFor(explicit string, caller identity.Caller) (string, error) {
	if owner := strings.TrimSpace(explicit); owner != "" {
		return owner, nil
	}
	if name := caller.Name(); environment.UnitName(name) != "" {
		return name, nil
	}
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user, nil
	}
	return "", errors.New("cannot determine the environment owner; pass --owner")
}

func (f *unitFlags) resolve(ctx context.Context, b *backend) (string, error) {
	if name := strings.TrimSpace(f.name); name != "" {
		return name, nil
	}
	owner, err := resolveOwner(ctx, b, f.owner)
	if err != nil {
		return "", err
	}
	name := environment.UnitName(owner)
	if name == "" {
		return "", fmt.Errorf("owner %q does not contain any usable characters", owner)
	}
	return name, nil
}

func newLaunchCommand(a *app) *cobra.Command {
	var (
		envType string
		keyName string
		owner   string
		noWait  bool
	)
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch or resize your development environment",
		Long: `Launches the environment devenv-<owner> from the catalog product of the
shared infrastructure. Launching again with another --type resizes the same
environment in place; launching with unchanged settings is a no-op.

Environment types:
` + tierHelp(),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLaunch(cmd, envType, keyName, owner, noWait)
		},
	}
	cmd.Flags().StringVar(&envType, "type", "", "Environment type: "+strings.Join(tier.Names(), ", "))
	cmd.Flags().StringVar(&keyName, "key", "", "EC2 key pair name for SSH access (optional; Session Manager works without it)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner the environment belongs to (default: the AWS caller name)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the request is accepted instead of waiting for completion")
	return cmd
}

func tierHelp() string {
	var b strings.Builder
	for _, t := range tier.All() {
		fmt.Fprintf(&b, "  %-9s %s\n", t, t.Label())
	}
	return b.String()
}

func (a *app) runLaunch(cmd *cobra.Command, envType, keyName, ownerFlag string, noWait bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	t, err := a.chooseTier(cmd, envType)
	if err != nil {
		return err
	}
	b, err := a.newBackend(ctx, a.opts, a.log)
	if err != nil {
		return fmt.Errorf("authentication: %w", err)
	}
	caller, err := b.Verify(ctx)
	if err != nil {
		return fmt.Errorf("authentication: %w", err)
	}
	owner, err := ownerFor(ownerFlag, caller)
	if err != nil {
		return err
	}
	spec := environment.Spec{Owner: owner, Tier: t, KeyName: keyName}
	if err := spec.Validate(); err != nil {
		return err
	}

	rec, err := baseline.Load(ctx, b.Stacks, baseline.Ref{StackName: a.opts.StackName, Region: b.Region, Portfolio: a.opts.Portfolio, Product: a.opts.Product})
	if err != nil {
		return fmt.Errorf("shared infrastructure: %w", err)
	}
	a.log.V(1).Info("loaded shared infrastructure", "stack", rec.StackName, "version", rec.Version, "status", rec.Status, "artifactBucket", rec.ArtifactBucket)
	product, err := b.Catalog.ResolveProduct(ctx, rec.Portfolio, rec.Product)
	if err != nil {
		return fmt.Errorf("catalog product: %w", err)
	}
	fmt.Fprintf(out, "Launching %s (%s, %s) for %s\n", spec.UnitName(), t, t.Label(), owner)

	if noWait {
		launcher := &environment.Launcher{Coordinator: a.newCoordinator(b.Catalog, nil), Template: product.Template(), Region: b.Region}
		h, err := launcher.Submit(ctx, spec)
		res := coordinator.Result{Unit: spec.UnitName(), Action: h.Action, NoOp: h.NoOp, Outcome: coordinator.OutcomePending}
		if h.NoOp {
			res.Outcome = coordinator.OutcomeSucceeded
		}
		entry := historyEntry("developer launch", b.Region, res, err)
		entry.Baseline = rec.Version
		a.record(ctx, entry)
		if err != nil {
			return err
		}
		if h.NoOp {
			fmt.Fprintf(out, "%s is already up to date (no changes)\n", h.Unit)
			return nil
		}
		fmt.Fprintf(out, "Submitted %s of %s (record %s)\n", h.Action, h.Unit, h.ID)
		fmt.Fprintln(out, ui.Hint("Follow progress with 'devenv developer status'."))
		return nil
	}

	prog := a.startProgress(cmd, "Waiting for "+spec.UnitName())
	launcher := &environment.Launcher{Coordinator: a.newCoordinator(b.Catalog, prog), Template: product.Template(), Region: b.Region}
	launch, err := launcher.Launch(ctx, spec)
	prog.stop(err == nil)

	entry := historyEntry("developer launch", b.Region, launch.Result, err)
	if entry.Unit == "" {
		entry.Unit = spec.UnitName()
	}
	entry.Baseline = rec.Version
	a.record(ctx, entry)

	printResult(out, launch.Result)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := writeOutputsTable(out, launch.Result.Outputs); err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.Heading("Connect"))
	fmt.Fprintf(out, "  %s\n", launch.ConnectCommand)
	return nil
}

// chooseTier parses the --type flag, offering a menu on a terminal when it
// is missing.
func (a *app) chooseTier(cmd *cobra.Command, raw string) (tier.Tier, error) {
	if strings.TrimSpace(raw) != "" {
		return tier.Parse(raw)
	}
	dec := approvalMode(cmd, false)
	if !dec.InteractiveTTY {
		return "", fmt.Errorf("--type is required (one of %s)", strings.Join(tier.Names(), ", "))
	}
	return promptTier(cmd.Context(), cmd.InOrStdin(), cmd.ErrOrStderr())
}

func promptTier(ctx context.Context, in io.Reader, out io.Writer) (tier.Tier, error) {
	all := tier.All()
	fmt.Fprintln(out, ui.Heading("Select an environment type"))
	for i, t := range all {
		fmt.Fprintf(out, "  %d) %-9s %s\n", i+1, t, t.Label())
	}
	reply, err := readReply(ctx, in, out, fmt.Sprintf("Choice [1-%d]:", len(all)))
	if err != nil {
		return "", err
	}
	if n, err := strconv.Atoi(reply); err == nil {
		if n < 1 || n > len(all) {
			return "", fmt.Errorf("choice %d is out of range", n)
		}
		return all[n-1], nil
	}
	return tier.Parse(reply)
}

func newStatusCommand(a *app) *cobra.Command {
	var uf unitFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.newBackend(ctx, a.opts, a.log)
			if err != nil {
				return err
			}
			name, err := uf.resolve(ctx, b)
			if err != nil {
				return err
			}
			ex, err := a.newCoordinator(b.Catalog, nil).Check(ctx, name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch v := ex.(type) {
			case provider.Absent:
				fmt.Fprintf(out, "%s: not found\n", name)
				fmt.Fprintln(out, ui.Hint("Launch it with 'devenv developer launch --type standard'."))
			case provider.Present:
				fmt.Fprintf(out, "%s: %s\n", name, ui.Phase(v.Status.Phase, v.Status.Raw))
				if v.Status.Reason != "" {
					fmt.Fprintf(out, "  %s\n", v.Status.Reason)
				}
			}
			return nil
		},
	}
	uf.bind(cmd)
	return cmd
}

func newOutputsCommand(a *app) *cobra.Command {
	var uf unitFlags
	var format string
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Print the outputs of an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			format, err := normalizeFormat(format)
			if err != nil {
				return err
			}
			b, err := a.newBackend(ctx, a.opts, a.log)
			if err != nil {
				return err
			}
			name, err := uf.resolve(ctx, b)
			if err != nil {
				return err
			}
			outputs, err := a.newCoordinator(b.Catalog, nil).Extract(ctx, name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format != "table" {
				return writeStructured(out, format, outputs)
			}
			if err := writeOutputsTable(out, outputs); err != nil {
				return err
			}
			for _, id := range environment.InstanceIDs(outputs) {
				fmt.Fprintf(out, "\nConnect: %s\n", environment.ConnectCommand(id, b.Region))
			}
			return nil
		},
	}
	uf.bind(cmd)
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

type listRow struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Type    string `json:"type,omitempty"`
	Created string `json:"created,omitempty"`
	ID      string `json:"id"`
}

func newListCommand(a *app) *cobra.Command {
	var all bool
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List development environments in the region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			format, err := normalizeFormat(format)
			if err != nil {
				return err
			}
			b, err := a.newBackend(ctx, a.opts, a.log)
			if err != nil {
				return err
			}
			units, err := b.Catalog.List(ctx)
			if err != nil {
				return fmt.Errorf("list environments: %w", err)
			}
			rows := make([]listRow, 0, len(units))
			for _, u := range units {
				if !all && !strings.HasPrefix(u.Name, environment.UnitPrefix) {
					continue
				}
				rows = append(rows, listRow{Name: u.Name, Status: u.Status, Type: u.Type, Created: formatTime(u.Created), ID: u.ID})
			}
			out := cmd.OutOrStdout()
			if format != "table" {
				return writeStructured(out, format, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(out, "No development environments in %s\n", b.Region)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATUS\tTYPE\tCREATED\tID")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Status, r.Type, r.Created, r.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include provisioned products not created by devenv")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func newTerminateCommand(a *app) *cobra.Command {
	var uf unitFlags
	var yes, wait bool
	cmd := &cobra.Command{
		Use:   "terminate",
		Short: "Terminate an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			b, err := a.newBackend(ctx, a.opts, a.log)
			if err != nil {
				return err
			}
			name, err := uf.resolve(ctx, b)
			if err != nil {
				return err
			}
			dec := approvalMode(cmd, yes)
			prompt := fmt.Sprintf("Terminate %s and everything in it? Type 'yes' to confirm:", name)
			if err := confirmAction(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(), dec, prompt, "yes"); err != nil {
				if errors.Is(err, errAborted) {
					fmt.Fprintln(out, "Termination cancelled")
					return nil
				}
				return err
			}

			var prog *progress
			if wait {
				prog = a.startProgress(cmd, "Terminating "+name)
			}
			c := a.newCoordinator(b.Catalog, prog)
			h, err := c.SubmitDelete(ctx, name)
			if err != nil {
				a.record(ctx, historyEntry("developer terminate", b.Region, coordinator.Result{Unit: name, Action: provider.ActionDelete, Outcome: coordinator.OutcomeFailed}, err))
				if prog != nil {
					prog.stop(false)
				}
				return err
			}
			if !wait {
				a.record(ctx, historyEntry("developer terminate", b.Region, coordinator.Result{Unit: name, Action: provider.ActionDelete}, nil))
				fmt.Fprintf(out, "Termination of %s submitted (record %s)\n", name, h.ID)
				return nil
			}
			res, err := c.Poll(ctx, h)
			prog.stop(err == nil)
			a.record(ctx, historyEntry("developer terminate", b.Region, res, err))
			printResult(out, res)
			return err
		},
	}
	uf.bind(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&yes, "force", false, "Alias for --yes")
	_ = cmd.Flags().MarkHidden("force")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the environment is gone")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	var unit string
	var format string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show operations recorded on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := normalizeFormat(format)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			store, err := history.Open(a.opts.HistoryPath, true)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(out, "No operations recorded yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()
			entries, err := store.List(cmd.Context(), history.Filter{Unit: unit, Limit: limit})
			if err != nil {
				return err
			}
			if format != "table" {
				return writeStructured(out, format, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No operations recorded yet")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCOMMAND\tREGION\tUNIT\tACTION\tOUTCOME\tSTATUS\tELAPSED")
			for _, e := range entries {
				action := e.Action
				if e.NoOp {
					action += " (no-op)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					formatTime(e.At), e.Command, e.Region, e.Unit, action, e.Outcome, e.Status, formatElapsed(e.Elapsed))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries to show (0 for all)")
	cmd.Flags().StringVar(&unit, "name", "", "Only show entries for this unit")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}
