package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/example/devenv/internal/baseline"
	"github.com/example/devenv/internal/history"
	"github.com/example/devenv/internal/identity"
	"github.com/example/devenv/internal/provider"
)

func TestLaunchResizeAndRelaunch(t *testing.T) {
	env := newTestEnv(t)
	env.seedBaseline()

	out, _, err := env.run(t, "developer", "launch", "--type", "high", "--owner", "alice")
	if err != nil {
		t.Fatalf("launch: %v\n%s", err, out)
	}
	u, ok := env.catalog.Unit("devenv-alice")
	if !ok {
		t.Fatalf("unit devenv-alice not created")
	}
	if got := u.Request.Parameters["InstanceType"]; got != "t3.large" {
		t.Fatalf("instance type=%q", got)
	}
	if u.Request.Template.Product != "prod-1" || u.Request.Template.Artifact != "pa-1" {
		t.Fatalf("template=%+v", u.Request.Template)
	}
	if !strings.Contains(out, "aws ssm start-session --target i-alice-") || !strings.Contains(out, "--region eu-west-1") {
		t.Fatalf("connect command missing:\n%s", out)
	}
	if len(env.catalog.resolved) != 1 || env.catalog.resolved[0] != baseline.DefaultPortfolio+"/"+baseline.DefaultProduct {
		t.Fatalf("resolved=%v", env.catalog.resolved)
	}

	if _, _, err := env.run(t, "developer", "launch", "--type", "extra", "--owner", "alice"); err != nil {
		t.Fatalf("resize: %v", err)
	}
	u, _ = env.catalog.Unit("devenv-alice")
	if got := u.Request.Parameters["InstanceType"]; got != "t3.xlarge" || u.Versions != 2 {
		t.Fatalf("after resize instance type=%q versions=%d", got, u.Versions)
	}

	out, _, err = env.run(t, "developer", "launch", "--type", "extra", "--owner", "alice")
	if err != nil {
		t.Fatalf("relaunch: %v", err)
	}
	if !strings.Contains(out, "already up to date") {
		t.Fatalf("expected no-op relaunch:\n%s", out)
	}

	entries := readHistory(t, env.history)
	if len(entries) != 3 {
		t.Fatalf("history=%+v", entries)
	}
	for _, e := range entries {
		if e.Unit != "devenv-alice" || e.Baseline == "" || e.Command != "developer launch" {
			t.Fatalf("unexpected history entry %+v", e)
		}
	}
}

func TestLaunchDefaultsOwnerToCaller(t *testing.T) {
	env := newTestEnv(t)
	env.seedBaseline()
	if _, _, err := env.run(t, "developer", "launch", "--type", "standard"); err != nil {
		t.Fatalf("launch: %v", err)
	}
	u, ok := env.catalog.Unit("devenv-alice")
	if !ok || u.Request.Parameters["UserName"] != "alice" {
		t.Fatalf("expected unit owned by the caller, got %+v ok=%v", u.Request, ok)
	}
	if n := env.verifyCalls.Load(); n != 1 {
		t.Fatalf("caller verified %d times, want 1", n)
	}
}

func TestOwnerFor(t *testing.T) {
	t.Setenv("USER", "fallback")
	cases := []struct {
		name     string
		explicit string
		caller   identity.Caller
		want     string
	}{
		{name: "explicit wins", explicit: " bob ", caller: identity.Caller{ARN: "arn:aws:sts::1:assumed-role/dev/alice"}, want: "bob"},
		{name: "caller name", caller: identity.Caller{ARN: "arn:aws:sts::1:assumed-role/dev/alice"}, want: "alice"},
		{name: "user env fallback", want: "fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ownerFor(tc.explicit, tc.caller)
			if err != nil {
				t.Fatalf("ownerFor: %v", err)
			}
			if got != tc.want {
				t.Fatalf("owner=%q want %q", got, tc.want)
			}
		})
	}
}

func TestLaunchOwnersAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.seedBaseline()
	for _, owner := range []string{"alice", "bob"} {
		if _, _, err := env.run(t, "developer", "launch", "--type", "standard", "--owner", owner); err != nil {
			t.Fatalf("launch %s: %v", owner, err)
		}
	}
	if _, _, err := env.run(t, "developer", "launch", "--type", "high", "--owner", "bob"); err != nil {
		t.Fatalf("resize bob: %v", err)
	}
	alice, _ := env.catalog.Unit("devenv-alice")
	bob, _ := env.catalog.Unit("devenv-bob")
	if alice.Request.Parameters["InstanceType"] != "t3.medium" || bob.Request.Parameters["InstanceType"] != "t3.large" {
		t.Fatalf("alice=%v bob=%v", alice.Request.Parameters, bob.Request.Parameters)
	}
}

func TestLaunchRequiresBaseline(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.run(t, "developer", "launch", "--type", "standard", "--owner", "alice")
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok := env.catalog.Unit("devenv-alice"); ok {
		t.Fatalf("no unit should be created without shared infrastructure")
	}
}

func TestLaunchRequiresType(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.run(t, "developer", "launch", "--owner", "alice")
	if err == nil || !strings.Contains(err.Error(), "--type is required") {
		t.Fatalf("expected missing type error, got %v", err)
	}
	_, _, err = env.run(t, "developer", "launch", "--owner", "alice", "--type", "huge")
	if err == nil || !strings.Contains(err.Error(), "unknown environment type") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestLaunchFailureSurfacesEvents(t *testing.T) {
	env := newTestEnv(t)
	env.seedBaseline()
	env.catalog.FailNext("instance limit exceeded", "Instance: CREATE_FAILED (quota)")
	out, _, err := env.run(t, "developer", "launch", "--type", "standard", "--owner", "alice")
	if !errors.Is(err, provider.ErrDeploymentRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if !strings.Contains(out, "Instance: CREATE_FAILED (quota)") {
		t.Fatalf("failure events missing:\n%s", out)
	}
	entries := readHistory(t, env.history)
	if len(entries) != 1 || entries[0].Outcome != "Failed" {
		t.Fatalf("history=%+v", entries)
	}
}

func TestLaunchNoWait(t *testing.T) {
	env := newTestEnv(t)
	env.seedBaseline()
	out, _, err := env.run(t, "developer", "launch", "--type", "standard", "--owner", "alice", "--no-wait")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !strings.Contains(out, "Submitted create of devenv-alice") {
		t.Fatalf("output:\n%s", out)
	}
	u, _ := env.catalog.Unit("devenv-alice")
	if u.Status.Phase != provider.PhaseInProgress {
		t.Fatalf("unit should still be converging, got %+v", u.Status)
	}
	out, _, err = env.run(t, "developer", "status", "--owner", "alice")
	if err != nil || !strings.Contains(out, "devenv-alice: CREATE_IN_PROGRESS") {
		t.Fatalf("status err=%v out=%s", err, out)
	}
}

func TestStatusOutputsAndList(t *testing.T) {
	env := newTestEnv(t)
	env.seedBaseline()
	if _, _, err := env.run(t, "developer", "launch", "--type", "standard", "--owner", "alice"); err != nil {
		t.Fatalf("launch: %v", err)
	}

	out, _, err := env.run(t, "developer", "status", "--name", "devenv-alice")
	if err != nil || !strings.Contains(out, "CREATE_COMPLETE") {
		t.Fatalf("status err=%v out=%s", err, out)
	}
	out, _, err = env.run(t, "developer", "status", "--owner", "carol")
	if err != nil || !strings.Contains(out, "devenv-carol: not found") {
		t.Fatalf("status of missing unit err=%v out=%s", err, out)
	}

	out, _, err = env.run(t, "developer", "outputs", "--owner", "alice", "-o", "json")
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	var outputs map[string]string
	if err := json.Unmarshal([]byte(out), &outputs); err != nil {
		t.Fatalf("decode outputs: %v\n%s", err, out)
	}
	if outputs["InstanceType"] != "t3.medium" || !strings.HasPrefix(outputs["InstanceId"], "i-") {
		t.Fatalf("outputs=%v", outputs)
	}
	out, _, err = env.run(t, "developer", "outputs", "--owner", "alice", "-o", "yaml")
	if err != nil || !strings.Contains(out, "InstanceType: t3.medium") {
		t.Fatalf("yaml outputs err=%v out=%s", err, out)
	}
	if _, _, err := env.run(t, "developer", "outputs", "--owner", "alice", "-o", "xml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}

	env.catalog.Seed(provider.Request{Name: "someone-elses-product", Template: provider.TemplateRef{Product: "p"}})
	out, _, err = env.run(t, "developer", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "devenv-alice") || strings.Contains(out, "someone-elses-product") {
		t.Fatalf("list output:\n%s", out)
	}
	out, _, err = env.run(t, "developer", "list", "--all")
	if err != nil || !strings.Contains(out, "someone-elses-product") {
		t.Fatalf("list --all err=%v out=%s", err, out)
	}
}

func TestTerminate(t *testing.T) {
	env := newTestEnv(t)
	env.seedBaseline()
	if _, _, err := env.run(t, "developer", "launch", "--type", "standard", "--owner", "alice"); err != nil {
		t.Fatalf("launch: %v", err)
	}

	_, _, err := env.run(t, "developer", "terminate", "--owner", "alice")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation refusal, got %v", err)
	}
	if _, ok := env.catalog.Unit("devenv-alice"); !ok {
		t.Fatalf("unit must survive a refused termination")
	}

	out, _, err := env.run(t, "developer", "terminate", "--owner", "alice", "--yes", "--wait")
	if err != nil {
		t.Fatalf("terminate: %v\n%s", err, out)
	}
	if _, ok := env.catalog.Unit("devenv-alice"); ok {
		t.Fatalf("unit should be gone")
	}

	_, _, err = env.run(t, "developer", "terminate", "--owner", "alice", "--force")
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found for missing unit, got %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	env := newTestEnv(t)
	out, _, err := env.run(t, "developer", "history")
	if err != nil || !strings.Contains(out, "No operations recorded yet") {
		t.Fatalf("empty history err=%v out=%s", err, out)
	}

	env.seedBaseline()
	for _, owner := range []string{"alice", "bob"} {
		if _, _, err := env.run(t, "developer", "launch", "--type", "standard", "--owner", owner); err != nil {
			t.Fatalf("launch: %v", err)
		}
	}
	out, _, err = env.run(t, "developer", "history", "--name", "devenv-bob", "-o", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []history.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Unit != "devenv-bob" || entries[0].Outcome != "Succeeded" {
		t.Fatalf("entries=%+v", entries)
	}

	out, _, err = env.run(t, "developer", "history", "--limit", "1")
	if err != nil || !strings.Contains(out, "devenv-bob") || strings.Contains(out, "devenv-alice") {
		t.Fatalf("history --limit err=%v out=%s", err, out)
	}
}

func TestNoHistoryFlag(t *testing.T) {
	env := newTestEnv(t)
	env.seedBaseline()
	if _, _, err := env.run(t, "--no-history", "developer", "launch", "--type", "standard", "--owner", "alice"); err != nil {
		t.Fatalf("launch: %v", err)
	}
	out, _, err := env.run(t, "developer", "history")
	if err != nil || !strings.Contains(out, "No operations recorded yet") {
		t.Fatalf("history should be empty, err=%v out=%s", err, out)
	}
}
