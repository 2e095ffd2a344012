package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/devenv/internal/artifacts"
	"github.com/example/devenv/internal/baseline"
	"github.com/example/devenv/internal/provider"
	"github.com/example/devenv/internal/provider/cfn"
)

func adminTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := []struct{ name, body string }{
		{artifacts.MasterTemplateName, "AWSTemplateFormatVersion: '2010-09-09'\n"},
		{filepath.Join("initial", "01-network.yaml"), "network"},
		{filepath.Join("template", artifacts.DevTemplateName), "dev"},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestAdminDeployCreatesThenNoOps(t *testing.T) {
	env := newTestEnv(t)
	dir := adminTemplates(t)

	out, _, err := env.run(t, "admin", "deploy", "--templates-dir", dir)
	if err != nil {
		t.Fatalf("deploy: %v\n%s", err, out)
	}
	bucket := "agent-devenv-artifacts-" + testAccount
	if len(env.artifacts.buckets) != 1 || env.artifacts.buckets[0] != bucket {
		t.Fatalf("buckets=%v", env.artifacts.buckets)
	}
	if len(env.artifacts.uploads) != 4 {
		t.Fatalf("uploads=%+v", env.artifacts.uploads)
	}
	u, ok := env.stacks.Unit(baseline.DefaultStackName)
	if !ok {
		t.Fatalf("master stack not created")
	}
	if u.Request.Parameters[paramArtifactBucket] != bucket {
		t.Fatalf("parameters=%v", u.Request.Parameters)
	}
	if len(u.Request.Capabilities) != 1 || u.Request.Capabilities[0] != capabilityNamedIAM {
		t.Fatalf("capabilities=%v", u.Request.Capabilities)
	}
	if u.Request.Tags["ManagedBy"] != "Administrator" || u.Request.Template.Body == "" {
		t.Fatalf("request=%+v", u.Request)
	}
	if !strings.Contains(out, "Created artifact bucket "+bucket) {
		t.Fatalf("output missing bucket creation:\n%s", out)
	}

	out, _, err = env.run(t, "admin", "deploy", "--templates-dir", dir)
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if !strings.Contains(out, "already up to date") {
		t.Fatalf("expected no-op on unchanged deploy:\n%s", out)
	}
	entries := readHistory(t, env.history)
	if len(entries) != 2 || !entries[0].NoOp || entries[1].Action != string(provider.ActionCreate) {
		t.Fatalf("history=%+v", entries)
	}
}

func TestAdminDeployBucketNaming(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "default base", want: "agent-devenv-artifacts-" + testAccount},
		{name: "custom base gets account suffix", args: []string{"--artifact-bucket", "foo"}, want: "foo-" + testAccount},
		{name: "exact name", args: []string{"--artifact-bucket", "foo", "--bucket-name", "team-artifacts"}, want: "team-artifacts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			args := append([]string{"admin", "deploy", "--templates-dir", adminTemplates(t)}, tc.args...)
			out, _, err := env.run(t, args...)
			if err != nil {
				t.Fatalf("deploy: %v\n%s", err, out)
			}
			if len(env.artifacts.buckets) != 1 || env.artifacts.buckets[0] != tc.want {
				t.Fatalf("buckets=%v want %s", env.artifacts.buckets, tc.want)
			}
			u, ok := env.stacks.Unit(baseline.DefaultStackName)
			if !ok || u.Request.Parameters[paramArtifactBucket] != tc.want {
				t.Fatalf("master stack parameters=%v", u.Request.Parameters)
			}
		})
	}
}

func TestAdminDeployAuthFailureNamesStage(t *testing.T) {
	env := newTestEnv(t)
	env.verifyErr = &provider.APIError{Kind: provider.KindAuthentication, Message: "no credentials"}
	_, _, err := env.run(t, "admin", "deploy", "--templates-dir", adminTemplates(t))
	if !errors.Is(err, provider.ErrAuthenticationMissing) || !strings.HasPrefix(err.Error(), "authentication:") {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if len(env.artifacts.buckets) != 0 {
		t.Fatalf("nothing should be provisioned without credentials")
	}
}

func TestAdminDeployMissingMaster(t *testing.T) {
	env := newTestEnv(t)
	dir := adminTemplates(t)
	if err := os.Remove(filepath.Join(dir, artifacts.MasterTemplateName)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, _, err := env.run(t, "admin", "deploy", "--templates-dir", dir)
	if err == nil || !strings.Contains(err.Error(), "master template") {
		t.Fatalf("expected missing master template error, got %v", err)
	}
}

func TestMasterRequestTemplateSource(t *testing.T) {
	small := masterRequest("Master", "bucket-1", "eu-west-1", []byte("small"))
	if small.Template.Body != "small" || small.Template.URL != "" {
		t.Fatalf("small template should be inline: %+v", small.Template)
	}
	large := masterRequest("Master", "bucket-1", "eu-west-1", make([]byte, cfn.MaxTemplateBody+1))
	want := "https://bucket-1.s3.eu-west-1.amazonaws.com/infrastructure/00-admin-deployment.yaml"
	if large.Template.Body != "" || large.Template.URL != want {
		t.Fatalf("large template should be referenced by URL: %+v", large.Template)
	}
}
