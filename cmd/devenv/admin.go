// File: cmd/devenv/admin.go
// Brief: CLI command wiring and implementation for 'admin deploy'.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/devenv/internal/artifacts"
	"github.com/example/devenv/internal/config"
	"github.com/example/devenv/internal/coordinator"
	"github.com/example/devenv/internal/provider"
	"github.com/example/devenv/internal/provider/cfn"
	"github.com/example/devenv/internal/ui"
	"github.com/spf13/cobra"
)

const (
	paramArtifactBucket  = "ArtifactBucketName"
	capabilityNamedIAM   = "CAPABILITY_NAMED_IAM"
	adminManagedByTag    = "Administrator"
	environmentTagValue  = "Development"
	adminHistoryCommand  = "admin deploy"
	adminProgressMessage = "Deploying shared infrastructure"
)

func newAdminCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the shared development infrastructure",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newAdminDeployCommand(a))
	return cmd
}

func newAdminDeployCommand(a *app) *cobra.Command {
	adminOpts := config.NewAdminOptions()
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Upload templates and deploy the shared infrastructure stack",
		Long: `Verifies credentials, ensures the versioned artifact bucket
<artifact-bucket>-<account> exists, uploads
every template under --templates-dir and deploys the master stack with the
bucket name as its ArtifactBucketName parameter. Rerunning updates the stack
in place; an unchanged stack is reported as up to date.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := adminOpts.Validate(); err != nil {
				return err
			}
			return a.runAdminDeploy(cmd, adminOpts)
		},
	}
	adminOpts.BindFlags(cmd.Flags())
	return cmd
}

func (a *app) runAdminDeploy(cmd *cobra.Command, adminOpts *config.AdminOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	b, err := a.newBackend(ctx, a.opts, a.log)
	if err != nil {
		return fmt.Errorf("authentication: %w", err)
	}
	caller, err := b.Verify(ctx)
	if err != nil {
		return fmt.Errorf("authentication: %w", err)
	}
	fmt.Fprintf(out, "Account %s, region %s, caller %s\n", caller.Account, b.Region, caller.ARN)

	bucket := artifactBucket(adminOpts, caller.Account)
	uploads, hasDev, err := artifacts.PlanUploads(adminOpts.TemplatesDir)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	masterPath := filepath.Join(adminOpts.TemplatesDir, artifacts.MasterTemplateName)
	master, err := os.ReadFile(masterPath)
	if err != nil {
		return fmt.Errorf("templates: master template: %w", err)
	}
	if err := artifacts.CheckTemplate(artifacts.MasterTemplateName, master); err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	if !hasDev {
		a.log.Info("developer environment template not found; the catalog product will have nothing to provision",
			"expected", filepath.Join(adminOpts.TemplatesDir, "template", artifacts.DevTemplateName))
	}

	created, err := b.Artifacts.EnsureBucket(ctx, bucket)
	if err != nil {
		return fmt.Errorf("artifact bucket: %w", err)
	}
	if created {
		fmt.Fprintf(out, "Created artifact bucket %s\n", bucket)
	} else {
		fmt.Fprintf(out, "Using artifact bucket %s\n", bucket)
	}
	if err := b.Artifacts.Upload(ctx, bucket, uploads); err != nil {
		return fmt.Errorf("upload templates: %w", err)
	}
	fmt.Fprintf(out, "Uploaded %d template(s)\n", len(uploads))

	req := masterRequest(a.opts.StackName, bucket, b.Region, master)
	prog := a.startProgress(cmd, adminProgressMessage)
	res, err := a.newCoordinator(b.Stacks, prog).Deploy(ctx, req)
	prog.stop(err == nil)

	entry := historyEntry(adminHistoryCommand, b.Region, res, err)
	if entry.Unit == "" {
		entry.Unit = req.Name
	}
	a.record(ctx, entry)

	printResult(out, res)
	if err != nil {
		if errors.Is(err, provider.ErrTimedOut) || res.Outcome == coordinator.OutcomePending {
			fmt.Fprintln(out, ui.Hint("The stack keeps converging; rerun 'devenv admin deploy' or check it in the CloudFormation console."))
		}
		return err
	}
	if len(res.Outputs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.Heading("Stack outputs"))
		if err := writeOutputsTable(out, res.Outputs); err != nil {
			return err
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.Hint("Developers can now run 'devenv developer launch --type standard'."))
	return nil
}

// artifactBucket returns --bucket-name verbatim when set, otherwise the
// --artifact-bucket base suffixed with the account id.
func artifactBucket(o *config.AdminOptions, account string) string {
	if name := strings.TrimSpace(o.BucketName); name != "" {
		return name
	}
	return artifacts.BucketName(o.ArtifactBucket, account)
}

// masterRequest inlines the master template when it fits and otherwise
// points at the uploaded copy.
func masterRequest(stackName, bucket, region string, body []byte) provider.Request {
	tmpl := provider.TemplateRef{Body: string(body)}
	if len(body) > cfn.MaxTemplateBody {
		tmpl = provider.TemplateRef{URL: artifacts.ObjectURL(bucket, region, artifacts.InfrastructurePrefix+artifacts.MasterTemplateName)}
	}
	return provider.Request{
		Name:         stackName,
		Template:     tmpl,
		Parameters:   map[string]string{paramArtifactBucket: bucket},
		Capabilities: []string{capabilityNamedIAM},
		Tags: map[string]string{
			"ManagedBy":   adminManagedByTag,
			"Environment": environmentTagValue,
		},
	}
}
