// File: internal/provider/cfn/cloudformation.go
// Brief: provider.Provider backed by AWS CloudFormation stacks.

// Package cfn implements the deployment provider contract on top of AWS
// CloudFormation. One stack is one deployment unit.
package cfn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/example/devenv/internal/awsapi"
	"github.com/example/devenv/internal/provider"
)

// MaxTemplateBody is the largest template CloudFormation accepts inline.
const MaxTemplateBody = 51200

// maxEventPages bounds how far back failure events are read.
const maxEventPages = 5

// API is the subset of the CloudFormation client the provider uses.
type API interface {
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStackEvents(ctx context.Context, in *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
	ListStacks(ctx context.Context, in *cloudformation.ListStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStacksOutput, error)
}

// Provider deploys units as CloudFormation stacks.
type Provider struct {
	api API
	now func() time.Time
}

// New wraps a CloudFormation API client.
func New(api API) *Provider {
	return &Provider{api: api, now: time.Now}
}

// NewFromConfig builds a provider from an SDK configuration.
func NewFromConfig(cfg aws.Config) *Provider {
	return New(cloudformation.NewFromConfig(cfg))
}

func (p *Provider) describe(ctx context.Context, nameOrID string) (*types.Stack, error) {
	out, err := p.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(nameOrID)})
	if err != nil {
		return nil, awsapi.Classify(err)
	}
	if len(out.Stacks) == 0 {
		return nil, &provider.APIError{Kind: provider.KindNotFound, Code: "ValidationError", Message: fmt.Sprintf("Stack with id %s does not exist", nameOrID)}
	}
	return &out.Stacks[0], nil
}

func (p *Provider) Describe(ctx context.Context, name string) (provider.Existence, error) {
	stack, err := p.describe(ctx, name)
	if errors.Is(err, provider.ErrNotFound) {
		return provider.Absent{}, nil
	}
	if err != nil {
		return nil, err
	}
	if stack.StackStatus == types.StackStatusDeleteComplete {
		return provider.Absent{}, nil
	}
	return provider.Present{Status: stackStatus("", stack)}, nil
}

func (p *Provider) Create(ctx context.Context, req provider.Request) (provider.Handle, error) {
	if err := checkTemplate(req.Template); err != nil {
		return provider.Handle{}, err
	}
	submitted := p.now()
	out, err := p.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(req.Name),
		TemplateBody: optional(req.Template.Body),
		TemplateURL:  optional(req.Template.URL),
		Parameters:   parameters(req.Parameters),
		Capabilities: capabilities(req.Capabilities),
		Tags:         tags(req.Tags),
	})
	if err != nil {
		return provider.Handle{}, awsapi.Classify(err)
	}
	return provider.Handle{Unit: req.Name, Action: provider.ActionCreate, ID: aws.ToString(out.StackId), Submitted: submitted}, nil
}

func (p *Provider) Update(ctx context.Context, req provider.Request) (provider.Handle, error) {
	if err := checkTemplate(req.Template); err != nil {
		return provider.Handle{}, err
	}
	submitted := p.now()
	out, err := p.api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(req.Name),
		TemplateBody: optional(req.Template.Body),
		TemplateURL:  optional(req.Template.URL),
		Parameters:   parameters(req.Parameters),
		Capabilities: capabilities(req.Capabilities),
		Tags:         tags(req.Tags),
	})
	if err != nil {
		return provider.Handle{}, awsapi.Classify(err)
	}
	return provider.Handle{Unit: req.Name, Action: provider.ActionUpdate, ID: aws.ToString(out.StackId), Submitted: submitted}, nil
}

// Delete resolves the stack id first: a deleted stack can only be described
// by id, which is what PollStatus needs to observe DELETE_COMPLETE.
func (p *Provider) Delete(ctx context.Context, name string) (provider.Handle, error) {
	stack, err := p.describe(ctx, name)
	if err != nil {
		return provider.Handle{}, err
	}
	id := aws.ToString(stack.StackId)
	submitted := p.now()
	if _, err := p.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(id)}); err != nil {
		return provider.Handle{}, awsapi.Classify(err)
	}
	return provider.Handle{Unit: name, Action: provider.ActionDelete, ID: id, Submitted: submitted}, nil
}

func (p *Provider) PollStatus(ctx context.Context, h provider.Handle) (provider.Status, error) {
	ref := h.ID
	if ref == "" {
		ref = h.Unit
	}
	stack, err := p.describe(ctx, ref)
	if err != nil {
		return provider.Status{}, err
	}
	st := stackStatus(h.Action, stack)
	if st.Phase != provider.PhaseFailed {
		return st, nil
	}
	events, err := p.failureEvents(ctx, ref, h.Submitted)
	if err != nil {
		// The stack status already says failed; keep that and note why events are missing.
		st.Events = []string{fmt.Sprintf("stack events unavailable: %v", err)}
		return st, nil
	}
	st.Events = events
	if st.Reason == "" && len(events) > 0 {
		st.Reason = events[0]
	}
	return st, nil
}

// failureEvents returns *_FAILED events newer than since, oldest first.
func (p *Provider) failureEvents(ctx context.Context, ref string, since time.Time) ([]string, error) {
	var out []string
	var token *string
	for page := 0; page < maxEventPages; page++ {
		resp, err := p.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{StackName: aws.String(ref), NextToken: token})
		if err != nil {
			return nil, awsapi.Classify(err)
		}
		reachedOld := false
		for _, ev := range resp.StackEvents {
			ts := aws.ToTime(ev.Timestamp)
			if !since.IsZero() && ts.Before(since) {
				reachedOld = true
				break
			}
			status := string(ev.ResourceStatus)
			reason := strings.TrimSpace(aws.ToString(ev.ResourceStatusReason))
			if !strings.HasSuffix(status, "_FAILED") || reason == "" {
				continue
			}
			out = append(out, fmt.Sprintf("%s %s: %s", aws.ToString(ev.LogicalResourceId), status, reason))
		}
		token = resp.NextToken
		if reachedOld || token == nil {
			break
		}
	}
	// Events arrive newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (p *Provider) GetOutputs(ctx context.Context, name string) (map[string]string, error) {
	stack, err := p.describe(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(stack.Outputs))
	for _, o := range stack.Outputs {
		out[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return out, nil
}

func (p *Provider) List(ctx context.Context) ([]provider.Summary, error) {
	var out []provider.Summary
	var token *string
	for {
		resp, err := p.api.ListStacks(ctx, &cloudformation.ListStacksInput{NextToken: token})
		if err != nil {
			return nil, awsapi.Classify(err)
		}
		for _, s := range resp.StackSummaries {
			if s.StackStatus == types.StackStatusDeleteComplete {
				continue
			}
			out = append(out, provider.Summary{
				Name:    aws.ToString(s.StackName),
				ID:      aws.ToString(s.StackId),
				Status:  string(s.StackStatus),
				Type:    "CloudFormation",
				Created: aws.ToTime(s.CreationTime),
			})
		}
		token = resp.NextToken
		if token == nil {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func stackStatus(action provider.Action, stack *types.Stack) provider.Status {
	raw := string(stack.StackStatus)
	return provider.Status{
		Phase:  Phase(action, raw),
		Raw:    raw,
		Reason: strings.TrimSpace(aws.ToString(stack.StackStatusReason)),
	}
}

// Phase maps a stack status onto a phase for the given submission. An empty
// action describes the stack at rest.
func Phase(action provider.Action, status string) provider.Phase {
	if strings.HasSuffix(status, "_IN_PROGRESS") {
		return provider.PhaseInProgress
	}
	switch status {
	case "CREATE_COMPLETE", "UPDATE_COMPLETE", "IMPORT_COMPLETE":
		if action == provider.ActionDelete {
			// Deletion accepted but not yet visible.
			return provider.PhaseInProgress
		}
		return provider.PhaseSucceeded
	case "DELETE_COMPLETE":
		if action == provider.ActionDelete {
			return provider.PhaseSucceeded
		}
		return provider.PhaseFailed
	case "UPDATE_ROLLBACK_COMPLETE":
		if action == "" {
			return provider.PhaseSucceeded
		}
		return provider.PhaseFailed
	case "CREATE_FAILED", "ROLLBACK_COMPLETE", "ROLLBACK_FAILED", "DELETE_FAILED",
		"UPDATE_FAILED", "UPDATE_ROLLBACK_FAILED", "IMPORT_ROLLBACK_COMPLETE", "IMPORT_ROLLBACK_FAILED":
		return provider.PhaseFailed
	default:
		return provider.PhaseInProgress
	}
}

func checkTemplate(t provider.TemplateRef) error {
	if t.Body == "" && t.URL == "" {
		return &provider.APIError{Kind: provider.KindRejected, Message: "cloudformation needs a template body or URL"}
	}
	if len(t.Body) > MaxTemplateBody {
		return &provider.APIError{Kind: provider.KindRejected, Message: fmt.Sprintf("template body is %d bytes; bodies over %d bytes must be uploaded and passed by URL", len(t.Body), MaxTemplateBody)}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func parameters(in map[string]string) []types.Parameter {
	keys := sortedKeys(in)
	out := make([]types.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Parameter{ParameterKey: aws.String(k), ParameterValue: aws.String(in[k])})
	}
	return out
}

func tags(in map[string]string) []types.Tag {
	keys := sortedKeys(in)
	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(in[k])})
	}
	return out
}

func capabilities(in []string) []types.Capability {
	out := make([]types.Capability, 0, len(in))
	for _, c := range in {
		out = append(out, types.Capability(c))
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ provider.Provider = (*Provider)(nil)
