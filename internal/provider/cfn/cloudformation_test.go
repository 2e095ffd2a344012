package cfn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/example/devenv/internal/provider"
)

type fakeAPI struct {
	stacks    map[string]types.Stack
	events    [][]types.StackEvent
	summaries [][]types.StackSummary
	updateErr error

	created  *cloudformation.CreateStackInput
	updated  *cloudformation.UpdateStackInput
	deleted  *cloudformation.DeleteStackInput
	eventReq int
}

func (f *fakeAPI) DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	name := aws.ToString(in.StackName)
	for key, s := range f.stacks {
		if key == name || aws.ToString(s.StackId) == name {
			return &cloudformation.DescribeStacksOutput{Stacks: []types.Stack{s}}, nil
		}
	}
	return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack with id " + name + " does not exist"}
}

func (f *fakeAPI) CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.created = in
	return &cloudformation.CreateStackOutput{StackId: aws.String("arn:aws:cloudformation:us-east-1:123:stack/" + aws.ToString(in.StackName) + "/abc")}, nil
}

func (f *fakeAPI) UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.updated = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &cloudformation.UpdateStackOutput{StackId: aws.String("arn:stack/" + aws.ToString(in.StackName))}, nil
}

func (f *fakeAPI) DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.deleted = in
	return &cloudformation.DeleteStackOutput{}, nil
}

func (f *fakeAPI) DescribeStackEvents(ctx context.Context, in *cloudformation.DescribeStackEventsInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	page := f.events[f.eventReq]
	f.eventReq++
	out := &cloudformation.DescribeStackEventsOutput{StackEvents: page}
	if f.eventReq < len(f.events) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeAPI) ListStacks(ctx context.Context, in *cloudformation.ListStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.ListStacksOutput, error) {
	idx := 0
	if in.NextToken != nil {
		idx = 1
	}
	out := &cloudformation.ListStacksOutput{StackSummaries: f.summaries[idx]}
	if idx+1 < len(f.summaries) {
		out.NextToken = aws.String("page2")
	}
	return out, nil
}

func stack(name, status string) types.Stack {
	return types.Stack{
		StackName:   aws.String(name),
		StackId:     aws.String("arn:stack/" + name),
		StackStatus: types.StackStatus(status),
	}
}

func TestDescribe(t *testing.T) {
	api := &fakeAPI{stacks: map[string]types.Stack{"master": stack("master", "UPDATE_ROLLBACK_COMPLETE")}}
	p := New(api)

	ex, err := p.Describe(context.Background(), "missing")
	if err != nil {
		t.Fatalf("describe missing: %v", err)
	}
	if _, ok := ex.(provider.Absent); !ok {
		t.Fatalf("expected Absent, got %#v", ex)
	}
	ex, err = p.Describe(context.Background(), "master")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	present, ok := ex.(provider.Present)
	if !ok {
		t.Fatalf("expected Present, got %#v", ex)
	}
	if present.Status.Raw != "UPDATE_ROLLBACK_COMPLETE" || present.Status.Phase != provider.PhaseSucceeded {
		t.Fatalf("status=%+v", present.Status)
	}
}

func TestCreateSendsSortedRequest(t *testing.T) {
	api := &fakeAPI{}
	p := New(api)
	h, err := p.Create(context.Background(), provider.Request{
		Name:         "master",
		Template:     provider.TemplateRef{Body: "Resources: {}"},
		Parameters:   map[string]string{"B": "2", "A": "1"},
		Tags:         map[string]string{"ManagedBy": "Administrator", "Environment": "Development"},
		Capabilities: []string{"CAPABILITY_NAMED_IAM"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.Action != provider.ActionCreate || !strings.Contains(h.ID, "stack/master") {
		t.Fatalf("handle=%+v", h)
	}
	in := api.created
	if aws.ToString(in.Parameters[0].ParameterKey) != "A" || aws.ToString(in.Parameters[1].ParameterKey) != "B" {
		t.Fatalf("parameters not sorted: %+v", in.Parameters)
	}
	if in.TemplateURL != nil || aws.ToString(in.TemplateBody) != "Resources: {}" {
		t.Fatalf("template not passed inline")
	}
	if len(in.Capabilities) != 1 || in.Capabilities[0] != types.CapabilityCapabilityNamedIam {
		t.Fatalf("capabilities=%v", in.Capabilities)
	}
	if aws.ToString(in.Tags[0].Key) != "Environment" {
		t.Fatalf("tags not sorted: %+v", in.Tags)
	}
}

func TestCreateRejectsOversizedBody(t *testing.T) {
	p := New(&fakeAPI{})
	_, err := p.Create(context.Background(), provider.Request{Name: "x", Template: provider.TemplateRef{Body: strings.Repeat("a", MaxTemplateBody+1)}})
	if !errors.Is(err, provider.ErrDeploymentRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestUpdateNoChanges(t *testing.T) {
	api := &fakeAPI{updateErr: &smithy.GenericAPIError{Code: "ValidationError", Message: "No updates are to be performed."}}
	p := New(api)
	_, err := p.Update(context.Background(), provider.Request{Name: "master", Template: provider.TemplateRef{URL: "https://bucket.s3.amazonaws.com/t.yaml"}})
	if !errors.Is(err, provider.ErrNoChanges) {
		t.Fatalf("expected no changes, got %v", err)
	}
	if aws.ToString(api.updated.TemplateURL) == "" {
		t.Fatalf("template url not passed")
	}
}

func TestPollStatusCollectsFailureEvents(t *testing.T) {
	submitted := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	s := stack("devenv-alice", "ROLLBACK_COMPLETE")
	api := &fakeAPI{
		stacks: map[string]types.Stack{"devenv-alice": s},
		events: [][]types.StackEvent{
			{
				{LogicalResourceId: aws.String("devenv-alice"), ResourceStatus: types.ResourceStatusDeleteComplete, Timestamp: aws.Time(submitted.Add(3 * time.Minute))},
				{LogicalResourceId: aws.String("Instance"), ResourceStatus: types.ResourceStatusCreateFailed, ResourceStatusReason: aws.String("Value (t9.huge) for parameter instanceType is invalid."), Timestamp: aws.Time(submitted.Add(2 * time.Minute))},
			},
			{
				{LogicalResourceId: aws.String("SecurityGroup"), ResourceStatus: types.ResourceStatusCreateFailed, ResourceStatusReason: aws.String("Resource creation cancelled"), Timestamp: aws.Time(submitted.Add(time.Minute))},
				{LogicalResourceId: aws.String("Old"), ResourceStatus: types.ResourceStatusCreateFailed, ResourceStatusReason: aws.String("from an older attempt"), Timestamp: aws.Time(submitted.Add(-time.Hour))},
			},
		},
	}
	p := New(api)
	st, err := p.PollStatus(context.Background(), provider.Handle{Unit: "devenv-alice", Action: provider.ActionCreate, ID: aws.ToString(s.StackId), Submitted: submitted})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if st.Phase != provider.PhaseFailed {
		t.Fatalf("phase=%s", st.Phase)
	}
	want := []string{
		"SecurityGroup CREATE_FAILED: Resource creation cancelled",
		"Instance CREATE_FAILED: Value (t9.huge) for parameter instanceType is invalid.",
	}
	if len(st.Events) != len(want) {
		t.Fatalf("events=%v", st.Events)
	}
	for i := range want {
		if st.Events[i] != want[i] {
			t.Fatalf("event %d=%q want %q", i, st.Events[i], want[i])
		}
	}
	if st.Reason != want[0] {
		t.Fatalf("reason=%q", st.Reason)
	}
}

func TestPhase(t *testing.T) {
	cases := []struct {
		action provider.Action
		status string
		want   provider.Phase
	}{
		{provider.ActionCreate, "CREATE_IN_PROGRESS", provider.PhaseInProgress},
		{provider.ActionCreate, "CREATE_COMPLETE", provider.PhaseSucceeded},
		{provider.ActionCreate, "ROLLBACK_COMPLETE", provider.PhaseFailed},
		{provider.ActionUpdate, "UPDATE_COMPLETE_CLEANUP_IN_PROGRESS", provider.PhaseInProgress},
		{provider.ActionUpdate, "UPDATE_COMPLETE", provider.PhaseSucceeded},
		{provider.ActionUpdate, "UPDATE_ROLLBACK_COMPLETE", provider.PhaseFailed},
		{"", "UPDATE_ROLLBACK_COMPLETE", provider.PhaseSucceeded},
		{provider.ActionDelete, "UPDATE_COMPLETE", provider.PhaseInProgress},
		{provider.ActionDelete, "DELETE_COMPLETE", provider.PhaseSucceeded},
		{provider.ActionDelete, "DELETE_FAILED", provider.PhaseFailed},
		{provider.ActionCreate, "DELETE_COMPLETE", provider.PhaseFailed},
	}
	for _, tc := range cases {
		if got := Phase(tc.action, tc.status); got != tc.want {
			t.Fatalf("Phase(%q,%q)=%s want %s", tc.action, tc.status, got, tc.want)
		}
	}
}

func TestGetOutputsAndDelete(t *testing.T) {
	s := stack("devenv-alice", "CREATE_COMPLETE")
	s.Outputs = []types.Output{{OutputKey: aws.String("InstanceId"), OutputValue: aws.String("i-0abc")}}
	api := &fakeAPI{stacks: map[string]types.Stack{"devenv-alice": s}}
	p := New(api)

	out, err := p.GetOutputs(context.Background(), "devenv-alice")
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if out["InstanceId"] != "i-0abc" {
		t.Fatalf("outputs=%v", out)
	}
	h, err := p.Delete(context.Background(), "devenv-alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if aws.ToString(api.deleted.StackName) != "arn:stack/devenv-alice" || h.ID != "arn:stack/devenv-alice" {
		t.Fatalf("delete should target the stack id, got %q / %q", aws.ToString(api.deleted.StackName), h.ID)
	}
	if _, err := p.GetOutputs(context.Background(), "nope"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListPaginatesAndSkipsDeleted(t *testing.T) {
	api := &fakeAPI{summaries: [][]types.StackSummary{
		{{StackName: aws.String("b"), StackStatus: types.StackStatusCreateComplete}, {StackName: aws.String("gone"), StackStatus: types.StackStatusDeleteComplete}},
		{{StackName: aws.String("a"), StackStatus: types.StackStatusUpdateInProgress}},
	}}
	list, err := New(api).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("list=%+v", list)
	}
}
