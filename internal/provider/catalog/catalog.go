// File: internal/provider/catalog/catalog.go
// Brief: provider.Provider backed by AWS Service Catalog provisioned products.

// Package catalog implements the deployment provider contract with AWS
// Service Catalog: each developer environment is a provisioned product of the
// administrator's development environment product.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog/types"
	"github.com/example/devenv/internal/awsapi"
	"github.com/example/devenv/internal/provider"
	"github.com/google/uuid"
)

// API is the subset of the Service Catalog client the provider uses.
type API interface {
	DescribeProvisionedProduct(ctx context.Context, in *servicecatalog.DescribeProvisionedProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.DescribeProvisionedProductOutput, error)
	ProvisionProduct(ctx context.Context, in *servicecatalog.ProvisionProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.ProvisionProductOutput, error)
	UpdateProvisionedProduct(ctx context.Context, in *servicecatalog.UpdateProvisionedProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.UpdateProvisionedProductOutput, error)
	TerminateProvisionedProduct(ctx context.Context, in *servicecatalog.TerminateProvisionedProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.TerminateProvisionedProductOutput, error)
	DescribeRecord(ctx context.Context, in *servicecatalog.DescribeRecordInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.DescribeRecordOutput, error)
	GetProvisionedProductOutputs(ctx context.Context, in *servicecatalog.GetProvisionedProductOutputsInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.GetProvisionedProductOutputsOutput, error)
	SearchProvisionedProducts(ctx context.Context, in *servicecatalog.SearchProvisionedProductsInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.SearchProvisionedProductsOutput, error)
	ListPortfolios(ctx context.Context, in *servicecatalog.ListPortfoliosInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.ListPortfoliosOutput, error)
	SearchProductsAsAdmin(ctx context.Context, in *servicecatalog.SearchProductsAsAdminInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.SearchProductsAsAdminOutput, error)
	DescribeProduct(ctx context.Context, in *servicecatalog.DescribeProductInput, optFns ...func(*servicecatalog.Options)) (*servicecatalog.DescribeProductOutput, error)
}

// Provider provisions units as Service Catalog provisioned products.
type Provider struct {
	api      API
	now      func() time.Time
	newToken func() string
}

// New wraps a Service Catalog API client.
func New(api API) *Provider {
	return &Provider{api: api, now: time.Now, newToken: uuid.NewString}
}

// NewFromConfig builds a provider from an SDK configuration.
func NewFromConfig(cfg aws.Config) *Provider {
	return New(servicecatalog.NewFromConfig(cfg))
}

// Product is a resolved catalog product.
type Product struct {
	PortfolioID string
	ProductID   string
	ProductName string
	ArtifactID  string
	Description string
}

// Template returns the template reference for dispatching this product.
func (p Product) Template() provider.TemplateRef {
	return provider.TemplateRef{Product: p.ProductID, Artifact: p.ArtifactID}
}

// ResolveProduct finds the portfolio by display name, the product in it by
// name and the product's newest provisioning artifact.
func (p *Provider) ResolveProduct(ctx context.Context, portfolio, product string) (Product, error) {
	portfolioID, err := p.findPortfolio(ctx, portfolio)
	if err != nil {
		return Product{}, err
	}
	var found *types.ProductViewSummary
	var token *string
	for found == nil {
		resp, err := p.api.SearchProductsAsAdmin(ctx, &servicecatalog.SearchProductsAsAdminInput{PortfolioId: aws.String(portfolioID), PageToken: token})
		if err != nil {
			return Product{}, awsapi.Classify(err)
		}
		for _, d := range resp.ProductViewDetails {
			if d.ProductViewSummary != nil && aws.ToString(d.ProductViewSummary.Name) == product {
				found = d.ProductViewSummary
				break
			}
		}
		token = resp.NextPageToken
		if token == nil {
			break
		}
	}
	if found == nil {
		return Product{}, &provider.APIError{Kind: provider.KindNotFound, Message: fmt.Sprintf("product %q not found in portfolio %q", product, portfolio)}
	}
	productID := aws.ToString(found.ProductId)
	desc, err := p.api.DescribeProduct(ctx, &servicecatalog.DescribeProductInput{Id: aws.String(productID)})
	if err != nil {
		return Product{}, awsapi.Classify(err)
	}
	if len(desc.ProvisioningArtifacts) == 0 {
		return Product{}, &provider.APIError{Kind: provider.KindNotFound, Message: fmt.Sprintf("product %q has no provisioning artifacts", product)}
	}
	artifacts := append([]types.ProvisioningArtifact(nil), desc.ProvisioningArtifacts...)
	sort.SliceStable(artifacts, func(i, j int) bool {
		return aws.ToTime(artifacts[i].CreatedTime).After(aws.ToTime(artifacts[j].CreatedTime))
	})
	return Product{
		PortfolioID: portfolioID,
		ProductID:   productID,
		ProductName: product,
		ArtifactID:  aws.ToString(artifacts[0].Id),
		Description: aws.ToString(found.ShortDescription),
	}, nil
}

func (p *Provider) findPortfolio(ctx context.Context, displayName string) (string, error) {
	var token *string
	for {
		resp, err := p.api.ListPortfolios(ctx, &servicecatalog.ListPortfoliosInput{PageToken: token})
		if err != nil {
			return "", awsapi.Classify(err)
		}
		for _, pf := range resp.PortfolioDetails {
			if aws.ToString(pf.DisplayName) == displayName {
				return aws.ToString(pf.Id), nil
			}
		}
		token = resp.NextPageToken
		if token == nil {
			return "", &provider.APIError{Kind: provider.KindNotFound, Message: fmt.Sprintf("no portfolio found with name %q; check with your administrator that the environment is set up", displayName)}
		}
	}
}

func (p *Provider) Describe(ctx context.Context, name string) (provider.Existence, error) {
	out, err := p.api.DescribeProvisionedProduct(ctx, &servicecatalog.DescribeProvisionedProductInput{Name: aws.String(name)})
	if err != nil {
		err = awsapi.Classify(err)
		if errors.Is(err, provider.ErrNotFound) {
			return provider.Absent{}, nil
		}
		return nil, err
	}
	d := out.ProvisionedProductDetail
	if d == nil {
		return provider.Absent{}, nil
	}
	raw := string(d.Status)
	return provider.Present{Status: provider.Status{Phase: ProductPhase(raw), Raw: raw, Reason: aws.ToString(d.StatusMessage)}}, nil
}

func (p *Provider) Create(ctx context.Context, req provider.Request) (provider.Handle, error) {
	if err := checkTemplate(req.Template); err != nil {
		return provider.Handle{}, err
	}
	params := make([]types.ProvisioningParameter, 0, len(req.Parameters))
	for _, k := range sortedKeys(req.Parameters) {
		params = append(params, types.ProvisioningParameter{Key: aws.String(k), Value: aws.String(req.Parameters[k])})
	}
	submitted := p.now()
	out, err := p.api.ProvisionProduct(ctx, &servicecatalog.ProvisionProductInput{
		ProductId:              aws.String(req.Template.Product),
		ProvisioningArtifactId: aws.String(req.Template.Artifact),
		ProvisionedProductName: aws.String(req.Name),
		ProvisioningParameters: params,
		Tags:                   tags(req.Tags),
		ProvisionToken:         aws.String(p.newToken()),
	})
	if err != nil {
		return provider.Handle{}, awsapi.Classify(err)
	}
	return handle(req.Name, provider.ActionCreate, out.RecordDetail, submitted)
}

func (p *Provider) Update(ctx context.Context, req provider.Request) (provider.Handle, error) {
	if err := checkTemplate(req.Template); err != nil {
		return provider.Handle{}, err
	}
	params := make([]types.UpdateProvisioningParameter, 0, len(req.Parameters))
	for _, k := range sortedKeys(req.Parameters) {
		params = append(params, types.UpdateProvisioningParameter{Key: aws.String(k), Value: aws.String(req.Parameters[k])})
	}
	submitted := p.now()
	out, err := p.api.UpdateProvisionedProduct(ctx, &servicecatalog.UpdateProvisionedProductInput{
		ProvisionedProductName: aws.String(req.Name),
		ProductId:              aws.String(req.Template.Product),
		ProvisioningArtifactId: aws.String(req.Template.Artifact),
		ProvisioningParameters: params,
		Tags:                   tags(req.Tags),
		UpdateToken:            aws.String(p.newToken()),
	})
	if err != nil {
		return provider.Handle{}, awsapi.Classify(err)
	}
	return handle(req.Name, provider.ActionUpdate, out.RecordDetail, submitted)
}

func (p *Provider) Delete(ctx context.Context, name string) (provider.Handle, error) {
	submitted := p.now()
	out, err := p.api.TerminateProvisionedProduct(ctx, &servicecatalog.TerminateProvisionedProductInput{
		ProvisionedProductName: aws.String(name),
		TerminateToken:         aws.String(p.newToken()),
	})
	if err != nil {
		return provider.Handle{}, awsapi.Classify(err)
	}
	return handle(name, provider.ActionDelete, out.RecordDetail, submitted)
}

func (p *Provider) PollStatus(ctx context.Context, h provider.Handle) (provider.Status, error) {
	if h.ID == "" {
		return provider.Status{}, fmt.Errorf("handle for %s has no record id", h.Unit)
	}
	out, err := p.api.DescribeRecord(ctx, &servicecatalog.DescribeRecordInput{Id: aws.String(h.ID)})
	if err != nil {
		return provider.Status{}, awsapi.Classify(err)
	}
	rec := out.RecordDetail
	if rec == nil {
		return provider.Status{}, fmt.Errorf("record %s returned no detail", h.ID)
	}
	raw := string(rec.Status)
	st := provider.Status{Phase: RecordPhase(raw), Raw: raw}
	for _, re := range rec.RecordErrors {
		st.Events = append(st.Events, strings.TrimSpace(fmt.Sprintf("%s: %s", aws.ToString(re.Code), aws.ToString(re.Description))))
	}
	if len(st.Events) > 0 {
		st.Reason = st.Events[0]
	}
	return st, nil
}

func (p *Provider) GetOutputs(ctx context.Context, name string) (map[string]string, error) {
	out := map[string]string{}
	var token *string
	for {
		resp, err := p.api.GetProvisionedProductOutputs(ctx, &servicecatalog.GetProvisionedProductOutputsInput{
			ProvisionedProductName: aws.String(name),
			PageToken:              token,
		})
		if err != nil {
			return nil, awsapi.Classify(err)
		}
		for _, o := range resp.Outputs {
			out[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
		}
		token = resp.NextPageToken
		if token == nil {
			return out, nil
		}
	}
}

func (p *Provider) List(ctx context.Context) ([]provider.Summary, error) {
	var out []provider.Summary
	var token *string
	for {
		resp, err := p.api.SearchProvisionedProducts(ctx, &servicecatalog.SearchProvisionedProductsInput{PageToken: token})
		if err != nil {
			return nil, awsapi.Classify(err)
		}
		for _, pp := range resp.ProvisionedProducts {
			out = append(out, provider.Summary{
				Name:    aws.ToString(pp.Name),
				ID:      aws.ToString(pp.Id),
				Status:  string(pp.Status),
				Type:    aws.ToString(pp.Type),
				Created: aws.ToTime(pp.CreatedTime),
			})
		}
		token = resp.NextPageToken
		if token == nil {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RecordPhase maps a Service Catalog record status onto a phase.
func RecordPhase(status string) provider.Phase {
	switch status {
	case "SUCCEEDED":
		return provider.PhaseSucceeded
	case "FAILED":
		return provider.PhaseFailed
	default:
		// CREATED, IN_PROGRESS, IN_PROGRESS_IN_ERROR
		return provider.PhaseInProgress
	}
}

// ProductPhase maps a provisioned product status onto a phase. TAINTED
// products are stable on their previous version after a failed update.
func ProductPhase(status string) provider.Phase {
	switch status {
	case "AVAILABLE", "TAINTED":
		return provider.PhaseSucceeded
	case "ERROR":
		return provider.PhaseFailed
	default:
		return provider.PhaseInProgress
	}
}

func handle(name string, action provider.Action, rec *types.RecordDetail, submitted time.Time) (provider.Handle, error) {
	if rec == nil || aws.ToString(rec.RecordId) == "" {
		return provider.Handle{}, fmt.Errorf("%s %s: service catalog returned no record id", action, name)
	}
	return provider.Handle{Unit: name, Action: action, ID: aws.ToString(rec.RecordId), Submitted: submitted}, nil
}

func checkTemplate(t provider.TemplateRef) error {
	if t.Product == "" || t.Artifact == "" {
		return &provider.APIError{Kind: provider.KindRejected, Message: "service catalog needs a product id and provisioning artifact id"}
	}
	return nil
}

func tags(in map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(in))
	for _, k := range sortedKeys(in) {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(in[k])})
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
