package baseline

import (
	"context"
	"errors"
	"testing"

	"github.com/example/devenv/internal/provider"
	"github.com/example/devenv/internal/provider/fake"
)

func seedMaster(p *fake.Provider, outputs map[string]string) {
	p.Seed(provider.Request{Name: DefaultStackName, Template: provider.TemplateRef{Body: "x"}})
	p.SetOutputs(DefaultStackName, outputs)
}

func TestLoad(t *testing.T) {
	p := fake.New()
	seedMaster(p, map[string]string{ExportArtifactBucket: "agent-devenv-artifacts-123", ExportProduct: "Dev Box", "VpcId": "vpc-1"})

	rec, err := Load(context.Background(), p, Ref{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.StackName != DefaultStackName || rec.ArtifactBucket != "agent-devenv-artifacts-123" {
		t.Fatalf("record=%+v", rec)
	}
	if len(rec.Version) != 12 {
		t.Fatalf("version=%q", rec.Version)
	}
	if v, err := rec.Lookup("VpcId"); err != nil || v != "vpc-1" {
		t.Fatalf("lookup VpcId=%q err=%v", v, err)
	}
	if _, err := rec.Lookup("SubnetId"); !errors.Is(err, provider.ErrMissingOutput) {
		t.Fatalf("expected missing output, got %v", err)
	}
}

func TestLoadNamePrecedence(t *testing.T) {
	cases := []struct {
		name          string
		ref           Ref
		exports       map[string]string
		wantPortfolio string
		wantProduct   string
	}{
		{
			name:          "defaults",
			wantPortfolio: DefaultPortfolio,
			wantProduct:   DefaultProduct,
		},
		{
			name:          "exports over defaults",
			exports:       map[string]string{ExportPortfolio: "Team Portfolio", ExportProduct: "Dev Box"},
			wantPortfolio: "Team Portfolio",
			wantProduct:   "Dev Box",
		},
		{
			name:          "flags over exports",
			ref:           Ref{Portfolio: "Custom Portfolio", Product: "Custom Box"},
			exports:       map[string]string{ExportPortfolio: "Team Portfolio", ExportProduct: "Dev Box"},
			wantPortfolio: "Custom Portfolio",
			wantProduct:   "Custom Box",
		},
		{
			name:          "mixed",
			ref:           Ref{Product: "Custom Box"},
			exports:       map[string]string{ExportPortfolio: "Team Portfolio", ExportProduct: "Dev Box"},
			wantPortfolio: "Team Portfolio",
			wantProduct:   "Custom Box",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := fake.New()
			outputs := map[string]string{ExportArtifactBucket: "agent-devenv-artifacts-123"}
			for k, v := range tc.exports {
				outputs[k] = v
			}
			seedMaster(p, outputs)
			rec, err := Load(context.Background(), p, tc.ref)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if rec.Portfolio != tc.wantPortfolio || rec.Product != tc.wantProduct {
				t.Fatalf("portfolio=%q product=%q", rec.Portfolio, rec.Product)
			}
		})
	}
}

func TestLoadRequiresArtifactBucketExport(t *testing.T) {
	p := fake.New()
	seedMaster(p, map[string]string{ExportProduct: "Dev Box"})
	_, err := Load(context.Background(), p, Ref{})
	if !errors.Is(err, provider.ErrMissingOutput) {
		t.Fatalf("expected missing output, got %v", err)
	}
}

func TestLoadNotDeployed(t *testing.T) {
	_, err := Load(context.Background(), fake.New(), Ref{Region: "eu-west-1"})
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoadDescribeErrorSurfaces(t *testing.T) {
	p := fake.New()
	p.FailDescribe(errors.New("connection refused"))
	if _, err := Load(context.Background(), p, Ref{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestVersionChangesWithExports(t *testing.T) {
	a := Version(map[string]string{"A": "1", "B": "2"})
	b := Version(map[string]string{"B": "2", "A": "1"})
	c := Version(map[string]string{"A": "1", "B": "3"})
	if a != b {
		t.Fatalf("version must not depend on map order")
	}
	if a == c {
		t.Fatalf("version must change when exports change")
	}
}
