// File: internal/artifacts/artifacts.go
// Brief: Artifact bucket provisioning and template uploads.

// Package artifacts manages the S3 bucket that holds infrastructure
// templates. Template content is opaque here: files are uploaded as-is.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/example/devenv/internal/awsapi"
	"github.com/example/devenv/internal/provider"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBucketBase     = "agent-devenv-artifacts"
	InfrastructurePrefix  = "infrastructure/"
	TemplatesPrefix       = "templates/"
	DevTemplateName       = "dev-environment-template.yaml"
	MasterTemplateName    = "00-admin-deployment.yaml"
	uploadConcurrency     = 4
	regionWithoutLocation = "us-east-1"
)

// API is the subset of the S3 client used here.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, in *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutBucketEncryption(ctx context.Context, in *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BucketName suffixes the base name with the account id so names stay
// globally unique per account.
func BucketName(base, account string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBucketBase
	}
	return base + "-" + account
}

// ObjectURL is the virtual-hosted URL of key, usable as a template URL.
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// Upload is one file to copy into the bucket.
type Upload struct {
	Path string
	Key  string
}

// PlanUploads lists the templates under dir. Every *.yaml in dir, dir/initial
// and dir/template goes under InfrastructurePrefix; the developer template is
// also published under TemplatesPrefix. A missing developer template is
// reported through the returned bool.
func PlanUploads(dir string) ([]Upload, bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, false, fmt.Errorf("templates dir: %w", err)
	}
	if !info.IsDir() {
		return nil, false, fmt.Errorf("templates dir %s is not a directory", dir)
	}
	var uploads []Upload
	for _, sub := range []string{dir, filepath.Join(dir, "initial"), filepath.Join(dir, "template")} {
		matches, err := filepath.Glob(filepath.Join(sub, "*.yaml"))
		if err != nil {
			return nil, false, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			uploads = append(uploads, Upload{Path: m, Key: InfrastructurePrefix + filepath.Base(m)})
		}
	}
	devTemplate := filepath.Join(dir, "template", DevTemplateName)
	hasDev := false
	if _, err := os.Stat(devTemplate); err == nil {
		uploads = append(uploads, Upload{Path: devTemplate, Key: TemplatesPrefix + DevTemplateName})
		hasDev = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	return uploads, hasDev, nil
}

// CheckTemplate reports whether body is well-formed YAML. Intrinsic function
// tags such as !Ref and !Sub are accepted; the content itself is not inspected.
func CheckTemplate(name string, body []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%s is not valid YAML: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return fmt.Errorf("%s is empty", name)
	}
	return nil
}

// Store provisions the bucket and uploads templates.
type Store struct {
	api    API
	region string
	log    logr.Logger
}

// New returns a Store for region.
func New(api API, region string, log logr.Logger) *Store {
	return &Store{api: api, region: region, log: log}
}

// NewClient builds an S3 client from an SDK configuration.
func NewClient(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// EnsureBucket creates the bucket with versioning and default encryption
// unless it already exists. It reports whether the bucket was created.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) (bool, error) {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		s.log.V(1).Info("bucket exists", "bucket", bucket)
		return false, nil
	}
	var nf *types.NotFound
	if err = awsapi.Classify(err); !errors.As(err, &nf) && !errors.Is(err, provider.ErrNotFound) {
		return false, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if s.region != regionWithoutLocation {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{LocationConstraint: types.BucketLocationConstraint(s.region)}
	}
	if _, err := s.api.CreateBucket(ctx, in); err != nil {
		return false, fmt.Errorf("create bucket %s: %w", bucket, awsapi.Classify(err))
	}
	if _, err := s.api.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket:                  aws.String(bucket),
		VersioningConfiguration: &types.VersioningConfiguration{Status: types.BucketVersioningStatusEnabled},
	}); err != nil {
		return true, fmt.Errorf("enable versioning on %s: %w", bucket, awsapi.Classify(err))
	}
	if _, err := s.api.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(bucket),
		ServerSideEncryptionConfiguration: &types.ServerSideEncryptionConfiguration{
			Rules: []types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &types.ServerSideEncryptionByDefault{SSEAlgorithm: types.ServerSideEncryptionAes256},
			}},
		},
	}); err != nil {
		return true, fmt.Errorf("enable encryption on %s: %w", bucket, awsapi.Classify(err))
	}
	s.log.Info("created artifact bucket", "bucket", bucket, "region", s.region)
	return true, nil
}

// Upload copies every planned file into bucket.
func (s *Store) Upload(ctx context.Context, bucket string, uploads []Upload) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, u := range uploads {
		g.Go(func() error {
			body, err := os.ReadFile(u.Path)
			if err != nil {
				return fmt.Errorf("read %s: %w", u.Path, err)
			}
			if err := CheckTemplate(u.Path, body); err != nil {
				return err
			}
			s.log.V(1).Info("uploading template", "path", u.Path, "key", u.Key)
			if _, err := s.api.PutObject(gctx, &s3.PutObjectInput{
				Bucket:      aws.String(bucket),
				Key:         aws.String(u.Key),
				Body:        bytes.NewReader(body),
				ContentType: aws.String("application/x-yaml"),
			}); err != nil {
				return fmt.Errorf("upload %s to s3://%s/%s: %w", u.Path, bucket, u.Key, awsapi.Classify(err))
			}
			return nil
		})
	}
	return g.Wait()
}
