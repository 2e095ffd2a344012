// File: internal/config/config.go
// Brief: Internal config package implementation for 'config'.

// Package config defines the flag plumbing and runtime options shared by the
// devenv commands, translating Cobra/Viper flag values into a strongly typed
// struct that the coordinator and providers consume.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	DefaultStackName      = "AgentDevEnv-Infrastructure-Master"
	DefaultPollInterval   = 10 * time.Second
	DefaultTimeout        = 30 * time.Minute
	DefaultMaxBusyRetries = 5
	DefaultMaxPollErrors  = 3
	DefaultBucketBase     = "agent-devenv-artifacts"
	DefaultTemplatesDir   = "templates"
)

// Options holds the settings shared by every command.
type Options struct {
	Region         string
	Profile        string
	LogLevel       string
	StackName      string
	Portfolio      string
	Product        string
	PollInterval   time.Duration
	Timeout        time.Duration
	MaxBusyRetries int
	MaxPollErrors  int
	HistoryPath    string
	NoHistory      bool
}

// AdminOptions are the settings of the administrator deploy. ArtifactBucket
// is a base name suffixed with the account id; BucketName, when set, is used
// verbatim instead.
type AdminOptions struct {
	ArtifactBucket string
	BucketName     string
	TemplatesDir   string
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		LogLevel:       "info",
		StackName:      DefaultStackName,
		PollInterval:   DefaultPollInterval,
		Timeout:        DefaultTimeout,
		MaxBusyRetries: DefaultMaxBusyRetries,
		MaxPollErrors:  DefaultMaxPollErrors,
	}
}

// NewAdminOptions returns AdminOptions with defaults applied.
func NewAdminOptions() *AdminOptions {
	return &AdminOptions{ArtifactBucket: DefaultBucketBase, TemplatesDir: DefaultTemplatesDir}
}

// AddFlags binds configuration flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.PersistentFlags())
}

// BindFlags attaches shared flags to an arbitrary FlagSet and returns the flag names.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVar(&o.Region, "region", o.Region, "AWS region (defaults to the shared AWS config, then us-east-1)")
	names = append(names, "region")
	fs.StringVar(&o.Profile, "profile", o.Profile, "AWS shared config profile")
	names = append(names, "profile")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn, error")
	names = append(names, "log-level")
	fs.StringVar(&o.StackName, "stack-name", o.StackName, "Name of the shared infrastructure stack")
	names = append(names, "stack-name")
	fs.StringVar(&o.Portfolio, "portfolio", o.Portfolio, "Service Catalog portfolio holding the environment product (default: the stack export, then \"Development Environment Portfolio\")")
	names = append(names, "portfolio")
	fs.StringVar(&o.Product, "product", o.Product, "Service Catalog product used for developer environments (default: the stack export, then \"Development Environment\")")
	names = append(names, "product")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "Interval between status polls")
	names = append(names, "poll-interval")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Maximum time to wait for an operation to settle")
	names = append(names, "timeout")
	fs.IntVar(&o.MaxBusyRetries, "max-busy-retries", o.MaxBusyRetries, "Retries when the target is busy with another operation")
	names = append(names, "max-busy-retries")
	fs.IntVar(&o.MaxPollErrors, "max-poll-errors", o.MaxPollErrors, "Consecutive status poll errors tolerated before giving up")
	names = append(names, "max-poll-errors")
	fs.StringVar(&o.HistoryPath, "history-file", o.HistoryPath, "Path of the local operation history (default ~/.devenv/history.sqlite)")
	names = append(names, "history-file")
	fs.BoolVar(&o.NoHistory, "no-history", o.NoHistory, "Do not record operations in the local history")
	names = append(names, "no-history")
	return names
}

// BindFlags attaches admin deploy flags.
func (o *AdminOptions) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ArtifactBucket, "artifact-bucket", o.ArtifactBucket, "Base name of the artifact bucket; the account id is appended")
	fs.StringVar(&o.BucketName, "bucket-name", o.BucketName, "Exact artifact bucket name, overriding --artifact-bucket")
	fs.StringVar(&o.TemplatesDir, "templates-dir", o.TemplatesDir, "Directory holding the infrastructure templates")
}

// Validate ensures provided options are coherent.
func (o *Options) Validate() error {
	o.Region = strings.TrimSpace(o.Region)
	o.StackName = strings.TrimSpace(o.StackName)
	switch strings.ToLower(strings.TrimSpace(o.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid --log-level value %q (allowed: debug, info, warn, error)", o.LogLevel)
	}
	if o.StackName == "" {
		return fmt.Errorf("--stack-name cannot be empty")
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive, got %s", o.PollInterval)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive, got %s", o.Timeout)
	}
	if o.Timeout < o.PollInterval {
		return fmt.Errorf("--timeout (%s) cannot be shorter than --poll-interval (%s)", o.Timeout, o.PollInterval)
	}
	if o.MaxBusyRetries < 0 {
		return fmt.Errorf("--max-busy-retries cannot be negative")
	}
	if o.MaxPollErrors < 0 {
		return fmt.Errorf("--max-poll-errors cannot be negative")
	}
	return nil
}

// Validate checks the admin deploy settings.
func (o *AdminOptions) Validate() error {
	if strings.TrimSpace(o.TemplatesDir) == "" {
		return fmt.Errorf("--templates-dir cannot be empty")
	}
	if strings.TrimSpace(o.ArtifactBucket) == "" && strings.TrimSpace(o.BucketName) == "" {
		return fmt.Errorf("either --artifact-bucket or --bucket-name is required")
	}
	return nil
}
