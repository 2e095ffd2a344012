// main.go bootstraps devenv: it builds the root Cobra command, binds Viper
// configuration and executes with signal-aware contexts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/example/devenv/internal/config"
	"github.com/example/devenv/internal/coordinator"
	"github.com/example/devenv/internal/logging"
	"github.com/example/devenv/internal/provider"
	"github.com/example/devenv/internal/ui"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand(awsBackend)
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.
type app struct {
	opts       *config.Options
	colorMode  string
	newBackend backendFactory
	log        logr.Logger
}

func newRootCommand(newBackend backendFactory) *cobra.Command {
	a := &app{opts: config.NewOptions(), colorMode: "auto", newBackend: newBackend, log: logr.Discard()}
	cmd := &cobra.Command{
		Use:   "devenv",
		Short: "Provision shared development infrastructure and per-developer environments",
		Long: `devenv deploys the shared development infrastructure (administrators) and
launches, inspects and terminates per-developer environments on top of it.

Every flag can also be set through DEVENV_<FLAG> environment variables or a
config.yaml file (see 'devenv env').`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindViper(cmd); err != nil {
				return err
			}
			if err := a.opts.Validate(); err != nil {
				return err
			}
			log, err := logging.New(a.opts.LogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.log = log
			ui.SetColor(a.colorMode)
			return nil
		},
	}
	a.opts.AddFlags(cmd)
	cmd.PersistentFlags().StringVar(&a.colorMode, "color", a.colorMode, "Colorize output: auto, always, never")

	cmd.AddCommand(
		newAdminCommand(a),
		newDeveloperCommand(a),
		newEnvCommand(),
		newVersionCommand(),
	)
	return cmd
}

// bindViper fills every flag the user did not set from DEVENV_<FLAG>
// environment variables or the config file.
func bindViper(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("DEVENV")
	v.AutomaticEnv()
	configFile := os.Getenv("DEVENV_CONFIG")
	configureConfigFile(v, configFile)

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := readConfigFile(v, configFile != ""); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var firstErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "help" {
			return
		}
		if !v.IsSet(f.Name) {
			return
		}
		val := fmt.Sprintf("%v", v.Get(f.Name))
		if val == "" {
			return
		}
		if err := f.Value.Set(val); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid value %q for --%s from environment or config: %w", val, f.Name, err)
		}
	})
	return firstErr
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "devenv"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "devenv"))
		add(filepath.Join(home, ".devenv"))
	}
	return dirs
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	if stage, ok := coordinator.StageOf(err); ok {
		message = fmt.Sprintf("%s (stage: %s)", message, stage)
	}
	if hint := errorHint(err); hint != "" {
		message = fmt.Sprintf("%s\nHint: %s", message, hint)
	}
	fmt.Fprintf(w, "Error: %s\n", message)
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "the local wait was interrupted; the provider keeps working on any submitted operation. Check it with 'devenv developer status'."
	case errors.Is(err, provider.ErrAuthenticationMissing):
		return "no usable AWS credentials. Run 'aws configure' or 'aws sso login', or pass --profile."
	case errors.Is(err, provider.ErrOperationInProgress):
		return "another operation on this unit is still running. Wait for it to settle or raise --max-busy-retries."
	case errors.Is(err, provider.ErrTimedOut):
		return "the operation may still finish. Check 'devenv developer status' or raise --timeout."
	case errors.Is(err, provider.ErrMissingOutput):
		return "the template must declare the listed outputs."
	case errors.Is(err, provider.ErrNotFound):
		return "check --region and the name; shared infrastructure is created with 'devenv admin deploy'."
	case errors.Is(err, provider.ErrDeploymentRejected):
		return "the provider rejected or rolled back the request; the events above name the failing resources."
	}
	return ""
}
