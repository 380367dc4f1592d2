// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/internal/browser"
	"github.com/xkilldash9x/bidi-pilot/internal/config"
	"github.com/xkilldash9x/bidi-pilot/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// Exit codes returned by Execute.
const (
	ExitOK              = 0
	ExitError           = 1
	ExitAssertionFailed = 2
)

var cfgFile string

// assertionFailure marks a run that completed but reported failed checks.
type assertionFailure struct {
	err error
}

func (e *assertionFailure) Error() string { return "assertion failed: " + e.err.Error() }
func (e *assertionFailure) Unwrap() error { return e.err }

// wrapAssertions turns an error carrying failed checks into an assertionFailure.
func wrapAssertions(err error) error {
	if err != nil && browser.IsAssertionError(err) {
		return &assertionFailure{err: err}
	}
	return err
}

// newRootCmd builds the command tree. Each call returns an independent tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bidi-pilot",
		Short:         "Drives Firefox over WebDriver BiDi from model written test steps.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			if err := applyBrowserFlags(cmd, cfg); err != nil {
				return err
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting bidi-pilot", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./bidi-pilot.yaml)")
	root.PersistentFlags().String("ws-url", "", "connect to a running remote end instead of launching Firefox")
	root.PersistentFlags().Bool("headed", false, "show the browser window")
	root.PersistentFlags().Bool("debug-protocol", false, "log every protocol message")
	root.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	root.AddCommand(newRunCmd())
	root.AddCommand(newExecCmd())
	root.AddCommand(newTranscriptCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// applyBrowserFlags lets explicitly set flags override the file and environment.
func applyBrowserFlags(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()
	if flags.Changed("ws-url") {
		url, err := flags.GetString("ws-url")
		if err != nil {
			return err
		}
		cfg.SetBrowserWSURL(url)
	}
	if flags.Changed("headed") {
		headed, err := flags.GetBool("headed")
		if err != nil {
			return err
		}
		cfg.SetBrowserHeadless(!headed)
	}
	if flags.Changed("debug-protocol") {
		debug, err := flags.GetBool("debug-protocol")
		if err != nil {
			return err
		}
		cfg.SetBrowserDebugProtocol(debug)
	}
	return nil
}

// getConfig returns the configuration loaded by the root command.
func getConfig(cmd *cobra.Command) (config.Interface, error) {
	cfg, ok := cmd.Context().Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(stderr, "Error:", err)
	var af *assertionFailure
	if errors.As(err, &af) {
		return ExitAssertionFailed
	}
	return ExitError
}
