// File: cmd/exec.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
	"github.com/xkilldash9x/bidi-pilot/internal/agent"
	"github.com/xkilldash9x/bidi-pilot/internal/observability"
)

func newExecCmd() *cobra.Command {
	var (
		startURL      string
		screenshotDir string
	)
	execCmd := &cobra.Command{
		Use:   "exec [statements...]",
		Short: "Runs driver statements against a page without a model",
		Long: `Opens the start URL and runs the given statements, one per argument, as a single code
block. Use "-" to read the block from standard input. Output that would be sent to the model is
printed instead. Failed checks exit with status 2.`,
		Example: `  bidi-pilot exec --url https://example.com 'driver.click 100, 200' 'driver.capture_screenshot'`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			code, err := readStatements(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			p, err := openPage(ctx, cfg, startURL, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := p.Close(); cerr != nil {
					logger.Warn("Failed to close the browser cleanly.", zap.Error(cerr))
				}
			}()

			printer := &messagePrinter{out: cmd.OutOrStdout(), screenshotDir: screenshotDir, logger: logger}
			tool := p.newInputTool(cfg, observability.NewActionLogger(logger))
			tool.OnSendMessage(printer.print)

			return wrapAssertions(agent.NewSandbox(tool, logger).Run(ctx, code))
		},
	}

	execCmd.Flags().StringVarP(&startURL, "url", "u", "about:blank", "page to open before the statements run")
	execCmd.Flags().StringVar(&screenshotDir, "screenshot-dir", "", "directory to save captured images to")
	return execCmd
}

// readStatements joins args into one code block, or reads it from in when the only argument is "-".
func readStatements(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read statements: %w", err)
		}
		args = []string{string(data)}
	}
	code := strings.TrimSpace(strings.Join(args, "\n"))
	if code == "" {
		return "", errors.New("no statements given")
	}
	return code, nil
}

// messagePrinter writes chat-ready messages to out, saving images when a directory is set.
type messagePrinter struct {
	out           io.Writer
	screenshotDir string
	logger        *zap.Logger

	mu     sync.Mutex
	images int
}

func (m *messagePrinter) print(_ context.Context, msg schemas.ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintln(m.out, msg.Text)
	for _, img := range msg.Images {
		m.images++
		if m.screenshotDir == "" {
			fmt.Fprintf(m.out, "[%s image, %d base64 bytes]\n", img.MIMEType(), len(img.Data))
			continue
		}
		path, err := m.save(img)
		if err != nil {
			m.logger.Error("Failed to save image.", zap.Error(err))
			continue
		}
		fmt.Fprintf(m.out, "[saved %s]\n", path)
	}
}

func (m *messagePrinter) save(img schemas.Image) (string, error) {
	data, err := img.Decode()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.screenshotDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(m.screenshotDir, fmt.Sprintf("capture-%03d.%s", m.images, img.Format))
	return path, os.WriteFile(path, data, 0o644)
}
