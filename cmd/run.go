// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/internal/agent"
	"github.com/xkilldash9x/bidi-pilot/internal/browser"
	"github.com/xkilldash9x/bidi-pilot/internal/config"
	"github.com/xkilldash9x/bidi-pilot/internal/llmclient"
	"github.com/xkilldash9x/bidi-pilot/internal/observability"
	"github.com/xkilldash9x/bidi-pilot/internal/store"
)

// Function variables for dependency injection in tests.
var (
	newCompleter = llmclient.NewCompleter
	newDBPool    = func(ctx context.Context, url string) (store.DBPool, func(), error) {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
)

func newRunCmd() *cobra.Command {
	var (
		startURL    string
		instruction string
		additional  string
		maxTurns    int
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Lets the model drive the browser through the given test steps",
		Long: `Opens the start URL in a fresh tab and hands the instruction to the model. The model's
code blocks are executed against the page and their output is sent back until the model stops
asking for more. The last model message is printed. Failed checks exit with status 2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-turns") {
				cfg.SetAgentMaxTurns(maxTurns)
			}
			if cmd.Flags().Changed("additional") {
				cfg.SetAgentAdditionalInstruction(additional)
			}
			text, err := readInstruction(instruction)
			if err != nil {
				return err
			}
			return runConversation(cmd.Context(), cmd.OutOrStdout(), cfg, startURL, text)
		},
	}

	runCmd.Flags().StringVarP(&startURL, "url", "u", "", "page to open before the conversation starts")
	runCmd.Flags().StringVarP(&instruction, "instruction", "i", "", "test steps, or @path to read them from a file")
	runCmd.Flags().StringVar(&additional, "additional", "", "extra guidance appended to the system prompt")
	runCmd.Flags().IntVar(&maxTurns, "max-turns", 0, "maximum model round trips (overrides config)")
	_ = runCmd.MarkFlagRequired("url")
	_ = runCmd.MarkFlagRequired("instruction")
	return runCmd
}

// readInstruction returns value, or the contents of the file named after a leading @.
func readInstruction(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read instruction file: %w", err)
		}
		value = string(data)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("instruction is empty")
	}
	return value, nil
}

// runConversation wires the page, the model and the optional transcript store, then drives
// the agent until the conversation pauses.
func runConversation(ctx context.Context, out io.Writer, cfg config.Interface, startURL, text string) error {
	logger := observability.GetLogger()
	agentCfg := cfg.Agent()
	actions := observability.NewActionLogger(logger)

	completer, err := newCompleter(ctx, agentCfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	p, err := openPage(ctx, cfg, startURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logger.Warn("Failed to close the browser cleanly.", zap.Error(cerr))
		}
	}()

	toolObservers := []browser.Observer{actions}
	chatOpts := []llmclient.Option{
		llmclient.WithLogger(logger),
		llmclient.WithObserver(actions),
		llmclient.WithIntroduction(introduction(agentCfg)),
		llmclient.WithImageRetention(agentCfg.LLM.OmitImagesExceptLast),
		llmclient.WithRequestsPerMinute(agentCfg.LLM.RequestsPerMinute),
	}

	if cfg.Store().Enabled {
		rec, closeStore, err := startRecorder(ctx, cfg.Store(), startURL, text, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		toolObservers = append(toolObservers, rec)
		chatOpts = append(chatOpts, llmclient.WithObserver(rec))
		logger.Info("Recording transcript.", zap.String("conversation_id", rec.ID().String()))
	}

	tool := p.newInputTool(cfg, toolObservers...)
	chat := llmclient.NewChat(completer, chatOpts...)
	a := agent.New(tool, chat, agent.WithLogger(logger), agent.WithMaxTurns(agentCfg.MaxTurns))

	sendErr := a.Send(ctx, text)
	if last := a.LastMessage(); last != "" {
		fmt.Fprintln(out, last)
	}

	passed, failed := actions.Counts()
	logger.Info("Conversation finished.", zap.Int64("assertions_passed", passed), zap.Int64("assertions_failed", failed))
	return wrapAssertions(sendErr)
}

// introduction returns the configured system prompt or the built in one.
func introduction(cfg config.AgentConfig) string {
	if strings.TrimSpace(cfg.Introduction) != "" {
		return cfg.Introduction
	}
	return agent.DefaultIntroduction(cfg.AdditionalInstruction)
}

// startRecorder connects to the transcript database and starts a conversation record.
func startRecorder(ctx context.Context, cfg config.StoreConfig, startURL, text string, logger *zap.Logger) (*store.Recorder, func(), error) {
	pool, closePool, err := newDBPool(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := store.New(ctx, pool, logger)
	if err == nil {
		err = s.EnsureSchema(ctx)
	}
	var rec *store.Recorder
	if err == nil {
		rec, err = s.StartConversation(ctx, startURL, text)
	}
	if err != nil {
		closePool()
		return nil, nil, fmt.Errorf("failed to start transcript: %w", err)
	}
	return rec, closePool, nil
}
