// File: cmd/transcript.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bidi-pilot/internal/observability"
	"github.com/xkilldash9x/bidi-pilot/internal/store"
)

func newTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <conversation-id>",
		Short: "Prints a recorded conversation",
		Long: `Reads the chat turns of a conversation recorded by "run" with the store enabled.
The conversation id is logged when recording starts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation id %q: %w", args[0], err)
			}
			storeCfg := cfg.Store()
			if storeCfg.URL == "" {
				return errors.New("store.url is not configured")
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			pool, closePool, err := newDBPool(ctx, storeCfg.URL)
			if err != nil {
				return fmt.Errorf("failed to create database pool: %w", err)
			}
			defer closePool()

			s, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}
			turns, err := s.Transcript(ctx, id)
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				return fmt.Errorf("no turns recorded for conversation %s", id)
			}
			printTurns(cmd.OutOrStdout(), turns)
			return nil
		},
	}
}

// printTurns writes each question and answer under a numbered heading.
func printTurns(out io.Writer, turns []store.Turn) {
	for _, t := range turns {
		fmt.Fprintf(out, "#%d %s", t.Seq, t.CreatedAt.UTC().Format(time.RFC3339))
		if t.ImageCount > 0 {
			fmt.Fprintf(out, " (%d image(s))", t.ImageCount)
		}
		fmt.Fprintf(out, "\n> %s\n< %s\n\n", t.Question, t.Answer)
	}
}
