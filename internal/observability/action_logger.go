// File: internal/observability/action_logger.go
package observability

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
)

// ActionLogger records input tool lifecycle and chat traffic as structured log lines.
// It satisfies both the input tool observer and the chat observer.
type ActionLogger struct {
	logger *zap.Logger

	passed atomic.Int64
	failed atomic.Int64
}

// NewActionLogger returns an ActionLogger writing to logger.
func NewActionLogger(logger *zap.Logger) *ActionLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionLogger{logger: logger.Named("actions")}
}

// -- Input tool --

func (l *ActionLogger) OnActionStart(_ context.Context, ev schemas.ActionEvent) {
	l.logger.Info("Action.", zap.String("action", ev.Action), zap.Any("params", ev.Params))
}

func (l *ActionLogger) OnAssertionOK(_ context.Context, description string) {
	l.passed.Add(1)
	l.logger.Info("Assertion passed.", zap.String("description", description))
}

func (l *ActionLogger) OnAssertionFail(_ context.Context, description string) {
	l.failed.Add(1)
	l.logger.Error("Assertion failed.", zap.String("description", description))
}

// Counts returns the number of passed and failed checks seen so far.
func (l *ActionLogger) Counts() (passed, failed int64) {
	return l.passed.Load(), l.failed.Load()
}

// -- Chat --

func (l *ActionLogger) OnChatStart(_ context.Context) {
	l.logger.Debug("Chat started.")
}

func (l *ActionLogger) OnChatQuestion(_ context.Context, question schemas.ChatMessage) {
	l.logger.Debug("Question.", zap.String("text", question.Text), zap.Int("images", len(question.Images)))
}

func (l *ActionLogger) OnChatAnswer(_ context.Context, answer string) {
	l.logger.Debug("Answer.", zap.String("text", answer))
}

func (l *ActionLogger) OnChatConversation(_ context.Context, question schemas.ChatMessage, answer string) {
	l.logger.Info("Conversation turn.", zap.Stringer("question", question), zap.Int("answer_length", len(answer)))
}
