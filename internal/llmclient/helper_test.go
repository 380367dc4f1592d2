package llmclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
	"github.com/xkilldash9x/bidi-pilot/internal/config"
)

// MockCompleter is a mock implementation of the Completer interface for testing.
type MockCompleter struct {
	mock.Mock
}

// Complete mocks the Complete method.
func (m *MockCompleter) Complete(ctx context.Context, entries []Entry) (string, error) {
	args := m.Called(ctx, entries)
	return args.String(0), args.Error(1)
}

// recordingObserver collects chat callbacks in order.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) OnChatStart(context.Context) { r.add("start") }
func (r *recordingObserver) OnChatQuestion(_ context.Context, q schemas.ChatMessage) {
	r.add("question:" + q.Text)
}
func (r *recordingObserver) OnChatAnswer(_ context.Context, a string) { r.add("answer:" + a) }
func (r *recordingObserver) OnChatConversation(_ context.Context, q schemas.ChatMessage, a string) {
	r.add("conversation:" + q.Text + "=" + a)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

// getValidLLMConfig returns a valid LLMConfig for the given provider and endpoint.
func getValidLLMConfig(provider config.LLMProvider, endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Provider:   provider,
		APIKey:     "test-api-key",
		Model:      "test-model",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
	}
}
