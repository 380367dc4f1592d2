// internal/llmclient/chat.go
package llmclient

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
)

// Role identifies the author of a history entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultImageRetention is how many trailing history entries keep their images.
const DefaultImageRetention = 3

// Entry is one message of the conversation history.
type Entry struct {
	Role    Role
	Message schemas.ChatMessage
}

// Completer sends a full conversation to a model and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, entries []Entry) (string, error)
}

// Observer receives chat lifecycle callbacks.
type Observer interface {
	OnChatStart(ctx context.Context)
	OnChatQuestion(ctx context.Context, question schemas.ChatMessage)
	OnChatAnswer(ctx context.Context, answer string)
	OnChatConversation(ctx context.Context, question schemas.ChatMessage, answer string)
}

// Option configures a Chat.
type Option func(*Chat)

// WithIntroduction sets the system message placed at the head of the history.
func WithIntroduction(text string) Option {
	return func(c *Chat) { c.introduction = text }
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Chat) { c.observers = append(c.observers, o) }
}

// WithLogger sets the chat's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chat) { c.logger = logger }
}

// WithImageRetention keeps images only on the last n history entries. Older entries are
// sent as text.
func WithImageRetention(n int) Option {
	return func(c *Chat) { c.keepImages = n }
}

// WithRequestsPerMinute paces requests to the model. Zero disables pacing.
func WithRequestsPerMinute(rpm float64) Option {
	return func(c *Chat) {
		if rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rpm/60), 1)
		} else {
			c.limiter = nil
		}
	}
}

// Chat is a conversation with one model. Pushes are serialized; the history only records an
// exchange once the model has answered.
type Chat struct {
	completer    Completer
	introduction string
	observers    []Observer
	logger       *zap.Logger
	keepImages   int
	limiter      *rate.Limiter

	mu      sync.Mutex
	history []Entry
}

// NewChat creates a chat backed by completer.
func NewChat(completer Completer, opts ...Option) *Chat {
	c := &Chat{
		completer:  completer,
		logger:     zap.NewNop(),
		keepImages: DefaultImageRetention,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("chat")
	c.Clear(context.Background())
	return c
}

// Clear drops the history, keeping only the introduction.
func (c *Chat) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.observers {
		o.OnChatStart(ctx)
	}
	c.history = c.history[:0]
	if c.introduction != "" {
		c.history = append(c.history, Entry{Role: RoleSystem, Message: schemas.ChatMessage{Text: c.introduction}})
	}
}

// Push sends msg with the history and returns the model's answer.
func (c *Chat) Push(ctx context.Context, msg schemas.ChatMessage) (string, error) {
	for _, img := range msg.Images {
		if err := img.Validate(); err != nil {
			return "", fmt.Errorf("invalid image: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, o := range c.observers {
		o.OnChatQuestion(ctx, msg)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for request slot: %w", err)
		}
	}

	question := Entry{Role: RoleUser, Message: msg}
	request := append(c.compacted(), question)
	c.logger.Debug("Sending chat request.", zap.Int("entries", len(request)), zap.Int("images", len(msg.Images)))

	answer, err := c.completer.Complete(ctx, request)
	if err != nil {
		return "", err
	}

	for _, o := range c.observers {
		o.OnChatAnswer(ctx, answer)
		o.OnChatConversation(ctx, msg, answer)
	}
	c.history = append(c.history, question, Entry{Role: RoleAssistant, Message: schemas.ChatMessage{Text: answer}})
	return answer, nil
}

// Pop removes the last exchange and returns its question.
func (c *Chat) Pop() (schemas.ChatMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.history)
	if n < 2 || c.history[n-2].Role != RoleUser {
		return schemas.ChatMessage{}, false
	}
	question := c.history[n-2].Message
	c.history = c.history[:n-2]
	return question, true
}

// History returns a copy of the recorded entries.
func (c *Chat) History() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.history...)
}

// compacted returns the history with images stripped from all but the last keepImages entries.
// Callers hold c.mu.
func (c *Chat) compacted() []Entry {
	out := make([]Entry, len(c.history), len(c.history)+1)
	cutoff := len(c.history) - c.keepImages
	for i, e := range c.history {
		if i < cutoff && len(e.Message.Images) > 0 {
			e.Message = schemas.ChatMessage{Text: e.Message.Text}
		}
		out[i] = e
	}
	return out
}
