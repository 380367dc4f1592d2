package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
	"github.com/xkilldash9x/bidi-pilot/internal/bidi"
	"github.com/xkilldash9x/bidi-pilot/internal/browser"
)

// ChatChannel is the conversation with the model. Push sends one user message and returns
// the model's reply; implementations serialize concurrent pushes.
type ChatChannel interface {
	Push(ctx context.Context, msg schemas.ChatMessage) (string, error)
}

// Tool is a Driver that also reports observable output through a message sink.
type Tool interface {
	Driver
	OnSendMessage(sink browser.MessageSink)
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithMaxTurns bounds the number of model round trips per Send. Zero means unbounded.
func WithMaxTurns(n int) Option {
	return func(a *Agent) { a.maxTurns = n }
}

// Agent drives a model conversation against an input tool.
//
// It has two modes. In direct mode an outgoing message goes to the chat channel at once and
// the reply is processed. While a reply is processed the agent is queuing: messages raised by
// the executed code are buffered and only the last one is forwarded once processing completes.
type Agent struct {
	id       string
	chat     ChatChannel
	sandbox  *Sandbox
	logger   *zap.Logger
	maxTurns int

	mu      sync.Mutex
	queuing bool
	queue   []schemas.ChatMessage
	last    string
}

// New wires an agent to a tool and a chat channel. The agent registers itself as the tool's
// message sink.
func New(tool Tool, chat ChatChannel, opts ...Option) *Agent {
	a := &Agent{
		id:     uuid.New().String()[:8],
		chat:   chat,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("agent").With(zap.String("agent_id", a.id))
	a.sandbox = NewSandbox(tool, a.logger)
	tool.OnSendMessage(a.deliver)
	return a
}

// LastMessage returns the most recent model reply.
func (a *Agent) LastMessage() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Send starts or continues the conversation with text. It returns once the model stops
// asking for more turns. Failed checks are returned together; every other failure was
// already fed back to the model.
func (a *Agent) Send(ctx context.Context, text string) error {
	return a.SendMessage(ctx, schemas.ChatMessage{Text: text})
}

// SendMessage is Send for a message that may carry images.
func (a *Agent) SendMessage(ctx context.Context, msg schemas.ChatMessage) error {
	if a.enqueue(msg) {
		return nil
	}
	return a.converse(ctx, msg)
}

// deliver is the tool's message sink.
func (a *Agent) deliver(ctx context.Context, msg schemas.ChatMessage) {
	if err := a.SendMessage(ctx, msg); err != nil {
		a.logger.Warn("Message delivered outside of a reply failed.", zap.Error(err))
	}
}

// -- State machine --

func (a *Agent) enqueue(msg schemas.ChatMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.queuing {
		return false
	}
	a.queue = append(a.queue, msg)
	a.logger.Debug("Queued outgoing message.", zap.Stringer("message", msg), zap.Int("queued", len(a.queue)))
	return true
}

func (a *Agent) beginQueuing() {
	a.mu.Lock()
	a.queuing = true
	a.queue = nil
	a.mu.Unlock()
}

func (a *Agent) endQueuing() []schemas.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queuing = false
	queued := a.queue
	a.queue = nil
	return queued
}

func (a *Agent) converse(ctx context.Context, msg schemas.ChatMessage) error {
	var failures error
	for turn := 1; ; turn++ {
		if a.maxTurns > 0 && turn > a.maxTurns {
			return multierr.Append(failures, ErrTurnLimit)
		}

		a.logger.Debug("Sending message to model.", zap.Int("turn", turn), zap.Stringer("message", msg))
		answer, err := a.chat.Push(ctx, msg)
		if err != nil {
			return multierr.Append(failures, fmt.Errorf("chat request failed: %w", err))
		}
		a.mu.Lock()
		a.last = answer
		a.mu.Unlock()

		next, assertions := a.handleAnswer(ctx, answer)
		failures = multierr.Append(failures, assertions)
		if next == nil {
			a.logger.Debug("Conversation paused; no follow up message.", zap.Int("turns", turn))
			return failures
		}
		msg = *next
	}
}

// handleAnswer executes the reply's code blocks in queuing mode. It returns the message to
// forward next, if any, and the failed checks.
func (a *Agent) handleAnswer(ctx context.Context, answer string) (*schemas.ChatMessage, error) {
	a.beginQueuing()

	var feedback []string
	var assertions error
	for i, code := range ExtractCodeBlocks(answer) {
		if containsBackquote(code) {
			a.logger.Warn("Rejected code block containing a back-quote.", zap.Int("block", i))
			feedback = append(feedback, ErrBackquoteNotAllowed.Error())
			continue
		}
		err := a.sandbox.Run(ctx, code)
		for _, e := range multierr.Errors(err) {
			if browser.IsAssertionError(e) {
				assertions = multierr.Append(assertions, e)
				continue
			}
			feedback = append(feedback, FormatFeedback(e))
		}
	}

	queued := a.endQueuing()
	if len(feedback) > 0 {
		queued = append(queued, schemas.ChatMessage{Text: strings.Join(feedback, "\n")})
	}
	if len(queued) == 0 {
		return nil, assertions
	}
	if dropped := len(queued) - 1; dropped > 0 {
		a.logger.Debug("Coalesced queued messages.", zap.Int("dropped", dropped))
	}
	next := queued[len(queued)-1]
	return &next, assertions
}

// FormatFeedback renders an execution failure as the text sent back to the model.
func FormatFeedback(err error) string {
	switch {
	case errors.Is(err, ErrBackquoteNotAllowed):
		return err.Error()
	case bidi.IsProtocolError(err), errors.Is(err, bidi.ErrConnectionClosed):
		return "Error: " + err.Error()
	}
	return "ERROR: " + err.Error()
}
