package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
	"github.com/xkilldash9x/bidi-pilot/internal/browser"
)

// -- Chat Channel Mock --

// MockChatChannel mocks the ChatChannel interface.
type MockChatChannel struct {
	mock.Mock
}

func (m *MockChatChannel) Push(ctx context.Context, msg schemas.ChatMessage) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

// -- Driver Fake --

// call is one verb invocation seen by fakeTool.
type call struct {
	Verb string
	Args []interface{}
}

// fakeTool records verb calls and, like the real input tool, reports script and
// screenshot output through the registered sink.
type fakeTool struct {
	mu    sync.Mutex
	calls []call
	sink  browser.MessageSink

	// errs maps a verb name to the error it returns.
	errs map[string]error
	// results maps a script to the value ExecuteScript reports.
	results map[string]string
}

func newFakeTool() *fakeTool {
	return &fakeTool{errs: map[string]error{}, results: map[string]string{}}
}

var _ Tool = (*fakeTool)(nil)

func (f *fakeTool) OnSendMessage(sink browser.MessageSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

func (f *fakeTool) record(verb string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Verb: verb, Args: args})
	return f.errs[verb]
}

func (f *fakeTool) send(ctx context.Context, msg schemas.ChatMessage) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink != nil {
		sink(ctx, msg)
	}
}

func (f *fakeTool) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeTool) Verbs() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.Verb)
	}
	return out
}

func (f *fakeTool) AssertionOK(_ context.Context, description string) {
	_ = f.record("assertion_ok", description)
}

func (f *fakeTool) AssertionFail(_ context.Context, description string) error {
	_ = f.record("assertion_fail", description)
	return &browser.AssertionError{Description: description}
}

func (f *fakeTool) AriaSnapshot(ctx context.Context, rootLocator string, ref bool) ([]string, error) {
	if err := f.record("aria_snapshot", rootLocator, ref); err != nil {
		return nil, err
	}
	f.send(ctx, schemas.ChatMessage{Text: "- main"})
	return []string{"- main"}, nil
}

func (f *fakeTool) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if err := f.record("capture_screenshot"); err != nil {
		return nil, err
	}
	data := []byte("png")
	f.send(ctx, schemas.ChatMessage{Text: "Capture of https://example.com/", Images: []schemas.Image{schemas.NewPNGImage(data)}})
	return data, nil
}

func (f *fakeTool) Click(_ context.Context, x, y, delay int) error {
	return f.record("click", x, y, delay)
}

func (f *fakeTool) ExecuteScript(ctx context.Context, script string) (interface{}, error) {
	if err := f.record("execute_script", script); err != nil {
		return nil, err
	}
	result, ok := f.results[script]
	if !ok {
		return nil, nil
	}
	f.send(ctx, schemas.ChatMessage{Text: fmt.Sprintf("result is `%s`", result)})
	return result, nil
}

func (f *fakeTool) ExecuteScriptWithRef(_ context.Context, ref, decl string) (interface{}, error) {
	return nil, f.record("execute_script_with_ref", ref, decl)
}

func (f *fakeTool) OnPressingKey(_ context.Context, key string, fn func() error) error {
	if err := f.record("on_pressing_key", key); err != nil {
		return err
	}
	err := fn()
	_ = f.record("release_key", key)
	return err
}

func (f *fakeTool) PressKey(_ context.Context, key string, delay int) error {
	return f.record("press_key", key, delay)
}

func (f *fakeTool) ScrollDown(_ context.Context, x, y int, velocity float64) error {
	return f.record("scroll_down", x, y, velocity)
}

func (f *fakeTool) ScrollUp(_ context.Context, x, y int, velocity float64) error {
	return f.record("scroll_up", x, y, velocity)
}

func (f *fakeTool) SleepSeconds(_ context.Context, seconds float64) error {
	return f.record("sleep_seconds", seconds)
}

func (f *fakeTool) TypeText(_ context.Context, text string, delay int) error {
	return f.record("type_text", text, delay)
}
