// File: internal/browser/input_tool_test.go
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
	"github.com/xkilldash9x/bidi-pilot/internal/bidi"
	"github.com/xkilldash9x/bidi-pilot/internal/bidi/biditest"
	"github.com/xkilldash9x/bidi-pilot/internal/humanoid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTimeout = 5 * time.Second

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// -- Fixtures --

// recorder captures lifecycle notifications and sink output.
type recorder struct {
	mu       sync.Mutex
	actions  []schemas.ActionEvent
	ok       []string
	failed   []string
	messages []schemas.ChatMessage
}

func (r *recorder) OnActionStart(_ context.Context, ev schemas.ActionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, ev)
}

func (r *recorder) OnAssertionOK(_ context.Context, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ok = append(r.ok, description)
}

func (r *recorder) OnAssertionFail(_ context.Context, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, description)
}

func (r *recorder) sink(_ context.Context, msg schemas.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) actionNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.actions))
	for i, a := range r.actions {
		names[i] = a.Action
	}
	return names
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Text
	}
	return out
}

// page scripts the remote's script domain: expressions and helper method names map to results.
type page struct {
	mu        sync.Mutex
	evaluate  map[string]map[string]interface{}
	functions map[string]map[string]interface{}
}

func newPage() *page {
	return &page{
		evaluate:  make(map[string]map[string]interface{}),
		functions: make(map[string]map[string]interface{}),
	}
}

func (p *page) onEvaluate(expression string, result map[string]interface{}) {
	p.mu.Lock()
	p.evaluate[expression] = result
	p.mu.Unlock()
}

// onCall registers the result of a function declaration.
func (p *page) onCall(decl string, result map[string]interface{}) {
	p.mu.Lock()
	p.functions[decl] = result
	p.mu.Unlock()
}

func invokeDecl(name string) string { return "(injected, ...args) => injected." + name + "(...args)" }

func propDecl(name string) string { return "(injected) => injected." + name }

func success(value map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "success", "realm": "realm-window", "result": value}
}

func (p *page) install(r *biditest.Remote) {
	r.Handle("script.evaluate", func(cmd biditest.Command) (interface{}, error) {
		expr, _ := cmd.Param("expression").(string)
		if strings.Contains(expr, "module.exports.InjectedScript()") {
			return success(map[string]interface{}{"type": "object", "handle": "injected"}), nil
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if res, ok := p.evaluate[expr]; ok {
			return res, nil
		}
		return success(map[string]interface{}{"type": "undefined"}), nil
	})
	r.Handle("script.callFunction", func(cmd biditest.Command) (interface{}, error) {
		decl, _ := cmd.Param("functionDeclaration").(string)
		p.mu.Lock()
		defer p.mu.Unlock()
		if res, ok := p.functions[decl]; ok {
			return res, nil
		}
		return success(map[string]interface{}{"type": "undefined"}), nil
	})
}

func newTestTool(t *testing.T, setup func(r *biditest.Remote)) (*InputTool, *biditest.Remote, *recorder) {
	t.Helper()
	client, server := biditest.Pipe()
	remote := biditest.NewRemote(server)
	remote.SetContexts(biditest.ContextInfo{Context: "ctx-1", URL: "https://example.com/"})
	remote.SetRealms(biditest.RealmInfo{Realm: "realm-window", Origin: "https://example.com", Type: "window", Context: "ctx-1"})
	remote.Handle("input.performActions", func(biditest.Command) (interface{}, error) {
		return map[string]interface{}{}, nil
	})
	if setup != nil {
		setup(remote)
	}

	s, err := bidi.NewSession(testContext(t), client, bidi.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = s.Close(ctx)
		_ = remote.Close()
		<-remote.Done()
	})

	bc, ok := s.BrowsingContext("ctx-1")
	require.True(t, ok)

	rec := &recorder{}
	tool := NewInputTool(bc, WithLogger(zaptest.NewLogger(t)), WithObserver(rec))
	tool.OnSendMessage(rec.sink)
	return tool, remote, rec
}

type performActionsParams struct {
	Context string                  `json:"context"`
	Actions []humanoid.ActionSource `json:"actions"`
}

func performed(t *testing.T, remote *biditest.Remote) []performActionsParams {
	t.Helper()
	var out []performActionsParams
	for _, cmd := range remote.CommandsFor("input.performActions") {
		var p performActionsParams
		require.NoError(t, cmd.Decode(&p))
		out = append(out, p)
	}
	return out
}

func intValue(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// -- Pointer --

func TestInputTool_ClickEmitsFourRecords(t *testing.T) {
	tool, remote, rec := newTestTool(t, nil)

	require.NoError(t, tool.Click(testContext(t), 120, 48, 0))

	batches := performed(t, remote)
	require.Len(t, batches, 1)
	assert.Equal(t, "ctx-1", batches[0].Context)
	require.Len(t, batches[0].Actions, 1)
	src := batches[0].Actions[0]
	assert.Equal(t, humanoid.SourcePointer, src.Type)
	require.Len(t, src.Actions, 4)

	assert.Equal(t, humanoid.ActionPointerMove, src.Actions[0].Type)
	assert.Equal(t, 120, intValue(src.Actions[0].X))
	assert.Equal(t, 48, intValue(src.Actions[0].Y))
	assert.Equal(t, humanoid.ActionPointerDown, src.Actions[1].Type)
	assert.Equal(t, 0, intValue(src.Actions[1].Button))
	assert.Equal(t, humanoid.ActionPause, src.Actions[2].Type)
	assert.Equal(t, 50, intValue(src.Actions[2].Duration), "default click delay")
	assert.Equal(t, humanoid.ActionPointerUp, src.Actions[3].Type)

	require.Equal(t, []string{"click"}, rec.actionNames())
	assert.Equal(t, map[string]interface{}{"x": 120, "y": 48, "delay": 50}, rec.actions[0].Params)
}

func TestInputTool_ClickWithPointerPath(t *testing.T) {
	base, remote, _ := newTestTool(t, nil)
	tool := NewInputTool(base.target, WithPointerPath(humanoid.NewPathPlanner(humanoid.PathConfig{FittsA: 100, FittsB: 150, Seed: 7})))

	require.NoError(t, tool.Click(testContext(t), 300, 200, 0))
	require.NoError(t, tool.Click(testContext(t), 300, 200, 0))

	batches := performed(t, remote)
	require.Len(t, batches, 2)

	first := batches[0].Actions[0].Actions
	require.Greater(t, len(first), 4, "the pointer approaches along several moves")
	moves := first[:len(first)-3]
	for _, a := range moves {
		assert.Equal(t, humanoid.ActionPointerMove, a.Type)
		assert.Greater(t, intValue(a.Duration), 0)
	}
	last := moves[len(moves)-1]
	assert.Equal(t, 300, intValue(last.X))
	assert.Equal(t, 200, intValue(last.Y))
	assert.Equal(t, humanoid.ActionPointerDown, first[len(first)-3].Type)

	second := batches[1].Actions[0].Actions
	require.Len(t, second, 4, "a click at the current position does not travel")
	assert.Equal(t, 300, intValue(second[0].X))
}

func TestInputTool_Scroll(t *testing.T) {
	tool, remote, rec := newTestTool(t, nil)
	ctx := testContext(t)

	require.NoError(t, tool.ScrollDown(ctx, 200, 300, 1000))
	require.NoError(t, tool.ScrollUp(ctx, 200, 300, 1000))

	batches := performed(t, remote)
	require.Len(t, batches, 2)

	sum := func(src humanoid.ActionSource) (total int) {
		for _, a := range src.Actions {
			assert.Equal(t, humanoid.ActionScroll, a.Type)
			assert.Equal(t, 16, intValue(a.Duration))
			assert.Equal(t, 200, intValue(a.X))
			assert.Equal(t, 0, intValue(a.DeltaX))
			total += intValue(a.DeltaY)
		}
		return total
	}
	down := batches[0].Actions[0]
	up := batches[1].Actions[0]
	assert.Equal(t, humanoid.SourceWheel, down.Type)
	assert.Len(t, down.Actions, 25)
	assert.Equal(t, 160, sum(down))
	assert.Len(t, up.Actions, 25)
	assert.Equal(t, -160, sum(up))
	assert.Equal(t, []string{"scroll_down", "scroll_up"}, rec.actionNames())
}

func TestInputTool_ScrollRejectsNonPositiveVelocity(t *testing.T) {
	tool, remote, rec := newTestTool(t, nil)

	for _, v := range []float64{0, -500} {
		err := tool.ScrollDown(testContext(t), 0, 0, v)
		assert.True(t, errors.Is(err, ErrInvalidVelocity))
		assert.EqualError(t, err, "velocity must be positive")
	}
	assert.Empty(t, remote.CommandsFor("input.performActions"))
	assert.Empty(t, rec.actionNames(), "no lifecycle notification for a rejected gesture")
}

// -- Keyboard --

func TestInputTool_TypeTextSplitsDelay(t *testing.T) {
	tool, remote, _ := newTestTool(t, nil)

	require.NoError(t, tool.TypeText(testContext(t), "hi", 51))

	batches := performed(t, remote)
	require.Len(t, batches, 2, "one batch per character")
	for i, ch := range []string{"h", "i"} {
		acts := batches[i].Actions[0].Actions
		require.Len(t, acts, 4)
		assert.Equal(t, humanoid.ActionKeyDown, acts[0].Type)
		assert.Equal(t, ch, acts[0].Value)
		assert.Equal(t, 25, intValue(acts[1].Duration))
		assert.Equal(t, humanoid.ActionKeyUp, acts[2].Type)
		assert.Equal(t, 26, intValue(acts[3].Duration))
	}
}

func TestInputTool_PressKey(t *testing.T) {
	tool, remote, _ := newTestTool(t, nil)

	require.NoError(t, tool.PressKey(testContext(t), "Enter", 0))
	batches := performed(t, remote)
	require.Len(t, batches, 1)
	acts := batches[0].Actions[0].Actions
	require.Len(t, acts, 3)
	assert.Equal(t, "\uE007", acts[0].Value)
	assert.Equal(t, 50, intValue(acts[1].Duration))
	assert.Equal(t, "\uE007", acts[2].Value)

	err := tool.PressKey(testContext(t), "Hyper", 0)
	var uk *humanoid.UnknownKeyError
	require.True(t, errors.As(err, &uk))
	assert.Len(t, remote.CommandsFor("input.performActions"), 1, "unknown keys are not sent")
}

func TestInputTool_OnPressingKeyAlwaysReleases(t *testing.T) {
	tool, remote, rec := newTestTool(t, nil)
	boom := errors.New("inner failure")

	err := tool.OnPressingKey(testContext(t), "Shift", func() error {
		return tool.Click(testContext(t), 1, 2, 10)
	})
	require.NoError(t, err)

	err = tool.OnPressingKey(testContext(t), "Shift", func() error { return boom })
	assert.True(t, errors.Is(err, boom))

	batches := performed(t, remote)
	require.Len(t, batches, 5)
	assert.Equal(t, humanoid.ActionKeyDown, batches[0].Actions[0].Actions[0].Type)
	assert.Equal(t, humanoid.SourcePointer, batches[1].Actions[0].Type)
	assert.Equal(t, humanoid.ActionKeyUp, batches[2].Actions[0].Actions[0].Type)
	assert.Equal(t, humanoid.ActionKeyDown, batches[3].Actions[0].Actions[0].Type)
	assert.Equal(t, humanoid.ActionKeyUp, batches[4].Actions[0].Actions[0].Type)
	assert.Equal(t, "\uE008", batches[4].Actions[0].Actions[0].Value)

	assert.Equal(t, []string{"key_down", "click", "key_up", "key_down", "key_up"}, rec.actionNames())
}

// -- Scripts --

func TestInputTool_ExecuteScript(t *testing.T) {
	p := newPage()
	p.onEvaluate("document.title", success(map[string]interface{}{"type": "string", "value": "Example"}))
	p.onEvaluate("void 0", success(map[string]interface{}{"type": "undefined"}))
	p.onEvaluate("nope()", map[string]interface{}{
		"type":             "exception",
		"exceptionDetails": map[string]interface{}{"text": "ReferenceError: nope is not defined"},
	})
	tool, _, rec := newTestTool(t, p.install)
	ctx := testContext(t)

	v, err := tool.ExecuteScript(ctx, "document.title")
	require.NoError(t, err)
	assert.Equal(t, "Example", v)

	v, err = tool.ExecuteScript(ctx, "void 0")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = tool.ExecuteScript(ctx, "nope()")
	require.NoError(t, err, "script exceptions are values")
	assert.Equal(t, "ReferenceError: nope is not defined", v)

	assert.Equal(t, []string{
		"result is `Example`",
		"result is `ReferenceError: nope is not defined`",
	}, rec.texts())
}

func TestInputTool_ExecuteScriptWithRef(t *testing.T) {
	p := newPage()
	p.onCall(invokeDecl("parseSelector"), success(map[string]interface{}{
		"type": "object",
		"value": []interface{}{
			[]interface{}{"parts", map[string]interface{}{"type": "array", "value": []interface{}{}}},
		},
	}))
	p.onCall(propDecl("document.body"), success(map[string]interface{}{"type": "node", "handle": "body"}))
	p.onCall(propDecl("document"), success(map[string]interface{}{"type": "node", "handle": "doc"}))
	p.onCall(invokeDecl("ariaSnapshot"), success(map[string]interface{}{"type": "string", "value": "- button \"OK\" [ref=e3]"}))
	p.onCall(invokeDecl("querySelector"), success(map[string]interface{}{"type": "node", "handle": "el-3"}))
	p.onCall(invokeDecl("generateSelectorSimple"), success(map[string]interface{}{"type": "string", "value": "#ok"}))
	p.onCall("el => el.click()", success(map[string]interface{}{"type": "number", "value": 7}))
	tool, remote, rec := newTestTool(t, p.install)

	v, err := tool.ExecuteScriptWithRef(testContext(t), "e3", "el => el.click()")
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	require.Len(t, rec.actions, 1)
	assert.Equal(t, "execute_script_with_ref", rec.actions[0].Action)
	assert.Equal(t, "#ok", rec.actions[0].Params["selector"])
	assert.Equal(t, []string{"result is `7`"}, rec.texts())

	var decls []string
	var userCall biditest.Command
	for _, cmd := range remote.CommandsFor("script.callFunction") {
		decl, _ := cmd.Param("functionDeclaration").(string)
		decls = append(decls, decl)
		if decl == "el => el.click()" {
			userCall = cmd
		}
	}
	assert.Equal(t, []string{
		"(injected, ...args) => injected.parseSelector(...args)",
		"(injected) => injected.document.body",
		"(injected, ...args) => injected.ariaSnapshot(...args)",
		"(injected) => injected.document",
		"(injected, ...args) => injected.querySelector(...args)",
		"(injected, ...args) => injected.generateSelectorSimple(...args)",
		"el => el.click()",
	}, decls)

	var params struct {
		Arguments []json.RawMessage `json:"arguments"`
	}
	require.NoError(t, userCall.Decode(&params))
	require.Len(t, params.Arguments, 1)
	assert.JSONEq(t, `{"handle":"el-3"}`, string(params.Arguments[0]))
}

// -- Observation --

func TestInputTool_AriaSnapshot(t *testing.T) {
	p := newPage()
	p.onEvaluate("!document.body", success(map[string]interface{}{"type": "boolean", "value": false}))
	p.onEvaluate("document.body", success(map[string]interface{}{"type": "node", "handle": "body"}))
	p.onEvaluate("!document.querySelector('#missing')", success(map[string]interface{}{"type": "boolean", "value": true}))
	p.onCall(invokeDecl("ariaSnapshot"), success(map[string]interface{}{"type": "string", "value": "- heading \"Hello\" [level=1]\n- link \"More\""}))
	tool, remote, rec := newTestTool(t, p.install)
	ctx := testContext(t)

	lines, err := tool.AriaSnapshot(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{`- heading "Hello" [level=1]`, `- link "More"`}, lines)
	assert.Equal(t, []string{"ARIA snapshot of https://example.com/\n\n- heading \"Hello\" [level=1]\n- link \"More\""}, rec.texts())

	var params struct {
		Arguments []json.RawMessage `json:"arguments"`
	}
	calls := remote.CommandsFor("script.callFunction")
	require.Len(t, calls, 1)
	require.NoError(t, calls[0].Decode(&params))
	require.Len(t, params.Arguments, 3)
	assert.JSONEq(t, `{"handle":"body"}`, string(params.Arguments[1]))
	assert.JSONEq(t, `{"type":"object","value":[[{"type":"string","value":"mode"},{"type":"string","value":"autoexpect"}]]}`, string(params.Arguments[2]))

	_, err = tool.AriaSnapshot(ctx, "document.querySelector('#missing')", false)
	var nf *ElementNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.EqualError(t, err, "Element not found: document.querySelector('#missing')")
	assert.Len(t, rec.texts(), 1, "no output for a missing root")
	assert.Equal(t, []string{"aria_snapshot", "aria_snapshot"}, rec.actionNames())
}

func TestInputTool_CaptureScreenshot(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	tool, _, rec := newTestTool(t, func(r *biditest.Remote) {
		r.Handle("browsingContext.captureScreenshot", func(biditest.Command) (interface{}, error) {
			return map[string]string{"data": base64.StdEncoding.EncodeToString(png)}, nil
		})
	})

	data, err := tool.CaptureScreenshot(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, png, data)

	require.Len(t, rec.messages, 1)
	msg := rec.messages[0]
	assert.Equal(t, "Capture of https://example.com/", msg.Text)
	require.Len(t, msg.Images, 1)
	assert.Equal(t, schemas.ImageFormatPNG, msg.Images[0].Format)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), msg.Images[0].Data)
}

// -- Checks and timing --

func TestInputTool_Assertions(t *testing.T) {
	tool, _, rec := newTestTool(t, nil)
	ctx := testContext(t)

	tool.AssertionOK(ctx, "title is shown")
	err := tool.AssertionFail(ctx, "button is missing")

	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "button is missing", err.Error())
	assert.True(t, IsAssertionError(err))
	assert.False(t, IsAssertionError(errors.New("other")))
	assert.Equal(t, []string{"title is shown"}, rec.ok)
	assert.Equal(t, []string{"button is missing"}, rec.failed)
}

func TestInputTool_SleepSeconds(t *testing.T) {
	var slept time.Duration
	tool := NewInputTool(nil, WithSleeper(func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}))
	require.NoError(t, tool.SleepSeconds(testContext(t), 1.5))
	assert.Equal(t, 1500*time.Millisecond, slept)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), 0))
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"", ""},
		{"text", "text"},
		{3.0, "3"},
		{0.25, "0.25"},
		{true, "true"},
		{[]interface{}{1.0, "a"}, `[1,"a"]`},
		{map[string]interface{}{"k": "v"}, `{"k":"v"}`},
		{bidi.RegExp{Pattern: "a+", Flags: bidi.FlagGlobal}, "/a+/g"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatResult(tt.in), "%#v", tt.in)
	}
}
