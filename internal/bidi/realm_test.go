// File: internal/bidi/realm_test.go
package bidi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/bidi-pilot/internal/bidi/biditest"
)

func successResult(value map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "success", "realm": "realm-window", "result": value}
}

func TestRealm_Evaluate(t *testing.T) {
	bc, remote := newTestContext(t, func(r *biditest.Remote) {
		r.Handle("script.evaluate", func(biditest.Command) (interface{}, error) {
			return successResult(map[string]interface{}{"type": "number", "value": 2}), nil
		})
	})
	realm, err := bc.DefaultRealm(testContext(t))
	require.NoError(t, err)

	v, err := realm.Evaluate(testContext(t), "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	cmds := remote.CommandsFor("script.evaluate")
	require.Len(t, cmds, 1)
	assert.JSONEq(t, `{
		"expression": "1 + 1",
		"target": {"realm": "realm-window"},
		"resultOwnership": "none",
		"awaitPromise": true,
		"userActivation": true
	}`, string(cmds[0].Params))
}

func TestRealm_EvaluateException(t *testing.T) {
	bc, _ := newTestContext(t, func(r *biditest.Remote) {
		r.Handle("script.evaluate", func(biditest.Command) (interface{}, error) {
			return map[string]interface{}{
				"type":             "exception",
				"exceptionDetails": map[string]interface{}{"text": "ReferenceError: foo is not defined", "lineNumber": 0},
			}, nil
		})
	})
	realm, err := bc.DefaultRealm(testContext(t))
	require.NoError(t, err)

	_, err = realm.Evaluate(testContext(t), "foo")
	var se *ScriptEvaluationError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "ReferenceError: foo is not defined", se.Error())
}

func TestRealm_CallFunctionSerializesArguments(t *testing.T) {
	bc, remote := newTestContext(t, func(r *biditest.Remote) {
		r.Handle("script.callFunction", func(biditest.Command) (interface{}, error) {
			return successResult(map[string]interface{}{"type": "node", "handle": "h-42", "sharedId": "s-1"}), nil
		})
	})
	realm, err := bc.DefaultRealm(testContext(t))
	require.NoError(t, err)

	h, err := realm.CallFunctionHandle(testContext(t), "(el, opts) => el", Handle{ID: "h-1"}, map[string]interface{}{"mode": "ai"})
	require.NoError(t, err)
	assert.Equal(t, Handle{ID: "h-42"}, h)

	cmds := remote.CommandsFor("script.callFunction")
	require.Len(t, cmds, 1)
	assert.JSONEq(t, `{
		"functionDeclaration": "(el, opts) => el",
		"arguments": [
			{"handle": "h-1"},
			{"type": "object", "value": [[{"type":"string","value":"mode"}, {"type":"string","value":"ai"}]]}
		],
		"target": {"realm": "realm-window"},
		"resultOwnership": "root",
		"awaitPromise": true,
		"userActivation": true
	}`, string(cmds[0].Params))
}

func TestRealm_HandleRequiredForHandleResults(t *testing.T) {
	bc, _ := newTestContext(t, func(r *biditest.Remote) {
		r.Handle("script.evaluate", func(biditest.Command) (interface{}, error) {
			return successResult(map[string]interface{}{"type": "null"}), nil
		})
	})
	realm, err := bc.DefaultRealm(testContext(t))
	require.NoError(t, err)

	_, err = realm.EvaluateHandle(testContext(t), "null")
	assert.ErrorContains(t, err, "carries no handle")
}

func TestRealm_CallFunctionRejectsUnsupportedArgument(t *testing.T) {
	bc, remote := newTestContext(t, nil)
	realm, err := bc.DefaultRealm(testContext(t))
	require.NoError(t, err)

	_, err = realm.CallFunction(testContext(t), "() => 1", make(chan int))
	var ue *UnsupportedValueError
	assert.True(t, errors.As(err, &ue))
	assert.Empty(t, remote.CommandsFor("script.callFunction"), "nothing is sent for unserializable arguments")
}

func TestRealm_InjectedScriptIsMemoizedPerRealm(t *testing.T) {
	var installs atomic.Int32
	bc, remote := newTestContext(t, func(r *biditest.Remote) {
		r.Handle("script.evaluate", func(cmd biditest.Command) (interface{}, error) {
			expr, _ := cmd.Param("expression").(string)
			if strings.Contains(expr, "module.exports.InjectedScript()") {
				n := installs.Add(1)
				return successResult(map[string]interface{}{"type": "object", "handle": fmt.Sprintf("injected-%d", n)}), nil
			}
			return successResult(map[string]interface{}{"type": "boolean", "value": false}), nil
		})
		r.Handle("script.callFunction", func(biditest.Command) (interface{}, error) {
			return successResult(map[string]interface{}{"type": "string", "value": "- button \"OK\""}), nil
		})
	})
	realm, err := bc.DefaultRealm(testContext(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := realm.WithInjectedScript(testContext(t), func(script *InjectedScript) error {
				_, err := script.Invoke(testContext(t), "ariaSnapshot", Handle{ID: "body"}, map[string]interface{}{"mode": "ai"})
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), installs.Load(), "helper must be installed once per realm")

	calls := remote.CommandsFor("script.callFunction")
	require.Len(t, calls, 8)
	var params struct {
		FunctionDeclaration string            `json:"functionDeclaration"`
		Arguments           []json.RawMessage `json:"arguments"`
	}
	require.NoError(t, calls[0].Decode(&params))
	assert.Equal(t, "(injected, ...args) => injected.ariaSnapshot(...args)", params.FunctionDeclaration)
	require.Len(t, params.Arguments, 3)
	assert.JSONEq(t, `{"handle":"injected-1"}`, string(params.Arguments[0]))

	// A new document invalidates the memo.
	events, cancel := waitEvent(bc.Session(), "browsingContext.navigationStarted")
	defer cancel()
	require.NoError(t, remote.Emit("browsingContext.navigationStarted", map[string]interface{}{"context": "ctx-1", "url": "https://example.com/next"}))
	recvEvent(t, events)

	require.NoError(t, realm.WithInjectedScript(testContext(t), func(script *InjectedScript) error {
		assert.Equal(t, Handle{ID: "injected-2"}, script.Handle())
		return nil
	}))
	assert.Equal(t, int32(2), installs.Load())
}

func TestInjectedScript_Helpers(t *testing.T) {
	bc, remote := newTestContext(t, func(r *biditest.Remote) {
		r.Handle("script.evaluate", func(cmd biditest.Command) (interface{}, error) {
			return successResult(map[string]interface{}{"type": "object", "handle": "injected"}), nil
		})
		r.Handle("script.callFunction", func(biditest.Command) (interface{}, error) {
			return successResult(map[string]interface{}{"type": "node", "handle": "body"}), nil
		})
	})
	realm, err := bc.DefaultRealm(testContext(t))
	require.NoError(t, err)

	require.NoError(t, realm.WithInjectedScript(testContext(t), func(script *InjectedScript) error {
		h, err := script.GetPropHandle(testContext(t), "document.body")
		require.NoError(t, err)
		assert.Equal(t, "body", h.ID)
		return nil
	}))

	calls := remote.CommandsFor("script.callFunction")
	require.Len(t, calls, 1)
	assert.Equal(t, "(injected) => injected.document.body", calls[0].Param("functionDeclaration"))
	assert.Equal(t, "root", calls[0].Param("resultOwnership"))
}

func TestWrapInjectedScript(t *testing.T) {
	expr, err := WrapInjectedScript("module.exports = {source: '', InjectedScript: () => class {}};")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(expr, "(() => {\n  const module = {};"))
	assert.Contains(t, expr, "eval(module.exports.source);")
	assert.Contains(t, expr, `"testIdAttributeName":"data-testid"`)
	assert.True(t, strings.HasSuffix(expr, "})()"))
	assert.Contains(t, defaultInjectedScriptSource, "ariaSnapshot(node, options)")
}
