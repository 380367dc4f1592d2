// File: internal/bidi/injected.go
package bidi

import (
	"context"
	_ "embed"
	"fmt"

	json "github.com/json-iterator/go"
)

//go:embed injected_script.js
var defaultInjectedScriptSource string

// injectedScriptOptions is handed to the helper's constructor.
var injectedScriptOptions = map[string]interface{}{
	"isUnderTest":         false,
	"sdkLanguage":         "javascript",
	"testIdAttributeName": "data-testid",
	"stableRafCount":      1,
	"browserName":         "bidi-pilot",
	"customEngines":       []interface{}{},
}

// InjectedScript is a helper object living inside one realm, reached through its handle.
// Helpers are loaded at most once per realm.
type InjectedScript struct {
	realm  *Realm
	handle Handle
}

// WrapInjectedScript builds the expression that evaluates a CommonJS helper bundle and
// returns a constructed helper instance.
func WrapInjectedScript(source string) (string, error) {
	opts, err := json.Marshal(injectedScriptOptions)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
  const module = {};
  %s
  eval(module.exports.source);
  return new (module.exports.InjectedScript())(globalThis, %s);
})()`, source, opts), nil
}

func newInjectedScript(ctx context.Context, realm *Realm, source string) (*InjectedScript, error) {
	if source == "" {
		source = defaultInjectedScriptSource
	}
	expr, err := WrapInjectedScript(source)
	if err != nil {
		return nil, err
	}
	handle, err := realm.EvaluateHandle(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("bidi: failed to install helper script: %w", err)
	}
	return &InjectedScript{realm: realm, handle: handle}, nil
}

// Handle is the remote reference to the helper instance.
func (s *InjectedScript) Handle() Handle { return s.handle }

// E evaluates an expression in the helper's realm and returns its value.
func (s *InjectedScript) E(ctx context.Context, expression string) (interface{}, error) {
	return s.realm.Evaluate(ctx, expression)
}

// H evaluates an expression in the helper's realm and returns a handle.
func (s *InjectedScript) H(ctx context.Context, expression string) (Handle, error) {
	return s.realm.EvaluateHandle(ctx, expression)
}

// GetProp reads a property path of the helper, e.g. "document.body".
func (s *InjectedScript) GetProp(ctx context.Context, name string) (interface{}, error) {
	return s.realm.CallFunction(ctx, getPropDeclaration(name), s.handle)
}

// GetPropHandle reads a property path of the helper as a handle.
func (s *InjectedScript) GetPropHandle(ctx context.Context, name string) (Handle, error) {
	return s.realm.CallFunctionHandle(ctx, getPropDeclaration(name), s.handle)
}

// Invoke calls a helper method with serialized arguments.
func (s *InjectedScript) Invoke(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	return s.realm.CallFunction(ctx, invokeDeclaration(name), s.withSelf(args)...)
}

// InvokeHandle calls a helper method and returns the result as a handle.
func (s *InjectedScript) InvokeHandle(ctx context.Context, name string, args ...interface{}) (Handle, error) {
	return s.realm.CallFunctionHandle(ctx, invokeDeclaration(name), s.withSelf(args)...)
}

func (s *InjectedScript) withSelf(args []interface{}) []interface{} {
	return append([]interface{}{s.handle}, args...)
}

func getPropDeclaration(name string) string {
	return fmt.Sprintf("(injected) => injected.%s", name)
}

func invokeDeclaration(name string) string {
	return fmt.Sprintf("(injected, ...args) => injected.%s(...args)", name)
}
