// File: internal/bidi/realm.go
package bidi

import (
	"context"
	"fmt"

	json "github.com/json-iterator/go"
)

// RealmTypeWindow is the realm kind of a document's global scope.
const RealmTypeWindow = "window"

// Handle is an opaque reference to an object owned by the remote script engine.
// It is passed back verbatim, never serialized by value.
type Handle struct {
	ID string
}

// Realm is one script execution environment inside a browsing context.
// Realms are fetched on demand and die with their document.
type Realm struct {
	context *BrowsingContext
	id      string
	origin  string
	kind    string
}

// ID returns the remote realm id.
func (r *Realm) ID() string { return r.id }

// Origin returns the realm's origin.
func (r *Realm) Origin() string { return r.origin }

// Type returns the realm kind, e.g. "window".
func (r *Realm) Type() string { return r.kind }

// BrowsingContext returns the owning context.
func (r *Realm) BrowsingContext() *BrowsingContext { return r.context }

// Evaluate runs expression and returns the deserialized result.
func (r *Realm) Evaluate(ctx context.Context, expression string) (interface{}, error) {
	raw, err := r.evaluate(ctx, expression, false)
	if err != nil {
		return nil, err
	}
	return Deserialize(raw)
}

// EvaluateHandle runs expression and returns the result as a remote handle.
func (r *Realm) EvaluateHandle(ctx context.Context, expression string) (Handle, error) {
	raw, err := r.evaluate(ctx, expression, true)
	if err != nil {
		return Handle{}, err
	}
	return handleFrom(raw)
}

// CallFunction calls functionDeclaration with the serialized arguments and returns the
// deserialized result.
func (r *Realm) CallFunction(ctx context.Context, functionDeclaration string, args ...interface{}) (interface{}, error) {
	raw, err := r.callFunction(ctx, functionDeclaration, args, false)
	if err != nil {
		return nil, err
	}
	return Deserialize(raw)
}

// CallFunctionHandle calls functionDeclaration and returns the result as a remote handle.
func (r *Realm) CallFunctionHandle(ctx context.Context, functionDeclaration string, args ...interface{}) (Handle, error) {
	raw, err := r.callFunction(ctx, functionDeclaration, args, true)
	if err != nil {
		return Handle{}, err
	}
	return handleFrom(raw)
}

// WithInjectedScript runs fn with the realm's helper script, loading it on first use.
func (r *Realm) WithInjectedScript(ctx context.Context, fn func(script *InjectedScript) error) error {
	script, err := r.context.injectedScript(ctx, r)
	if err != nil {
		return err
	}
	return fn(script)
}

func (r *Realm) evaluate(ctx context.Context, expression string, asHandle bool) (json.RawMessage, error) {
	return r.run(ctx, "script.evaluate", Params{"expression": expression}, asHandle)
}

func (r *Realm) callFunction(ctx context.Context, decl string, args []interface{}, asHandle bool) (json.RawMessage, error) {
	serialized := make([]LocalValue, 0, len(args))
	for i, arg := range args {
		v, err := Serialize(arg)
		if err != nil {
			return nil, fmt.Errorf("bidi: argument %d: %w", i, err)
		}
		serialized = append(serialized, v)
	}
	return r.run(ctx, "script.callFunction", Params{
		"functionDeclaration": decl,
		"arguments":           serialized,
	}, asHandle)
}

func (r *Realm) run(ctx context.Context, method string, params Params, asHandle bool) (json.RawMessage, error) {
	ownership := "none"
	if asHandle {
		ownership = "root"
	}
	var res scriptResult
	err := r.context.session.Call(ctx, method, params.merge(Params{
		"target":          Params{"realm": r.id},
		"resultOwnership": ownership,
		"awaitPromise":    true,
		"userActivation":  true,
	}), &res)
	if err != nil {
		return nil, err
	}
	if res.Type == "exception" {
		text := ""
		if res.ExceptionDetails != nil {
			text = res.ExceptionDetails.Text
		}
		return nil, &ScriptEvaluationError{Text: text}
	}
	return res.Result, nil
}

func handleFrom(raw json.RawMessage) (Handle, error) {
	var rv RemoteValue
	if err := json.Unmarshal(raw, &rv); err != nil {
		return Handle{}, fmt.Errorf("bidi: malformed remote value: %w", err)
	}
	if rv.Handle == "" {
		return Handle{}, fmt.Errorf("bidi: remote %s value carries no handle", rv.Type)
	}
	return Handle{ID: rv.Handle}, nil
}
