// File: internal/bidi/context.go
package bidi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/bidi-pilot/internal/humanoid"
)

// ReadinessState is the navigation milestone a navigate or reload waits for.
type ReadinessState string

const (
	ReadinessNone        ReadinessState = "none"
	ReadinessInteractive ReadinessState = "interactive"
	ReadinessComplete    ReadinessState = "complete"
)

// ErrNoWindowRealm is returned by DefaultRealm when the context has no window realm yet.
var ErrNoWindowRealm = errors.New("bidi: no window realm in browsing context")

// BrowsingContext is one top-level browsing context (a tab). The last known URL is
// written only by the session's reader in response to navigation events.
type BrowsingContext struct {
	session *Session
	id      string

	urlMu sync.RWMutex
	url   string

	injectedMu    sync.Mutex
	injected      map[string]*InjectedScript
	injectedGroup singleflight.Group
}

func newBrowsingContext(s *Session, id string) *BrowsingContext {
	return &BrowsingContext{session: s, id: id, injected: make(map[string]*InjectedScript)}
}

// ID returns the remote context id.
func (c *BrowsingContext) ID() string { return c.id }

// Session returns the owning session.
func (c *BrowsingContext) Session() *Session { return c.session }

// URL returns the last URL reported by the remote end.
func (c *BrowsingContext) URL() string {
	c.urlMu.RLock()
	defer c.urlMu.RUnlock()
	return c.url
}

func (c *BrowsingContext) setURL(url string) {
	c.urlMu.Lock()
	c.url = url
	c.urlMu.Unlock()
}

// call merges the context id into params and waits for the result.
func (c *BrowsingContext) call(ctx context.Context, method string, params Params, out interface{}) error {
	return c.session.Call(ctx, method, params.merge(Params{"context": c.id}), out)
}

// NavigateResult is the outcome of a navigation.
type NavigateResult struct {
	Navigation string `json:"navigation"`
	URL        string `json:"url"`
}

// Navigate loads url and waits for the given readiness state. An empty state waits for interactive.
func (c *BrowsingContext) Navigate(ctx context.Context, url string, wait ReadinessState) (NavigateResult, error) {
	if wait == "" {
		wait = ReadinessInteractive
	}
	var res NavigateResult
	err := c.call(ctx, "browsingContext.navigate", Params{"url": url, "wait": string(wait)}, &res)
	return res, err
}

// Realms lists the script realms of the context.
func (c *BrowsingContext) Realms(ctx context.Context) ([]*Realm, error) {
	var res getRealmsResult
	if err := c.call(ctx, "script.getRealms", nil, &res); err != nil {
		return nil, err
	}
	realms := make([]*Realm, 0, len(res.Realms))
	for _, r := range res.Realms {
		realms = append(realms, &Realm{context: c, id: r.Realm, origin: r.Origin, kind: r.Type})
	}
	return realms, nil
}

// DefaultRealm returns the context's window realm.
func (c *BrowsingContext) DefaultRealm(ctx context.Context) (*Realm, error) {
	realms, err := c.Realms(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range realms {
		if r.kind == RealmTypeWindow {
			return r, nil
		}
	}
	return nil, ErrNoWindowRealm
}

// Activate brings the context to the foreground.
func (c *BrowsingContext) Activate(ctx context.Context) error {
	return c.call(ctx, "browsingContext.activate", nil, nil)
}

// ScreenshotOrigin selects what a screenshot is relative to.
type ScreenshotOrigin string

const (
	OriginViewport ScreenshotOrigin = "viewport"
	OriginDocument ScreenshotOrigin = "document"
)

// ImageFormat is the screenshot encoding request.
type ImageFormat struct {
	Type    string   `json:"type"`
	Quality *float64 `json:"quality,omitempty"`
}

// BoxClip restricts a screenshot to a rectangle.
type BoxClip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ScreenshotOptions are the optional captureScreenshot parameters. Zero fields are omitted.
type ScreenshotOptions struct {
	Origin ScreenshotOrigin
	Format *ImageFormat
	Clip   *BoxClip
}

// CaptureScreenshot returns the decoded image bytes.
func (c *BrowsingContext) CaptureScreenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	params := Params{}
	if opts.Origin != "" {
		params["origin"] = string(opts.Origin)
	}
	if opts.Format != nil {
		params["format"] = opts.Format
	}
	if opts.Clip != nil {
		params["clip"] = Params{"type": "box", "x": opts.Clip.X, "y": opts.Clip.Y, "width": opts.Clip.Width, "height": opts.Clip.Height}
	}

	var res screenshotResult
	if err := c.call(ctx, "browsingContext.captureScreenshot", params, &res); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("bidi: screenshot payload is not valid base64: %w", err)
	}
	return data, nil
}

// Close closes the context. promptUnload is omitted when nil.
func (c *BrowsingContext) Close(ctx context.Context, promptUnload *bool) error {
	params := Params{}
	if promptUnload != nil {
		params["promptUnload"] = *promptUnload
	}
	return c.call(ctx, "browsingContext.close", params, nil)
}

// ReloadOptions are the optional reload parameters.
type ReloadOptions struct {
	IgnoreCache *bool
	Wait        ReadinessState
}

// Reload reloads the current document.
func (c *BrowsingContext) Reload(ctx context.Context, opts ReloadOptions) error {
	params := Params{}
	if opts.IgnoreCache != nil {
		params["ignoreCache"] = *opts.IgnoreCache
	}
	if opts.Wait != "" {
		params["wait"] = string(opts.Wait)
	}
	return c.call(ctx, "browsingContext.reload", params, nil)
}

// SetViewport resizes the viewport. devicePixelRatio is omitted when nil.
func (c *BrowsingContext) SetViewport(ctx context.Context, width, height int, devicePixelRatio *float64) error {
	params := Params{"viewport": Params{"width": width, "height": height}}
	if devicePixelRatio != nil {
		params["devicePixelRatio"] = *devicePixelRatio
	}
	return c.call(ctx, "browsingContext.setViewport", params, nil)
}

// TraverseHistory moves delta entries through session history; negative goes back.
func (c *BrowsingContext) TraverseHistory(ctx context.Context, delta int) error {
	return c.call(ctx, "browsingContext.traverseHistory", Params{"delta": delta}, nil)
}

// -- Input --

// PerformActions submits one atomic input.performActions batch.
func (c *BrowsingContext) PerformActions(ctx context.Context, sources ...humanoid.ActionSource) error {
	return c.call(ctx, "input.performActions", Params{"actions": sources}, nil)
}

// PerformKeyboardActions builds one key gesture and submits it.
func (c *BrowsingContext) PerformKeyboardActions(ctx context.Context, build func(q *humanoid.ActionQueue)) error {
	return c.performSource(ctx, humanoid.SourceKey, humanoid.KeyboardSourceID, build)
}

// PerformMouseActions builds one pointer gesture and submits it.
func (c *BrowsingContext) PerformMouseActions(ctx context.Context, build func(q *humanoid.ActionQueue)) error {
	return c.performSource(ctx, humanoid.SourcePointer, humanoid.MouseSourceID, build)
}

// PerformWheelActions builds one wheel gesture and submits it.
func (c *BrowsingContext) PerformWheelActions(ctx context.Context, build func(q *humanoid.ActionQueue)) error {
	return c.performSource(ctx, humanoid.SourceWheel, humanoid.WheelSourceID, build)
}

func (c *BrowsingContext) performSource(ctx context.Context, kind humanoid.SourceType, id string, build func(q *humanoid.ActionQueue)) error {
	return c.PerformActions(ctx, humanoid.ActionSource{
		Type:    kind,
		ID:      id,
		Actions: humanoid.BuildActions(build),
	})
}

// -- Injected script memo --

// injectedScript returns the helper bound to realm, creating it at most once per realm
// even under concurrent callers.
func (c *BrowsingContext) injectedScript(ctx context.Context, realm *Realm) (*InjectedScript, error) {
	c.injectedMu.Lock()
	if script, ok := c.injected[realm.id]; ok {
		c.injectedMu.Unlock()
		return script, nil
	}
	c.injectedMu.Unlock()

	v, err, _ := c.injectedGroup.Do(realm.id, func() (interface{}, error) {
		c.injectedMu.Lock()
		if script, ok := c.injected[realm.id]; ok {
			c.injectedMu.Unlock()
			return script, nil
		}
		c.injectedMu.Unlock()

		script, err := newInjectedScript(ctx, realm, c.session.options.InjectedScriptSource)
		if err != nil {
			return nil, err
		}
		c.injectedMu.Lock()
		c.injected[realm.id] = script
		c.injectedMu.Unlock()
		return script, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*InjectedScript), nil
}

// forgetInjectedScripts drops the memo; the realms it referenced die with the old document.
func (c *BrowsingContext) forgetInjectedScripts() {
	c.injectedMu.Lock()
	c.injected = make(map[string]*InjectedScript)
	c.injectedMu.Unlock()
}
