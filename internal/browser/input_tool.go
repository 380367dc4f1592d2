// File: internal/browser/input_tool.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
	"github.com/xkilldash9x/bidi-pilot/internal/bidi"
	"github.com/xkilldash9x/bidi-pilot/internal/humanoid"
)

// -- Errors --

// ErrInvalidVelocity rejects scroll gestures without a positive initial velocity.
var ErrInvalidVelocity = errors.New("velocity must be positive")

// ElementNotFoundError is returned when an ARIA snapshot root does not resolve to an element.
type ElementNotFoundError struct {
	Locator string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("Element not found: %s", e.Locator)
}

// AssertionError is a failed check reported through AssertionFail.
type AssertionError struct {
	Description string
}

func (e *AssertionError) Error() string { return e.Description }

// IsAssertionError reports whether err contains a failed check.
func IsAssertionError(err error) bool {
	for _, e := range multierr.Errors(err) {
		var ae *AssertionError
		if errors.As(e, &ae) {
			return true
		}
	}
	return false
}

// -- Collaborators --

// Target is the browsing context the tool drives. *bidi.BrowsingContext satisfies it.
type Target interface {
	URL() string
	DefaultRealm(ctx context.Context) (*bidi.Realm, error)
	CaptureScreenshot(ctx context.Context, opts bidi.ScreenshotOptions) ([]byte, error)
	PerformKeyboardActions(ctx context.Context, build func(q *humanoid.ActionQueue)) error
	PerformMouseActions(ctx context.Context, build func(q *humanoid.ActionQueue)) error
	PerformWheelActions(ctx context.Context, build func(q *humanoid.ActionQueue)) error
}

// Observer is notified before every verb runs and on every check outcome.
type Observer interface {
	OnActionStart(ctx context.Context, event schemas.ActionEvent)
	OnAssertionOK(ctx context.Context, description string)
	OnAssertionFail(ctx context.Context, description string)
}

// MessageSink receives chat-ready output produced by a verb.
type MessageSink func(ctx context.Context, msg schemas.ChatMessage)

// Defaults are the parameter values used when a caller passes zero.
type Defaults struct {
	ClickDelay int
	KeyDelay   int
	Velocity   float64
	// FrameDuration is the duration of each synthesized wheel record in milliseconds.
	FrameDuration int
}

// DefaultDefaults mirrors the reference timings: 50ms presses, a normal fling, 60fps wheel records.
func DefaultDefaults() Defaults {
	return Defaults{ClickDelay: 50, KeyDelay: 50, Velocity: 1000, FrameDuration: humanoid.FrameInterval}
}

// Option configures an InputTool.
type Option func(*InputTool)

// WithLogger sets the tool's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *InputTool) { t.logger = logger.Named("input_tool") }
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(t *InputTool) { t.observers = append(t.observers, o) }
}

// WithDefaults overrides the default verb parameters.
func WithDefaults(d Defaults) Option {
	return func(t *InputTool) { t.defaults = d }
}

// WithSleeper replaces the context aware sleep used by SleepSeconds.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *InputTool) { t.sleep = sleep }
}

// WithPointerPath makes Click approach its target along a planned path instead of jumping to it.
func WithPointerPath(planner *humanoid.PathPlanner) Option {
	return func(t *InputTool) { t.path = planner }
}

// -- Input tool --

// InputTool is the verb level API issued by an agent or a test author.
type InputTool struct {
	target    Target
	logger    *zap.Logger
	observers []Observer
	defaults  Defaults
	sleep     func(ctx context.Context, d time.Duration) error
	path      *humanoid.PathPlanner

	// pointer is where the last click left the mouse.
	pointerMu sync.Mutex
	pointer   humanoid.Vector2D

	sinkMu sync.RWMutex
	sink   MessageSink
}

// NewInputTool builds a tool driving target.
func NewInputTool(target Target, opts ...Option) *InputTool {
	t := &InputTool{
		target:   target,
		logger:   zap.NewNop(),
		defaults: DefaultDefaults(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnSendMessage registers the sink receiving observable output. A nil sink disables output.
func (t *InputTool) OnSendMessage(sink MessageSink) {
	t.sinkMu.Lock()
	t.sink = sink
	t.sinkMu.Unlock()
}

// Defaults returns the effective defaults.
func (t *InputTool) Defaults() Defaults { return t.defaults }

func (t *InputTool) send(ctx context.Context, msg schemas.ChatMessage) {
	t.sinkMu.RLock()
	sink := t.sink
	t.sinkMu.RUnlock()
	if sink != nil {
		sink(ctx, msg)
	}
}

func (t *InputTool) actionStart(ctx context.Context, action string, params map[string]interface{}) {
	t.logger.Debug("Action starting.", zap.String("action", action), zap.Any("params", params))
	for _, o := range t.observers {
		o.OnActionStart(ctx, schemas.ActionEvent{Action: action, Params: params})
	}
}

// -- Checks --

// AssertionOK reports a passed check.
func (t *InputTool) AssertionOK(ctx context.Context, description string) {
	for _, o := range t.observers {
		o.OnAssertionOK(ctx, description)
	}
}

// AssertionFail reports a failed check and returns it as an *AssertionError.
func (t *InputTool) AssertionFail(ctx context.Context, description string) error {
	for _, o := range t.observers {
		o.OnAssertionFail(ctx, description)
	}
	return &AssertionError{Description: description}
}

// -- Observation --

// AriaSnapshot serializes the accessibility tree under rootLocator, a JavaScript expression
// evaluating to an element. With ref the whole body is captured and every node is annotated
// with a reference token usable by ExecuteScriptWithRef.
func (t *InputTool) AriaSnapshot(ctx context.Context, rootLocator string, ref bool) ([]string, error) {
	if rootLocator == "" {
		rootLocator = "document.body"
	}
	t.actionStart(ctx, "aria_snapshot", map[string]interface{}{"root_locator": rootLocator, "ref": ref})

	currentURL := t.target.URL()
	realm, err := t.target.DefaultRealm(ctx)
	if err != nil {
		return nil, err
	}

	var snapshot string
	err = realm.WithInjectedScript(ctx, func(script *bidi.InjectedScript) error {
		var root bidi.Handle
		mode := "autoexpect"
		if ref {
			mode = "ai"
			if root, err = script.GetPropHandle(ctx, "document.body"); err != nil {
				return err
			}
		} else {
			missing, err := script.E(ctx, "!"+rootLocator)
			if err != nil {
				return err
			}
			if b, _ := missing.(bool); b {
				return &ElementNotFoundError{Locator: rootLocator}
			}
			if root, err = script.H(ctx, rootLocator); err != nil {
				return err
			}
		}
		result, err := script.Invoke(ctx, "ariaSnapshot", root, map[string]interface{}{"mode": mode})
		if err != nil {
			return err
		}
		snapshot, _ = result.(string)
		return nil
	})
	if err != nil {
		return nil, err
	}

	lines := strings.Split(snapshot, "\n")
	t.send(ctx, schemas.ChatMessage{Text: fmt.Sprintf("ARIA snapshot of %s\n\n%s", currentURL, snapshot)})
	return lines, nil
}

// CaptureScreenshot captures the viewport as PNG and forwards it as an image message.
func (t *InputTool) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	t.actionStart(ctx, "capture_screenshot", map[string]interface{}{})

	currentURL := t.target.URL()
	data, err := t.target.CaptureScreenshot(ctx, bidi.ScreenshotOptions{Format: &bidi.ImageFormat{Type: "image/png"}})
	if err != nil {
		return nil, err
	}
	t.send(ctx, schemas.ChatMessage{
		Text:   "Capture of " + currentURL,
		Images: []schemas.Image{schemas.NewPNGImage(data)},
	})
	return data, nil
}

// -- Pointer --

// Click moves to (x, y), presses the left button, waits delay milliseconds and releases.
func (t *InputTool) Click(ctx context.Context, x, y, delay int) error {
	if delay <= 0 {
		delay = t.defaults.ClickDelay
	}
	t.actionStart(ctx, "click", map[string]interface{}{"x": x, "y": y, "delay": delay})

	approach := t.approach(x, y)
	return t.target.PerformMouseActions(ctx, func(q *humanoid.ActionQueue) {
		if approach == nil {
			q.PointerMove(x, y, nil)
		}
		for _, wp := range approach {
			q.PointerMove(wp.X, wp.Y, humanoid.Millis(wp.Duration))
		}
		q.PointerDown(humanoid.ButtonLeft).
			Pause(delay).
			PointerUp(humanoid.ButtonLeft)
	})
}

// approach plans the moves from the last pointer position to (x, y). It returns nil when
// no planner is configured.
func (t *InputTool) approach(x, y int) []humanoid.Waypoint {
	if t.path == nil {
		return nil
	}
	target := humanoid.Vector2D{X: float64(x), Y: float64(y)}
	t.pointerMu.Lock()
	from := t.pointer
	t.pointer = target
	t.pointerMu.Unlock()
	return t.path.Plan(from, target)
}

// ScrollDown flings the content under (x, y) downwards. velocity is in pixels per second:
// 500 is weak, 1000 normal, 2000 strong.
func (t *InputTool) ScrollDown(ctx context.Context, x, y int, velocity float64) error {
	return t.scroll(ctx, "scroll_down", x, y, velocity, 1)
}

// ScrollUp flings the content under (x, y) upwards.
func (t *InputTool) ScrollUp(ctx context.Context, x, y int, velocity float64) error {
	return t.scroll(ctx, "scroll_up", x, y, velocity, -1)
}

func (t *InputTool) scroll(ctx context.Context, action string, x, y int, velocity float64, direction float64) error {
	if velocity <= 0 {
		return ErrInvalidVelocity
	}
	t.actionStart(ctx, action, map[string]interface{}{"x": x, "y": y, "velocity": velocity})

	frame := t.defaults.FrameDuration
	if frame <= 0 {
		frame = humanoid.FrameInterval
	}
	deltas := humanoid.NewSplineDeceleration(direction * velocity).Deltas()
	return t.target.PerformWheelActions(ctx, func(q *humanoid.ActionQueue) {
		for _, dy := range deltas {
			q.Scroll(x, y, 0, dy, humanoid.Millis(frame))
		}
	})
}

// -- Keyboard --

// TypeText types text one character at a time; each key is held for half of delay.
func (t *InputTool) TypeText(ctx context.Context, text string, delay int) error {
	if delay <= 0 {
		delay = t.defaults.KeyDelay
	}
	t.actionStart(ctx, "type_text", map[string]interface{}{"text": text, "delay": delay})

	for _, c := range text {
		ch := string(c)
		err := t.target.PerformKeyboardActions(ctx, func(q *humanoid.ActionQueue) {
			q.KeyDown(ch).
				Pause(delay / 2).
				KeyUp(ch).
				Pause(delay - delay/2)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// PressKey presses and releases a named key.
func (t *InputTool) PressKey(ctx context.Context, key string, delay int) error {
	if delay <= 0 {
		delay = t.defaults.KeyDelay
	}
	t.actionStart(ctx, "press_key", map[string]interface{}{"key": key, "delay": delay})

	value, err := humanoid.ConvertKey(key)
	if err != nil {
		return err
	}
	return t.target.PerformKeyboardActions(ctx, func(q *humanoid.ActionQueue) {
		q.KeyDown(value).Pause(delay).KeyUp(value)
	})
}

// OnPressingKey holds key down while fn runs. The key is released even when fn fails.
func (t *InputTool) OnPressingKey(ctx context.Context, key string, fn func() error) (err error) {
	t.actionStart(ctx, "key_down", map[string]interface{}{"key": key})

	value, err := humanoid.ConvertKey(key)
	if err != nil {
		return err
	}
	if err := t.target.PerformKeyboardActions(ctx, func(q *humanoid.ActionQueue) { q.KeyDown(value) }); err != nil {
		return err
	}

	defer func() {
		t.actionStart(ctx, "key_up", map[string]interface{}{"key": key})
		upErr := t.target.PerformKeyboardActions(ctx, func(q *humanoid.ActionQueue) { q.KeyUp(value) })
		err = multierr.Append(err, upErr)
	}()
	return fn()
}

// -- Scripts --

// ExecuteScript evaluates script in the default realm. An exception thrown by the script is
// returned as its text rather than as an error so it can be forwarded as conversation output.
func (t *InputTool) ExecuteScript(ctx context.Context, script string) (interface{}, error) {
	t.actionStart(ctx, "execute_script", map[string]interface{}{"script": script})

	realm, err := t.target.DefaultRealm(ctx)
	if err != nil {
		return nil, err
	}
	result, err := realm.Evaluate(ctx, script)
	if result, err = scriptOutcome(result, err); err != nil {
		return nil, err
	}
	t.notifyResult(ctx, result)
	return result, nil
}

// ExecuteScriptWithRef resolves an ARIA reference token to its element and calls
// elementFunctionDeclaration with that element.
func (t *InputTool) ExecuteScriptWithRef(ctx context.Context, ref, elementFunctionDeclaration string) (interface{}, error) {
	realm, err := t.target.DefaultRealm(ctx)
	if err != nil {
		return nil, err
	}
	element, selector, err := t.resolveRef(ctx, realm, ref)
	if err != nil {
		return nil, err
	}
	t.actionStart(ctx, "execute_script_with_ref", map[string]interface{}{
		"script": elementFunctionDeclaration, "ref": ref, "selector": selector,
	})

	result, err := realm.CallFunction(ctx, elementFunctionDeclaration, element)
	if result, err = scriptOutcome(result, err); err != nil {
		return nil, err
	}
	t.notifyResult(ctx, result)
	return result, nil
}

// resolveRef maps an aria-ref token to a live element handle and a CSS selector for it.
func (t *InputTool) resolveRef(ctx context.Context, realm *bidi.Realm, ref string) (bidi.Handle, string, error) {
	var element bidi.Handle
	var selector string
	err := realm.WithInjectedScript(ctx, func(script *bidi.InjectedScript) error {
		parsed, err := script.Invoke(ctx, "parseSelector", "aria-ref="+ref)
		if err != nil {
			return err
		}

		// Snapshot first so the reference is attached.
		body, err := script.GetPropHandle(ctx, "document.body")
		if err != nil {
			return err
		}
		if _, err := script.Invoke(ctx, "ariaSnapshot", body, map[string]interface{}{"mode": "ai"}); err != nil {
			return err
		}

		document, err := script.GetPropHandle(ctx, "document")
		if err != nil {
			return err
		}
		if element, err = script.InvokeHandle(ctx, "querySelector", parsed, document, false); err != nil {
			return err
		}
		generated, err := script.Invoke(ctx, "generateSelectorSimple", element, map[string]interface{}{"omitInternalEngines": true})
		if err != nil {
			return err
		}
		selector, _ = generated.(string)
		return nil
	})
	return element, selector, err
}

// scriptOutcome turns script exceptions into plain values.
func scriptOutcome(result interface{}, err error) (interface{}, error) {
	var se *bidi.ScriptEvaluationError
	if errors.As(err, &se) {
		return se.Text, nil
	}
	return result, err
}

func (t *InputTool) notifyResult(ctx context.Context, result interface{}) {
	text := FormatResult(result)
	if text == "" {
		return
	}
	t.send(ctx, schemas.ChatMessage{Text: fmt.Sprintf("result is `%s`", text)})
}

// -- Timing --

// SleepSeconds pauses the caller.
func (t *InputTool) SleepSeconds(ctx context.Context, seconds float64) error {
	t.actionStart(ctx, "sleep_seconds", map[string]interface{}{"seconds": seconds})
	return t.sleep(ctx, time.Duration(seconds*float64(time.Second)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
