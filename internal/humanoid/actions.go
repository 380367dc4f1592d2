// File: internal/humanoid/actions.go
package humanoid

// ActionKind is the wire name of a single input action record.
type ActionKind string

const (
	ActionPause       ActionKind = "pause"
	ActionKeyDown     ActionKind = "keyDown"
	ActionKeyUp       ActionKind = "keyUp"
	ActionPointerDown ActionKind = "pointerDown"
	ActionPointerUp   ActionKind = "pointerUp"
	ActionPointerMove ActionKind = "pointerMove"
	ActionScroll      ActionKind = "scroll"
)

// SourceType selects the input device an action sequence is dispatched to.
type SourceType string

const (
	SourceKey     SourceType = "key"
	SourcePointer SourceType = "pointer"
	SourceWheel   SourceType = "wheel"
)

// Input source ids. One id per device keeps the remote end's input state consistent across batches.
const (
	KeyboardSourceID = "__pilot_keyboard"
	MouseSourceID    = "__pilot_mouse"
	WheelSourceID    = "__pilot_wheel"
)

// MouseButton values as understood by the remote end.
type MouseButton int

const (
	ButtonLeft   MouseButton = 0
	ButtonMiddle MouseButton = 1
	ButtonRight  MouseButton = 2
)

// Action is one input record. Optional fields are pointers so that absent values are
// dropped from the payload while explicit zeros (button 0, duration 0) are kept.
type Action struct {
	Type     ActionKind `json:"type"`
	Duration *int       `json:"duration,omitempty"`
	Value    string     `json:"value,omitempty"`
	Button   *int       `json:"button,omitempty"`
	X        *int       `json:"x,omitempty"`
	Y        *int       `json:"y,omitempty"`
	DeltaX   *int       `json:"deltaX,omitempty"`
	DeltaY   *int       `json:"deltaY,omitempty"`
}

// ActionSource is one device's action sequence inside an input.performActions batch.
type ActionSource struct {
	Type    SourceType `json:"type"`
	ID      string     `json:"id"`
	Actions []Action   `json:"actions"`
}

// ActionQueue is an append-only builder of input records for a single gesture.
// It is not safe for concurrent use; build one per gesture.
type ActionQueue struct {
	actions []Action
}

// NewActionQueue returns an empty queue.
func NewActionQueue() *ActionQueue {
	return &ActionQueue{}
}

// BuildActions runs build against a fresh queue and returns the recorded actions.
func BuildActions(build func(q *ActionQueue)) []Action {
	q := NewActionQueue()
	build(q)
	return q.Actions()
}

// Actions returns a copy of the recorded sequence.
func (q *ActionQueue) Actions() []Action {
	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}

// Len returns the number of queued records.
func (q *ActionQueue) Len() int { return len(q.actions) }

// Pause waits for duration milliseconds.
func (q *ActionQueue) Pause(duration int) *ActionQueue {
	q.actions = append(q.actions, Action{Type: ActionPause, Duration: intPtr(duration)})
	return q
}

// KeyDown presses a key. value must already be in the remote key encoding.
func (q *ActionQueue) KeyDown(value string) *ActionQueue {
	q.actions = append(q.actions, Action{Type: ActionKeyDown, Value: value})
	return q
}

// KeyUp releases a key.
func (q *ActionQueue) KeyUp(value string) *ActionQueue {
	q.actions = append(q.actions, Action{Type: ActionKeyUp, Value: value})
	return q
}

// PointerDown presses a mouse button.
func (q *ActionQueue) PointerDown(button MouseButton) *ActionQueue {
	q.actions = append(q.actions, Action{Type: ActionPointerDown, Button: intPtr(int(button))})
	return q
}

// PointerUp releases a mouse button.
func (q *ActionQueue) PointerUp(button MouseButton) *ActionQueue {
	q.actions = append(q.actions, Action{Type: ActionPointerUp, Button: intPtr(int(button))})
	return q
}

// PointerMove moves the pointer to (x, y). duration is optional; pass nil to omit it.
func (q *ActionQueue) PointerMove(x, y int, duration *int) *ActionQueue {
	q.actions = append(q.actions, Action{
		Type:     ActionPointerMove,
		X:        intPtr(x),
		Y:        intPtr(y),
		Duration: copyIntPtr(duration),
	})
	return q
}

// Scroll emits a wheel record at (x, y). duration is optional; pass nil to omit it.
func (q *ActionQueue) Scroll(x, y, deltaX, deltaY int, duration *int) *ActionQueue {
	q.actions = append(q.actions, Action{
		Type:     ActionScroll,
		X:        intPtr(x),
		Y:        intPtr(y),
		DeltaX:   intPtr(deltaX),
		DeltaY:   intPtr(deltaY),
		Duration: copyIntPtr(duration),
	})
	return q
}

// Millis is a convenience for optional duration arguments.
func Millis(ms int) *int { return intPtr(ms) }

func intPtr(v int) *int { return &v }

func copyIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	return intPtr(*v)
}
