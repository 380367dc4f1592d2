// File: internal/agent/sandbox.go
package agent

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/internal/browser"
)

// Driver is the verb set reachable from model generated code. *browser.InputTool satisfies it.
type Driver interface {
	AssertionOK(ctx context.Context, description string)
	AssertionFail(ctx context.Context, description string) error
	AriaSnapshot(ctx context.Context, rootLocator string, ref bool) ([]string, error)
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, x, y, delay int) error
	ExecuteScript(ctx context.Context, script string) (interface{}, error)
	ExecuteScriptWithRef(ctx context.Context, ref, elementFunctionDeclaration string) (interface{}, error)
	OnPressingKey(ctx context.Context, key string, fn func() error) error
	PressKey(ctx context.Context, key string, delay int) error
	ScrollDown(ctx context.Context, x, y int, velocity float64) error
	ScrollUp(ctx context.Context, x, y int, velocity float64) error
	SleepSeconds(ctx context.Context, seconds float64) error
	TypeText(ctx context.Context, text string, delay int) error
}

var _ Driver = (*browser.InputTool)(nil)

// -- Verb table --

type paramKind int

const (
	kindInt paramKind = iota
	kindNumber
	kindString
	kindBool
)

func (k paramKind) String() string {
	switch k {
	case kindInt:
		return "an integer"
	case kindNumber:
		return "a number"
	case kindString:
		return "a string"
	}
	return "a boolean"
}

type param struct {
	name     string
	kind     paramKind
	required bool
	// def is used when the argument is omitted or nil; zero values let the driver pick its default.
	// A nil def leaves the argument unbound.
	def interface{}
}

type args map[string]interface{}

func (a args) intArg(name string) int        { return a[name].(int) }
func (a args) numberArg(name string) float64 { return a[name].(float64) }
func (a args) stringArg(name string) string  { return a[name].(string) }
func (a args) boolArg(name string) bool      { return a[name].(bool) }

type verb struct {
	params []param
	block  bool
	run    func(ctx context.Context, s *Sandbox, a args, block []instruction) error
}

// verbs is the closed set of operations a code block may perform.
var verbs = map[string]verb{
	"assertion_ok": {
		params: []param{{name: "description", kind: kindString, required: true}},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			s.driver.AssertionOK(ctx, a.stringArg("description"))
			return nil
		},
	},
	"assertion_fail": {
		params: []param{{name: "description", kind: kindString, required: true}},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			return s.driver.AssertionFail(ctx, a.stringArg("description"))
		},
	},
	"aria_snapshot": {
		params: []param{
			{name: "root_locator", kind: kindString, def: "document.body"},
			{name: "ref", kind: kindBool, def: false},
		},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			_, err := s.driver.AriaSnapshot(ctx, a.stringArg("root_locator"), a.boolArg("ref"))
			return err
		},
	},
	"capture_screenshot": {
		run: func(ctx context.Context, s *Sandbox, _ args, _ []instruction) error {
			_, err := s.driver.CaptureScreenshot(ctx)
			return err
		},
	},
	"click": {
		params: []param{
			{name: "x", kind: kindInt, required: true},
			{name: "y", kind: kindInt, required: true},
			{name: "delay", kind: kindInt, def: 0},
		},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			return s.driver.Click(ctx, a.intArg("x"), a.intArg("y"), a.intArg("delay"))
		},
	},
	"execute_script": {
		params: []param{{name: "script", kind: kindString, required: true}},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			_, err := s.driver.ExecuteScript(ctx, a.stringArg("script"))
			return err
		},
	},
	"execute_script_with_ref": {
		params: []param{
			{name: "ref", kind: kindString, required: true},
			{name: "element_function_declaration", kind: kindString, required: true},
		},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			_, err := s.driver.ExecuteScriptWithRef(ctx, a.stringArg("ref"), a.stringArg("element_function_declaration"))
			return err
		},
	},
	"on_pressing_key": {
		params: []param{{name: "key", kind: kindString, required: true}},
		block:  true,
		run: func(ctx context.Context, s *Sandbox, a args, block []instruction) error {
			return s.driver.OnPressingKey(ctx, a.stringArg("key"), func() error {
				return s.execute(ctx, block)
			})
		},
	},
	"press_key": {
		params: []param{
			{name: "key", kind: kindString, required: true},
			{name: "delay", kind: kindInt, def: 0},
		},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			return s.driver.PressKey(ctx, a.stringArg("key"), a.intArg("delay"))
		},
	},
	"scroll_down": {
		params: scrollParams,
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			return s.driver.ScrollDown(ctx, a.intArg("x"), a.intArg("y"), s.scrollVelocity(a))
		},
	},
	"scroll_up": {
		params: scrollParams,
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			return s.driver.ScrollUp(ctx, a.intArg("x"), a.intArg("y"), s.scrollVelocity(a))
		},
	},
	"sleep_seconds": {
		params: []param{{name: "seconds", kind: kindNumber, required: true}},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			return s.driver.SleepSeconds(ctx, a.numberArg("seconds"))
		},
	},
	"type_text": {
		params: []param{
			{name: "text", kind: kindString, required: true},
			{name: "delay", kind: kindInt, def: 0},
		},
		run: func(ctx context.Context, s *Sandbox, a args, _ []instruction) error {
			return s.driver.TypeText(ctx, a.stringArg("text"), a.intArg("delay"))
		},
	},
}

var scrollParams = []param{
	{name: "x", kind: kindInt, def: 0},
	{name: "y", kind: kindInt, def: 0},
	{name: "velocity", kind: kindNumber},
}

// Verbs lists the verb names accepted in code blocks.
func Verbs() []string {
	names := make([]string, 0, len(verbs))
	for name := range verbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -- Compilation --

// instruction is a statement bound to its verb with validated arguments.
type instruction struct {
	name  string
	line  int
	verb  verb
	args  args
	block []instruction
}

// compile parses and validates a code block. No statement runs unless the whole block compiles.
func compile(src string) ([]instruction, error) {
	stmts, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return compileStatements(stmts)
}

func compileStatements(stmts []Statement) ([]instruction, error) {
	out := make([]instruction, 0, len(stmts))
	for _, stmt := range stmts {
		ins, err := compileStatement(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, nil
}

func compileStatement(stmt Statement) (instruction, error) {
	v, ok := verbs[stmt.Verb]
	if !ok {
		return instruction{}, &UnknownVerbError{Verb: stmt.Verb, Line: stmt.Line}
	}
	argErr := func(format string, a ...interface{}) error {
		return &ArgumentError{Verb: stmt.Verb, Line: stmt.Line, Message: fmt.Sprintf(format, a...)}
	}

	bound, err := bindArgs(v.params, stmt.Args, argErr)
	if err != nil {
		return instruction{}, err
	}

	ins := instruction{name: stmt.Verb, line: stmt.Line, verb: v, args: bound}
	switch {
	case v.block && stmt.Block == nil:
		return instruction{}, argErr("a block is required")
	case !v.block && stmt.Block != nil:
		return instruction{}, argErr("a block is not accepted")
	case v.block:
		if ins.block, err = compileStatements(stmt.Block); err != nil {
			return instruction{}, err
		}
	}
	return ins, nil
}

func bindArgs(params []param, given []Argument, argErr func(string, ...interface{}) error) (args, error) {
	raw := make(map[string]interface{}, len(params))
	seen := make(map[string]bool, len(params))
	positional := 0
	for _, a := range given {
		name := a.Name
		if name == "" {
			if positional >= len(params) {
				return nil, argErr("wrong number of arguments (given %d, expected at most %d)", countPositional(given), len(params))
			}
			name = params[positional].name
			positional++
		} else if !hasParam(params, name) {
			return nil, argErr("unknown keyword: %s", name)
		}
		if seen[name] {
			return nil, argErr("argument %s given twice", name)
		}
		seen[name] = true
		raw[name] = a.Value
	}

	out := make(args, len(params))
	for _, p := range params {
		v, ok := raw[p.name]
		if !ok || v == nil {
			if p.required {
				return nil, argErr("missing argument: %s", p.name)
			}
			if p.def == nil {
				continue
			}
			v = p.def
		}
		converted, err := convertArg(p, v)
		if err != nil {
			return nil, argErr("%v", err)
		}
		out[p.name] = converted
	}
	return out, nil
}

func hasParam(params []param, name string) bool {
	for _, p := range params {
		if p.name == name {
			return true
		}
	}
	return false
}

func countPositional(given []Argument) int {
	n := 0
	for _, a := range given {
		if a.Name == "" {
			n++
		}
	}
	return n
}

func convertArg(p param, v interface{}) (interface{}, error) {
	switch p.kind {
	case kindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			return int(math.Round(n)), nil
		}
	case kindNumber:
		switch n := v.(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case kindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case kindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%s must be %s, got %v", p.name, p.kind, v)
}

// -- Execution --

// defaulter is implemented by drivers that carry configured verb defaults.
type defaulter interface {
	Defaults() browser.Defaults
}

// Sandbox runs compiled code blocks against a Driver.
type Sandbox struct {
	driver   Driver
	logger   *zap.Logger
	velocity float64
}

// NewSandbox binds a sandbox to driver. Omitted scroll velocities take the driver's
// configured default when it exposes one.
func NewSandbox(driver Driver, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	velocity := browser.DefaultDefaults().Velocity
	if d, ok := driver.(defaulter); ok && d.Defaults().Velocity > 0 {
		velocity = d.Defaults().Velocity
	}
	return &Sandbox{driver: driver, logger: logger.Named("sandbox"), velocity: velocity}
}

// scrollVelocity returns the bound velocity or the default one.
func (s *Sandbox) scrollVelocity(a args) float64 {
	if v, ok := a["velocity"]; ok {
		return v.(float64)
	}
	return s.velocity
}

// Run compiles and executes code. Every statement runs even when an earlier one fails;
// all failures are returned together.
func (s *Sandbox) Run(ctx context.Context, code string) error {
	program, err := compile(code)
	if err != nil {
		return err
	}
	return s.execute(ctx, program)
}

func (s *Sandbox) execute(ctx context.Context, program []instruction) error {
	var errs error
	for _, ins := range program {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		s.logger.Debug("Executing statement.", zap.String("verb", ins.name), zap.Int("line", ins.line))
		if err := ins.verb.run(ctx, s, ins.args, ins.block); err != nil {
			s.logger.Debug("Statement failed.", zap.String("verb", ins.name), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
