package agent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ignorePositions compares statements by content only.
var ignorePositions = cmp.Options{
	cmpopts.IgnoreFields(Statement{}, "Line", "Col"),
	cmpopts.IgnoreFields(Argument{}, "Line", "Col"),
	cmpopts.EquateEmpty(),
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Statement
	}{
		{
			name: "bare verb",
			src:  "driver.capture_screenshot",
			want: []Statement{{Verb: "capture_screenshot"}},
		},
		{
			name: "named arguments in parentheses",
			src:  "driver.click(x: 10, y: 20)",
			want: []Statement{{Verb: "click", Args: []Argument{{Name: "x", Value: int64(10)}, {Name: "y", Value: int64(20)}}}},
		},
		{
			name: "bare positional argument",
			src:  `driver.type_text "hogeHoge!!"`,
			want: []Statement{{Verb: "type_text", Args: []Argument{{Value: "hogeHoge!!"}}}},
		},
		{
			name: "bare named arguments",
			src:  "driver.scroll_down x: 10, y: 20, velocity: 1500.5",
			want: []Statement{{Verb: "scroll_down", Args: []Argument{
				{Name: "x", Value: int64(10)}, {Name: "y", Value: int64(20)}, {Name: "velocity", Value: 1500.5},
			}}},
		},
		{
			name: "separators and comments",
			src:  "# log in\ndriver.press_key(\"Enter\"); driver.sleep_seconds(2)\n\n",
			want: []Statement{
				{Verb: "press_key", Args: []Argument{{Value: "Enter"}}},
				{Verb: "sleep_seconds", Args: []Argument{{Value: int64(2)}}},
			},
		},
		{
			name: "brace block",
			src:  `driver.on_pressing_key("CtrlOrMeta") { driver.press_key("c"); driver.press_key("v") }`,
			want: []Statement{{Verb: "on_pressing_key", Args: []Argument{{Value: "CtrlOrMeta"}}, Block: []Statement{
				{Verb: "press_key", Args: []Argument{{Value: "c"}}},
				{Verb: "press_key", Args: []Argument{{Value: "v"}}},
			}}},
		},
		{
			name: "do end block",
			src:  "driver.on_pressing_key \"Shift\" do\n  driver.type_text(\"abc\")\nend",
			want: []Statement{{Verb: "on_pressing_key", Args: []Argument{{Value: "Shift"}}, Block: []Statement{
				{Verb: "type_text", Args: []Argument{{Value: "abc"}}},
			}}},
		},
		{
			name: "single quoted string keeps unknown escapes",
			src:  `driver.execute_script('document.querySelector("a\.b").textContent')`,
			want: []Statement{{Verb: "execute_script", Args: []Argument{{Value: `document.querySelector("a\.b").textContent`}}}},
		},
		{
			name: "single quoted string keeps control escapes literal",
			src:  `driver.execute_script('document.title.split("\n").join("\t") + \'!\' + "\\"')`,
			want: []Statement{{Verb: "execute_script", Args: []Argument{{Value: `document.title.split("\n").join("\t") + '!' + "\"`}}}},
		},
		{
			name: "double quoted string unescapes control characters",
			src:  `driver.type_text("a\nb\tc\"d")`,
			want: []Statement{{Verb: "type_text", Args: []Argument{{Value: "a\nb\tc\"d"}}}},
		},
		{
			name: "multi line argument list",
			src:  "driver.click(\n  x: -5,\n  y: 7,\n  delay: nil\n)",
			want: []Statement{{Verb: "click", Args: []Argument{
				{Name: "x", Value: int64(-5)}, {Name: "y", Value: int64(7)}, {Name: "delay", Value: nil},
			}}},
		},
		{
			name: "booleans",
			src:  "driver.aria_snapshot(ref: true)",
			want: []Statement{{Verb: "aria_snapshot", Args: []Argument{{Name: "ref", Value: true}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.src)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, ignorePositions); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Positions(t *testing.T) {
	got, err := Parse("\n  driver.click(x: 1, y: 2)")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Line)
	assert.Equal(t, 3, got[0].Col)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"other receiver", "system.click(x: 1)", "statements must call a driver verb"},
		{"shell call", `system("ls")`, "statements must call a driver verb"},
		{"unterminated string", `driver.type_text("abc`, "unterminated string"},
		{"positional after named", `driver.click(x: 1, 2)`, "positional argument follows named argument"},
		{"unclosed block", `driver.on_pressing_key("Shift") { driver.press_key("a")`, "syntax error"},
		{"expression argument", `driver.click(x: 1 + 2, y: 3)`, "syntax error"},
		{"unexpected character", `driver.click(x: @a)`, "unexpected character"},
		{"missing verb", `driver.`, "syntax error"},
		{"two statements on one line", `driver.capture_screenshot driver.capture_screenshot`, "syntax error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			assert.ErrorAs(t, err, &syntaxErr)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
