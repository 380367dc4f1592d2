// File: internal/agent/fence.go
package agent

import (
	"regexp"
	"strings"
)

// fencePattern matches a fenced block with an optional language tag. The body excludes the
// newline before the closing fence.
var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\n(.*?)\n```")

// ExtractCodeBlocks returns the bodies of all fenced code blocks in text, in order.
// Text outside a fence is never returned.
func ExtractCodeBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, m[1])
	}
	return blocks
}

// containsBackquote reports whether a block must be rejected before it reaches the interpreter.
func containsBackquote(code string) bool {
	return strings.ContainsRune(code, '`')
}
