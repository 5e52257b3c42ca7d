// Package taskdoc turns documents on disk into Tree-of-Thoughts tasks, so an
// instruction can be written in a text, Markdown, PDF or Word file instead of
// being passed inline.
package taskdoc

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// DefaultMaxRunes bounds the instruction taken from a document.
const DefaultMaxRunes = 8000

// Loader defines the contract for reading a file and extracting its text content.
type Loader interface {
	// Load reads the file at the given path and returns its text content.
	Load(path string) (string, error)
}

// LoadTask reads path with the automatic loader and returns a task whose
// instruction is the document text, cut to maxRunes (DefaultMaxRunes when
// maxRunes <= 0).
func LoadTask(path, constraints string, maxRunes int) (tot.Task, error) {
	text, err := NewAutoLoader().Load(path)
	if err != nil {
		return tot.Task{}, fmt.Errorf("failed to load task document '%s': %w", path, err)
	}
	text = normalize(text)
	if text == "" {
		return tot.Task{}, &tot.ConfigurationError{Field: "instruction_file", Reason: fmt.Sprintf("'%s' contains no text", path)}
	}
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	if utf8.RuneCountInString(text) > maxRunes {
		text = strings.TrimSpace(string([]rune(text)[:maxRunes]))
	}
	return tot.Task{Instruction: text, Constraints: constraints}, nil
}

// normalize trims the text and collapses runs of blank lines.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
