package review

import (
	"fmt"
	"path/filepath"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// NumberedLine is one kept line of a diff with its line number in the new
// file.
type NumberedLine struct {
	Number int
	Text   string
}

// PrepareDiff parses a unified diff body (hunks only, as merge-request APIs
// deliver them), drops removed lines and returns the kept lines numbered
// against the new file. An unparseable hunk header fails the whole diff.
func PrepareDiff(diffText string) ([]NumberedLine, error) {
	hunks, err := godiff.ParseHunks([]byte(diffText))
	if err != nil {
		return nil, fmt.Errorf("review: parse diff hunks: %w", err)
	}
	var out []NumberedLine
	for _, hunk := range hunks {
		line := int(hunk.NewStartLine)
		for _, raw := range strings.Split(string(hunk.Body), "\n") {
			if raw == "" || strings.HasPrefix(raw, `\`) {
				// Trailing empty split or "\ No newline at end of file".
				continue
			}
			switch raw[0] {
			case '-':
				continue
			case '+', ' ':
				out = append(out, NumberedLine{Number: line, Text: raw[1:]})
				line++
			default:
				out = append(out, NumberedLine{Number: line, Text: raw})
				line++
			}
		}
	}
	return out, nil
}

// lineCommenters maps file extensions to a formatter producing a single-line
// comment for a line number. Extensions without an entry get no annotation.
var lineCommenters = map[string]func(int) string{
	".go":    slashComment,
	".js":    slashComment,
	".jsx":   slashComment,
	".ts":    slashComment,
	".tsx":   slashComment,
	".java":  slashComment,
	".kt":    slashComment,
	".c":     slashComment,
	".h":     slashComment,
	".cpp":   slashComment,
	".cs":    slashComment,
	".rs":    slashComment,
	".swift": slashComment,
	".scala": slashComment,
	".php":   slashComment,
	".py":    hashComment,
	".rb":    hashComment,
	".sh":    hashComment,
	".bash":  hashComment,
	".yaml":  hashComment,
	".yml":   hashComment,
	".tf":    hashComment,
	".sql":   func(n int) string { return fmt.Sprintf("-- %d", n) },
	".lua":   func(n int) string { return fmt.Sprintf("-- %d", n) },
	".html":  xmlComment,
	".xml":   xmlComment,
	".vue":   xmlComment,
}

func slashComment(n int) string { return fmt.Sprintf("// %d", n) }
func hashComment(n int) string  { return fmt.Sprintf("# %d", n) }
func xmlComment(n int) string   { return fmt.Sprintf("<!-- %d -->", n) }

// RenderWithLines renders the kept lines for the LLM: each code line preceded
// by a single-line comment carrying its line number, in the comment syntax of
// the file's language. Unknown extensions render the bare code.
func RenderWithLines(lines []NumberedLine, path string) string {
	commenter, ok := lineCommenters[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return RenderWithoutLines(lines)
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(commenter(l.Number))
		b.WriteByte('\n')
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderWithoutLines renders the bare kept lines. This is what fingerprinting
// hashes, so line-number churn never invalidates the cache.
func RenderWithoutLines(lines []NumberedLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// ContextAround returns the code lines within radius of the target line
// number, joined by newlines. Used for the violation context hash.
func ContextAround(lines []NumberedLine, line, radius int) string {
	var picked []string
	for _, l := range lines {
		if l.Number >= line-radius && l.Number <= line+radius {
			picked = append(picked, l.Text)
		}
	}
	return strings.Join(picked, "\n")
}
