package review

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/typedai/typedai/llm"
)

type (
	// Violation is one finding the model reports against a review unit.
	Violation struct {
		LineNumber int    `json:"lineNumber"`
		Comment    string `json:"comment"`
	}

	// Result is the parsed model response for one review unit.
	Result struct {
		Thinking   string      `json:"thinking"`
		Violations []Violation `json:"violations"`
	}

	ruleXML struct {
		XMLName     xml.Name `xml:"rule"`
		ID          string   `xml:"id"`
		Title       string   `xml:"title"`
		Description string   `xml:"description"`
		Examples    []struct {
			Code          string `xml:"code"`
			ReviewComment string `xml:"reviewComment"`
		} `xml:"examples>example"`
	}
)

const reviewSystemPrompt = `You are an expert code reviewer. You are given one review rule and a fragment of changed code. Each code line is preceded by a comment holding its line number; use those numbers when reporting violations.

Respond with a single JSON object of the shape:
{"thinking": string, "violations": [{"lineNumber": number, "comment": string}]}

Report only genuine violations of the given rule. An empty violations array means the code is clean for this rule.`

// BuildPrompt renders the unit prompt: the rule as XML followed by the
// line-annotated code.
func BuildPrompt(cfg Config, codeWithLines string) []llm.Message {
	rule := ruleXML{
		ID:          cfg.ID,
		Title:       cfg.Title,
		Description: cfg.Description,
	}
	for _, ex := range cfg.Examples {
		rule.Examples = append(rule.Examples, struct {
			Code          string `xml:"code"`
			ReviewComment string `xml:"reviewComment"`
		}{Code: ex.Code, ReviewComment: ex.ReviewComment})
	}
	encoded, err := xml.MarshalIndent(rule, "", "  ")
	if err != nil {
		// Marshal of this fixed shape cannot fail; fall back to the title.
		encoded = []byte(fmt.Sprintf("<rule><id>%s</id><title>%s</title></rule>", cfg.ID, cfg.Title))
	}
	user := fmt.Sprintf("%s\n\n<code>\n%s</code>", encoded, codeWithLines)
	return []llm.Message{llm.System(reviewSystemPrompt), llm.UserMsg(user)}
}

// ParseResult parses the model output defensively: markdown fences are
// stripped, the outermost JSON object is extracted, and any shape problem
// yields nil so the caller skips the unit without caching a verdict.
func ParseResult(text string) *Result {
	raw := strings.TrimSpace(text)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var out Result
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	// A clean verdict is an explicit empty array; an absent violations field
	// must not be cached as clean.
	if out.Violations == nil {
		return nil
	}
	return &out
}
