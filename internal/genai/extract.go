// internal/genai/extract.go
package genai

import (
	"encoding/json"
	"strings"
)

// The provider has shipped several response layouts over time. Each matcher
// handles exactly one shape; extractText tries them in order and falls back
// to the raw body so callers never depend on a specific layout surviving a
// provider version change.
type shapeMatcher struct {
	name  string
	match func(raw []byte) (string, bool)
}

var shapeMatchers = []shapeMatcher{
	{"candidates-parts", matchCandidateParts},
	{"candidates-string", matchCandidateString},
	{"output-array", matchOutputArray},
	{"output-text", matchFlatField("output_text")},
	{"text", matchFlatField("text")},
}

// extractText pulls the generated text out of a response body, whatever its
// shape. The result is never empty for a non-empty body.
func extractText(raw []byte) string {
	for _, m := range shapeMatchers {
		if text, ok := m.match(raw); ok {
			return text
		}
	}
	return strings.TrimSpace(string(raw))
}

// matchCandidateParts handles the current layout:
// {"candidates":[{"content":{"parts":[{"text":"..."}]}}]}
func matchCandidateParts(raw []byte) (string, bool) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Candidates) == 0 {
		return "", false
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// matchCandidateString handles the legacy layout where content is a plain
// string: {"candidates":[{"content":"..."}]}
func matchCandidateString(raw []byte) (string, bool) {
	var resp struct {
		Candidates []struct {
			Content string `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Candidates) == 0 {
		return "", false
	}
	if resp.Candidates[0].Content == "" {
		return "", false
	}
	return resp.Candidates[0].Content, true
}

// matchOutputArray handles {"output":[{"content":[{"text":"..."}]}]}
func matchOutputArray(raw []byte) (string, bool) {
	var resp struct {
		Output []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Output) == 0 {
		return "", false
	}
	var b strings.Builder
	for _, o := range resp.Output {
		for _, c := range o.Content {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// matchFlatField handles flat layouts like {"output_text":"..."} or
// {"text":"..."}.
func matchFlatField(field string) func(raw []byte) (string, bool) {
	return func(raw []byte) (string, bool) {
		var resp map[string]json.RawMessage
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", false
		}
		var text string
		if err := json.Unmarshal(resp[field], &text); err != nil || text == "" {
			return "", false
		}
		return text, true
	}
}
