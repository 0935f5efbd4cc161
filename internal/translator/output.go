package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/contextual-book-translator/internal/llm"
	"github.com/MimeLyc/contextual-book-translator/internal/placeholder"
)

var translationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "translations": {"type": "array", "items": {"type": "string"}},
    "context_summary": {"type": "string"}
  },
  "required": ["translations", "context_summary"],
  "additionalProperties": false
}`)

var classifySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "verdict": {"type": "string", "enum": ["translated", "not_translated", "ambiguous"]}
  },
  "required": ["verdict"],
  "additionalProperties": false
}`)

func translationFormat() *llm.ResponseFormat {
	return llm.NewJSONSchemaFormat("translation_batch", translationSchema)
}

func classifyFormat() *llm.ResponseFormat {
	return llm.NewJSONSchemaFormat("translation_verdict", classifySchema)
}

type translationOutput struct {
	Translations   []string `json:"translations"`
	ContextSummary string   `json:"context_summary"`
}

type indexedItem struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// buildTranslationUserMessage renders texts as 1-based indexed items.
func buildTranslationUserMessage(texts []string, summary string) (string, error) {
	payload := struct {
		Context string        `json:"context,omitempty"`
		Items   []indexedItem `json:"items"`
	}{Context: summary}
	for i, text := range texts {
		payload.Items = append(payload.Items, indexedItem{Index: i + 1, Text: text})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal translation input: %w", err)
	}
	return string(data), nil
}

// parseTranslationOutput accepts only the schema object.
func parseTranslationOutput(content string) (translationOutput, error) {
	var out translationOutput
	content = strings.TrimSpace(content)
	if content == "" {
		return out, fmt.Errorf("empty model output")
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return out, fmt.Errorf("invalid json output: %w", err)
	}
	if out.Translations == nil {
		return out, fmt.Errorf("invalid json output: missing translations")
	}
	return out, nil
}

// parseLenient tries progressively looser readings of content: the schema
// object, the first balanced object embedded in prose, a bare string array,
// and an indexed item array.
func parseLenient(content string) (translationOutput, bool) {
	if out, err := parseTranslationOutput(content); err == nil {
		return out, true
	}
	if obj := extractJSONObject(content); obj != "" {
		if out, err := parseTranslationOutput(obj); err == nil {
			return out, true
		}
		var single struct {
			Translation string `json:"translation"`
		}
		if err := json.Unmarshal([]byte(obj), &single); err == nil && single.Translation != "" {
			return translationOutput{Translations: []string{single.Translation}}, true
		}
	}
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			arr := trimmed[start : end+1]
			var strs []string
			if err := json.Unmarshal([]byte(arr), &strs); err == nil && len(strs) > 0 {
				return translationOutput{Translations: strs}, true
			}
			var items []indexedItem
			if err := json.Unmarshal([]byte(arr), &items); err == nil && len(items) > 0 {
				ordered := make([]string, len(items))
				for i, item := range items {
					ordered[i] = item.Text
				}
				return translationOutput{Translations: ordered}, true
			}
		}
	}
	return translationOutput{}, false
}

// extractJSONObject finds the outermost balanced { ... } block in s.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// validateOutput lists every structural problem of out against the
// source texts. An empty list means the output is usable as is.
func validateOutput(texts []string, out translationOutput) []string {
	var problems []string
	if len(out.Translations) != len(texts) {
		problems = append(problems, fmt.Sprintf("expected %d translations, got %d", len(texts), len(out.Translations)))
	}
	for i, text := range texts {
		if i >= len(out.Translations) {
			break
		}
		var missing []string
		for _, marker := range placeholder.Markers(text) {
			if !strings.Contains(out.Translations[i], marker) {
				missing = append(missing, marker)
			}
		}
		if len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("item %d is missing tags %s", i+1, strings.Join(missing, " ")))
		}
	}
	return problems
}

// fitCount pads or truncates translations to n items. A single expected
// item absorbs all returned items.
func fitCount(translations []string, n int) []string {
	if len(translations) == n {
		return translations
	}
	if n == 1 {
		return []string{strings.Join(translations, " ")}
	}
	ret := make([]string, n)
	copy(ret, translations)
	return ret
}

// rawFallback spreads raw text over n items when nothing parses.
func rawFallback(raw string, n int) []string {
	if n == 1 {
		return []string{raw}
	}
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) == n {
		return lines
	}
	ret := make([]string, n)
	ret[0] = raw
	return ret
}

func parseVerdict(content string) Verdict {
	var v struct {
		Verdict string `json:"verdict"`
	}
	if obj := extractJSONObject(content); obj != "" {
		if err := json.Unmarshal([]byte(obj), &v); err == nil {
			content = v.Verdict
		}
	}
	s := strings.ToLower(strings.TrimSpace(content))
	switch {
	case strings.Contains(s, "not_translated"), strings.Contains(s, "not translated"), strings.Contains(s, "untranslated"):
		return VerdictNotTranslated
	case strings.Contains(s, "ambiguous"):
		return VerdictAmbiguous
	case strings.Contains(s, "translated"):
		return VerdictTranslated
	}
	return VerdictAmbiguous
}
