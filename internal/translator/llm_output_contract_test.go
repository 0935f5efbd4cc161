package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTranslationUserMessage_IndexedItems(t *testing.T) {
	t.Parallel()

	payload, err := buildTranslationUserMessage([]string{"[[p_1]]one[[/p_1]]", "two"}, "Ishmael goes to sea.")
	require.NoError(t, err)

	var decoded struct {
		Context string        `json:"context"`
		Items   []indexedItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, "Ishmael goes to sea.", decoded.Context)
	require.Len(t, decoded.Items, 2)
	assert.Equal(t, indexedItem{Index: 1, Text: "[[p_1]]one[[/p_1]]"}, decoded.Items[0])
	assert.Equal(t, 2, decoded.Items[1].Index)
}

func TestParseTranslationOutput(t *testing.T) {
	t.Parallel()

	out, err := parseTranslationOutput(`{"translations":["[[p_1]]eins[[/p_1]]"],"context_summary":"s"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"[[p_1]]eins[[/p_1]]"}, out.Translations)
	assert.Equal(t, "s", out.ContextSummary)

	_, err = parseTranslationOutput("   ")
	assert.ErrorContains(t, err, "empty")

	_, err = parseTranslationOutput(`["a"]`)
	assert.ErrorContains(t, err, "json")

	_, err = parseTranslationOutput(`{"context_summary":"s"}`)
	assert.ErrorContains(t, err, "missing translations")
}

func TestParseLenient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"embedded object", `Sure! {"translations":["a","b"],"context_summary":""} hope it helps`, []string{"a", "b"}},
		{"single translation key", `{"translation":"a"}`, []string{"a"}},
		{"string array", `Result: ["a","b"]`, []string{"a", "b"}},
		{"indexed items", `[{"index":1,"text":"a"},{"index":2,"text":"b"}]`, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := parseLenient(tt.content)
			require.True(t, ok)
			assert.Equal(t, tt.want, out.Translations)
		})
	}

	_, ok := parseLenient("just prose, no json")
	assert.False(t, ok)
}

func TestExtractJSONObject_BracesInStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":"}{\"x"}`, extractJSONObject(`noise {"a":"}{\"x"} tail`))
	assert.Empty(t, extractJSONObject(`{"unterminated": 1`))
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	assert.Equal(t, VerdictTranslated, parseVerdict(`{"verdict":"translated"}`))
	assert.Equal(t, VerdictNotTranslated, parseVerdict(`{"verdict":"not_translated"}`))
	assert.Equal(t, VerdictNotTranslated, parseVerdict("The text is NOT TRANSLATED."))
	assert.Equal(t, VerdictAmbiguous, parseVerdict("ambiguous"))
	assert.Equal(t, VerdictAmbiguous, parseVerdict("no idea"))
}
