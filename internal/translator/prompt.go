package translator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/contextual-book-translator/internal/termmap"
)

// buildSystemPrompt builds the system prompt for translation
func buildSystemPrompt(req Request) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional literary translator. Translate book passages from " + req.SourceLang + " to " + req.TargetLang + ".\n\n")

	prompt.WriteString("=== TAG RULES ===\n")
	prompt.WriteString("1. Text contains structural tags like [[p_1]]...[[/p_1]] and self-closing tags like [[br_1/]].\n")
	prompt.WriteString("2. Copy every tag exactly once, unchanged, with two square brackets on each side.\n")
	prompt.WriteString("3. Keep the tag nesting of the input. Translate only the text between tags.\n")
	prompt.WriteString("4. Do NOT add tags that are not in the input.\n")

	if matched := termmap.Match(req.Glossary, req.Texts).Matched; len(matched) > 0 {
		prompt.WriteString("\n=== TERM MAPPINGS ===\n")
		prompt.WriteString("You MUST use the mapped target term exactly:\n")
		keys := make([]string, 0, len(matched))
		for k := range matched {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			prompt.WriteString(fmt.Sprintf("- %s => %s\n", k, matched[k]))
		}
	}

	if req.Context != "" {
		prompt.WriteString("\n=== STORY SO FAR ===\n")
		prompt.WriteString(req.Context + "\n")
	}

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Input is JSON with indexed items. Return ONLY a JSON object:\n")
	prompt.WriteString(`{"translations": ["<item 1>", "<item 2>"], "context_summary": "<two sentences on who and what the passage is about>"}` + "\n")
	prompt.WriteString("The translations array must have exactly one string per input item, in input order.\n")
	prompt.WriteString("Do not include any explanations, notes, or additional text.\n")

	return prompt.String()
}

func buildCorrectionMessage(problems []string) string {
	var b strings.Builder
	b.WriteString("Your previous answer is invalid:\n")
	for _, p := range problems {
		b.WriteString("- " + p + "\n")
	}
	b.WriteString("Return the corrected JSON object only. Every listed tag must appear exactly as written.")
	return b.String()
}

func buildClassifyPrompt(targetLang string) string {
	return "You check machine translation output. Decide whether TRANSLATION is a real translation of SOURCE into " + targetLang + ".\n" +
		"Answer translated when it is, not_translated when it is the source text copied or left in the source language, " +
		"and ambiguous when you cannot tell (names, numbers, very short text).\n" +
		`Return ONLY a JSON object: {"verdict": "translated" | "not_translated" | "ambiguous"}`
}

func buildClassifyMessage(source, translated string) string {
	return "SOURCE:\n" + source + "\n\nTRANSLATION:\n" + translated
}
