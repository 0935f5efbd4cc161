package termmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tm := TermMap{
		"Ishmael":     "Ismael",
		"Pequod":      "Pequod",
		"Queequeg":    "Quiekweg",
		"Starbuck":    "Starbuck",
		"White Whale": "Weißer Wal",
	}

	texts := []string{
		"Call me Ishmael.",
		"The [[i_1]]Pequod[[/i_1]] sailed at dawn.",
		"A damp, drizzly November in my soul.",
	}

	result := Match(tm, texts)

	assert.Len(t, result.Matched, 2)
	assert.Equal(t, "Ismael", result.Matched["Ishmael"])
	assert.Equal(t, "Pequod", result.Matched["Pequod"])
	_, hasStarbuck := result.Matched["Starbuck"]
	assert.False(t, hasStarbuck)
}

func TestMatch_EmptyInputs(t *testing.T) {
	assert.Empty(t, Match(TermMap{}, []string{"some text"}).Matched)
	assert.Empty(t, Match(TermMap{"hello": "hallo"}, nil).Matched)
	assert.Empty(t, Match(nil, []string{"hello"}).Matched)
}

func TestMatch_CaseSensitive(t *testing.T) {
	tm := TermMap{"Ahab": "Ahab"}

	assert.Empty(t, Match(tm, []string{"ahab is here"}).Matched)
	assert.Len(t, Match(tm, []string{"Ahab is here"}).Matched, 1)
}

func TestMatch_WordBoundary(t *testing.T) {
	tm := TermMap{"elf": "Elf"}

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"inside word", "She found herself alone.", false},
		{"standalone", "The elf cast a spell.", true},
		{"end of text", "She met an elf", true},
		{"start of text", "elf warriors attacked", true},
		{"punctuation", "(elf)", true},
		{"between markers", "[[em_1]]elf[[/em_1]]", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tm, []string{tt.text}).Matched
			if tt.want {
				assert.Len(t, got, 1)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestMatch_SecondOccurrenceCounts(t *testing.T) {
	tm := TermMap{"Dan": "Dan"}

	assert.Empty(t, Match(tm, []string{"DanDaDan is great"}).Matched)
	assert.Len(t, Match(tm, []string{"Danny met Dan"}).Matched, 1)
}

func TestMatch_CJKIsSubstring(t *testing.T) {
	tm := TermMap{"白鯨": "Moby Dick"}

	assert.Len(t, Match(tm, []string{"彼は白鯨を追った"}).Matched, 1)
}

func TestContainsWordFold(t *testing.T) {
	assert.True(t, ContainsWordFold("The Elf is here", "elf"))
	assert.True(t, ContainsWordFold("the elf is here", "Elf"))
	assert.False(t, ContainsWordFold("herself", "elf"))
	assert.False(t, ContainsWordFold("HERSELF", "elf"))
}
