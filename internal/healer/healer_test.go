package healer

import (
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeal_MissingBracketOnOpener(t *testing.T) {
	out, err := Heal("[[p_1]]Text[[/p_1]]", "[[p_1]Ann[[/p_1]]")

	require.NoError(t, err)
	assert.Equal(t, "[[p_1]]Ann[[/p_1]]", out)
}

func TestHeal_SourceWhitespaceWins(t *testing.T) {
	source := "[[div_1]]\n  [[p_1]]Hello[[/p_1]]\n[[/div_1]]"

	out, err := Heal(source, "[[div_1]] [[p_1]]Hi[[/p_1]] [[/div_1]]")

	require.NoError(t, err)
	assert.Equal(t, "[[div_1]]\n  [[p_1]]Hi[[/p_1]]\n[[/div_1]]", out)
}

func TestHeal_NoTagsForgesSkeleton(t *testing.T) {
	out, err := Heal("[[p_1]]A[[/p_1]]", "No tags here")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHealingFailed)
	assert.Equal(t, "[[p_1]][[/p_1]]", out)

	var he *HealingError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, []string{"p_1"}, he.Forged)
}

func TestHeal_Identity(t *testing.T) {
	sources := []string{
		"",
		"plain",
		"[[p_1]]Hello[[/p_1]]",
		"[[p_1]]A [[b_1]]bold[[/b_1]] and [[i_1]]it[[/i_1]].[[br_1/]]tail[[/p_1]]",
		"[[div_1]]\n\t[[p_1]]one[[/p_1]]\n\t[[p_2]]two[[/p_2]]\n[[/div_1]]",
		"  lead [[span_1]]x[[/span_1]] trail  ",
		"[[p_1]]literal [[ stays[[/p_1]]",
		"[[p_1]]escaped [[[[/p_1]]",
	}
	for _, src := range sources {
		out, err := Heal(src, src)
		require.NoError(t, err, src)
		assert.Equal(t, src, out, src)
	}
}

func TestHeal_FuzzyVariants(t *testing.T) {
	source := "[[p_1]]Hello [[b_1]]world[[/b_1]][[/p_1]]"
	variants := []string{
		"[p_1]Bonjour [[b_1]]monde[[/b_1]][[/p_1]]",
		"[[ p_1 ]]Bonjour [[b_1]]monde[[ / b_1 ]][[/p_1]]",
		"[[[p_1]]]Bonjour [b_1]]monde[[/b_1]][[/p_1]",
	}
	for _, tr := range variants {
		out, err := Heal(source, tr)
		require.NoError(t, err, tr)
		assert.Equal(t, "[[p_1]]Bonjour [[b_1]]monde[[/b_1]][[/p_1]]", out, tr)
	}
}

func TestHeal_StrictToleranceRejectsSingleBracket(t *testing.T) {
	h := New(StrictTolerance())

	out, err := h.Heal("[[p_1]]Text[[/p_1]]", "[p_1]Ann[/p_1]")

	assert.ErrorIs(t, err, ErrHealingFailed)
	assert.Equal(t, "[[p_1]][[/p_1]]", out)
}

func TestHeal_ForgesMissingCloser(t *testing.T) {
	source := "[[p_1]]one[[/p_1]][[p_2]]two[[/p_2]]"

	out, err := Heal(source, "[[p_1]]uno [[p_2]]dos[[/p_2]]")

	require.ErrorIs(t, err, ErrHealingFailed)
	assert.Equal(t, "[[p_1]]uno[[/p_1]][[p_2]]dos[[/p_2]]", out)
	var he *HealingError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, []string{"/p_1"}, he.Forged)
}

func TestHeal_CloserWithoutOpenerKeepsInterior(t *testing.T) {
	out, err := Heal("[[p_1]]Text[[/p_1]]", "Ann[[/p_1]]")

	require.ErrorIs(t, err, ErrHealingFailed)
	assert.Equal(t, "[[p_1]]Ann[[/p_1]]", out)
}

func TestHeal_MissingSelfClosingIsForged(t *testing.T) {
	out, err := Heal("[[p_1]]a[[br_1/]]b[[/p_1]]", "[[p_1]]x y[[/p_1]]")

	require.ErrorIs(t, err, ErrHealingFailed)
	assert.Equal(t, "[[p_1]][[br_1/]]x y[[/p_1]]", out)
}

func TestHeal_CollapsesDuplicateMarkers(t *testing.T) {
	out, err := Heal("[[p_1]]Hello[[/p_1]] end", "[[p_1]]Hallo[[/p_1]][[/p_1]] Ende")

	require.NoError(t, err)
	assert.Equal(t, "[[p_1]]Hallo[[/p_1]] Ende", out)
}

func TestHeal_StripsTrailingGarbageWithoutAnchor(t *testing.T) {
	out, err := Heal("[[p_1]]Hello[[/p_1]]", "[[p_1]]Bonjour [[/p_1")

	require.ErrorIs(t, err, ErrHealingFailed)
	assert.Equal(t, "[[p_1]]Bonjour[[/p_1]]", out)
}

func TestHeal_KeepsAnchoredBracketText(t *testing.T) {
	out, err := Heal("[[p_1]]escaped [[[[/p_1]]", "[[p_1]]échappé [[[[/p_1]]")

	require.NoError(t, err)
	assert.Equal(t, "[[p_1]]échappé [[[[/p_1]]", out)
}

func TestHeal_StrayStructuralMarkersDropped(t *testing.T) {
	source := "[[a_1]]x[[/a_1]][[b_1]]y[[/b_1]]"

	out, err := Heal(source, "[[b_1]]Y[[/b_1]][[a_1]]X[[/a_1]]")

	require.ErrorIs(t, err, ErrHealingFailed)
	assert.Equal(t, "Y[[a_1]]X[[/a_1]][[b_1]][[/b_1]]", out)
}

func TestHeal_NestedSkeletonKeepsAllTags(t *testing.T) {
	source := "[[p_1]]A [[b_1]]B[[/b_1]][[br_1/]][[/p_1]]"

	out, err := Heal(source, "nothing useful")

	require.ErrorIs(t, err, ErrHealingFailed)
	assert.Equal(t, "[[p_1]][[b_1]][[/b_1]][[br_1/]][[/p_1]]", out)
}

var markerRe = regexp.MustCompile(`\[\[/?[a-z][a-z0-9_]*/?\]\]`)

func markerSet(s string) []string {
	set := markerRe.FindAllString(s, -1)
	sort.Strings(set)
	return set
}

func TestHeal_TagPreservation(t *testing.T) {
	source := "[[div_1]]\n [[p_1]]one [[em_1]]two[[/em_1]][[/p_1]]\n [[p_2]]three[[img_1/]][[/p_2]]\n[[/div_1]]"
	inputs := []string{
		"",
		"garbage",
		"[[p_2]]drei[[/p_2]]",
		"[[div_1]][[p_1]]eins[[/p_1]]",
		"[[/div_1]][[/div_1]][[em_1]]",
		source,
	}
	want := markerSet(source)
	for _, tr := range inputs {
		out, _ := Heal(source, tr)
		got := markerSet(out)
		for _, m := range want {
			assert.Contains(t, got, m, "input %q output %q", tr, out)
		}
	}
}

func TestHeal_WhitespaceBetweenTagsFollowsSource(t *testing.T) {
	source := "[[ul_1]]\n    [[li_1]]a[[/li_1]]\n    [[li_2]]b[[/li_2]]\n[[/ul_1]]"
	translated := "[[ul_1]][[li_1]]A[[/li_1]]\t\t  [[li_2]]B[[/li_2]]     [[/ul_1]]"

	out, err := Heal(source, translated)

	require.NoError(t, err)
	assert.Equal(t, "[[ul_1]]\n    [[li_1]]A[[/li_1]]\n    [[li_2]]B[[/li_2]]\n[[/ul_1]]", out)
	assert.Equal(t, strings.Count(source, "\n"), strings.Count(out, "\n"))
}

func TestHeal_FlatSource(t *testing.T) {
	out, err := Heal("  Hello world\n", "Hallo Welt")
	require.NoError(t, err)
	assert.Equal(t, "  Hallo Welt\n", out)
}
