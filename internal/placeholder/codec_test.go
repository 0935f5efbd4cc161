package placeholder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtect_AssignsSequentialTokens(t *testing.T) {
	protected, m := Protect(`<p class="x">Hello <b>world</b></p>`)

	assert.Equal(t, "[[0]]Hello [[1]]world[[2]][[3]]", protected)
	assert.Equal(t, Map{
		0: `<p class="x">`,
		1: "<b>",
		2: "</b>",
		3: "</p>",
	}, m)
}

func TestProtect_IdenticalTagsGetOwnTokens(t *testing.T) {
	protected, m := Protect("<i>a</i> and <i>b</i>")

	assert.Equal(t, "[[0]]a[[1]] and [[2]]b[[3]]", protected)
	assert.Equal(t, "<i>", m[0])
	assert.Equal(t, "<i>", m[2])
}

func TestRestore_DescendingAvoidsPrefixClash(t *testing.T) {
	markup := ""
	for i := 0; i < 12; i++ {
		markup += "<span>x</span>"
	}
	protected, m := Protect(markup)
	require.Len(t, m, 24)
	assert.Contains(t, protected, "[[10]]")

	assert.Equal(t, markup, Restore(protected, m))
}

func TestRestore_Empty(t *testing.T) {
	assert.Equal(t, "", Restore("", Map{0: "<p>"}))
	assert.Equal(t, "", Restore("", nil))
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"plain text only",
		`<p>Call me <em>Ishmael</em>.</p>`,
		`<p>a<br/>b<br />c</p>`,
		`<div><p>one</p><p>two</p></div>`,
		`<p>x &amp; y <a href="n.xhtml#f1" epub:type="noteref">1</a></p>`,
		`<p><!-- note --><span>Ünïcödé 漢字</span></p>`,
		`<td>5 &lt; 6</td>`,
	}
	for _, in := range inputs {
		protected, m := Protect(in)
		assert.Equal(t, in, Restore(protected, m), in)
	}
}
