package locator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"flowcraft/backend/internal/models"
)

func parse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

// marked finds the element carrying data-k=key.
func marked(t *testing.T, doc *html.Node, key string) *html.Node {
	t.Helper()
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && attr(n, "data-k") == key {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	require.NotNil(t, found, "no element marked %q", key)
	return found
}

func TestXPath(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<html><body data-k="body">
		<div></div>
		<div><span></span><span data-k="span"></span></div>
		<section id="app"><p></p><p data-k="p">x</p></section>
		<button id="go" data-k="go">Go</button>
	</body></html>`)

	tests := []struct {
		key  string
		want string
	}{
		{"body", "body"},
		{"span", "body/div[2]/span[2]"},
		{"p", `id("app")/p[2]`},
		{"go", `id("go")`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, XPath(marked(t, doc, tt.key)), tt.key)
	}
	assert.Equal(t, "", XPath(nil))
}

func TestXPathDetachedElement(t *testing.T) {
	t.Parallel()
	n := &html.Node{Type: html.ElementNode, Data: "div"}
	assert.Equal(t, "div", XPath(n))
}

func TestCSSSelector(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<body>
		<input data-k="q" class="btn primary 1bad" name="q" type="text" placeholder="Search here"
			data-testid="search" onclick="steal()" aria-invalid="false" required>
		<a data-k="a" title='say "hi"' href="/x">hi</a>
	</body>`)

	assert.Equal(t,
		`input.btn.primary[name="q"][type="text"][placeholder*="Search here"][data-testid="search"][aria-invalid="false"][required]`,
		CSSSelector(marked(t, doc, "q"), ""))
	assert.Equal(t, `a[title*="say \"hi\""][href="/x"]`, CSSSelector(marked(t, doc, "a"), ""))
}

func TestEscapeIdent(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `\31 a`, EscapeIdent("1a"))
	assert.Equal(t, `-\31 `, EscapeIdent("-1"))
	assert.Equal(t, `\-`, EscapeIdent("-"))
	assert.Equal(t, `a\.b`, EscapeIdent("a.b"))
	assert.Equal(t, "héllo_-", EscapeIdent("héllo_-"))
}

func TestTrimText(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("é", MaxTextLen+20)
	assert.Equal(t, []rune(long)[:MaxTextLen], []rune(TrimText("  "+long)))
	assert.Equal(t, "ok", TrimText("\n ok \t"))
}

func TestResolveRoundTrip(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<body><ul><li>one</li><li data-k="two">two</li></ul><form id="f"><input data-k="in" name="q"></form></body>`)

	for _, key := range []string{"two", "in"} {
		n := marked(t, doc, key)
		got, err := Resolve(doc, Describe(n), false)
		require.NoError(t, err)
		assert.Same(t, n, got)
	}
}

func TestResolveFallsBackToTextMatch(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<body><button class="b">Cancel</button><button class="b" data-k="ok">OK</button></body>`)

	got, err := Resolve(doc, models.Locator{
		XPath:       "body/div[9]",
		CSSSelector: "button.b",
		ElementText: "OK",
	}, false)
	require.NoError(t, err)
	assert.Same(t, marked(t, doc, "ok"), got)

	_, err = Resolve(doc, models.Locator{XPath: "body/div[9]", CSSSelector: "button.b"}, false)
	assert.ErrorIs(t, err, ErrNoMatch)

	got, err = Resolve(doc, models.Locator{XPath: "body/div[9]", CSSSelector: "button.b"}, true)
	require.NoError(t, err)
	assert.Equal(t, "Cancel", Text(got))
}

func TestEvaluateXPathRejectsGarbage(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<body><div></div></body>`)
	assert.Nil(t, EvaluateXPath(doc, `id("missing")`))
	assert.Nil(t, EvaluateXPath(doc, "body/div[x]"))
	assert.Nil(t, EvaluateXPath(doc, "body/div[0]"))
	assert.NotNil(t, EvaluateXPath(doc, "body/div[1]"))
	assert.NotNil(t, EvaluateXPath(doc, "/html/body"))
}
