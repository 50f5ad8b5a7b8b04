// Package locator builds and resolves element locators: a structural XPath
// and an attribute-based CSS selector.
//
// The browser-side builder lives in locator.js and is injected into every
// page; the functions here mirror it over parsed HTML so locators can be
// computed and checked without a browser.
package locator

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"flowcraft/backend/internal/models"
)

//go:embed locator.js
var Script string

// MaxTextLen caps element text used for matching.
const MaxTextLen = 200

// SafeAttributes are the attributes allowed into a CSS selector, besides
// any aria-* attribute.
var SafeAttributes = map[string]bool{
	"id":               true,
	"name":             true,
	"type":             true,
	"placeholder":      true,
	"aria-label":       true,
	"aria-labelledby":  true,
	"aria-describedby": true,
	"role":             true,
	"for":              true,
	"autocomplete":     true,
	"required":         true,
	"readonly":         true,
	"alt":              true,
	"title":            true,
	"src":              true,
	"href":             true,
	"target":           true,
	"data-id":          true,
	"data-qa":          true,
	"data-cy":          true,
	"data-testid":      true,
}

var (
	classPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	looseValue   = regexp.MustCompile("[\"'<>`\\s]")
)

func isSafeAttribute(name string) bool {
	return SafeAttributes[name] || strings.HasPrefix(name, "aria-")
}

// XPath returns id("x") for elements with an id, the bare tag for html and
// body, and parent/tag[n] otherwise.
func XPath(n *html.Node) (path string) {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			path = tagName(n)
		}
	}()
	if id := attr(n, "id"); id != "" {
		return fmt.Sprintf(`id("%s")`, id)
	}
	tag := tagName(n)
	if tag == "html" || tag == "body" {
		return tag
	}
	parent := n.Parent
	if parent == nil || parent.Type != html.ElementNode {
		return tag
	}
	ix := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c == n {
			return XPath(parent) + "/" + tag + "[" + strconv.Itoa(ix+1) + "]"
		}
		if c.Type == html.ElementNode && tagName(c) == tag {
			ix++
		}
	}
	return tag
}

// CSSSelector returns tag.class[attr="v"]..., falling back to
// tag[xpath="..."] if the element cannot be described.
func CSSSelector(n *html.Node, xpath string) (selector string) {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			selector = fallbackSelector(n, xpath)
		}
	}()

	var b strings.Builder
	b.WriteString(tagName(n))
	for _, class := range strings.Fields(attr(n, "class")) {
		if classPattern.MatchString(class) {
			b.WriteByte('.')
			b.WriteString(EscapeIdent(class))
		}
	}
	for _, a := range n.Attr {
		name := a.Key
		if name == "class" || strings.TrimSpace(name) == "" || !isSafeAttribute(name) {
			continue
		}
		safeName := EscapeIdent(name)
		switch {
		case a.Val == "":
			fmt.Fprintf(&b, "[%s]", safeName)
		case looseValue.MatchString(a.Val):
			fmt.Fprintf(&b, `[%s*="%s"]`, safeName, escapeValue(a.Val))
		default:
			fmt.Fprintf(&b, `[%s="%s"]`, safeName, escapeValue(a.Val))
		}
	}
	return b.String()
}

// Describe builds the full locator of an element.
func Describe(n *html.Node) models.Locator {
	path := XPath(n)
	return models.Locator{
		XPath:       path,
		CSSSelector: CSSSelector(n, path),
		ElementTag:  strings.ToUpper(tagName(n)),
		ElementText: Text(n),
	}
}

// Text returns the trimmed text content of n capped at MaxTextLen runes.
func Text(n *html.Node) string {
	var b strings.Builder
	collectText(n, &b)
	return TrimText(b.String())
}

// TrimText trims s and caps it at MaxTextLen runes.
func TrimText(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxTextLen {
		return s
	}
	return string([]rune(s)[:MaxTextLen])
}

func collectText(n *html.Node, b *strings.Builder) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func fallbackSelector(n *html.Node, xpath string) string {
	return fmt.Sprintf(`%s[xpath="%s"]`, tagName(n), escapeValue(xpath))
}

// EscapeIdent escapes s for use as a CSS identifier, following CSS.escape.
func EscapeIdent(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func tagName(n *html.Node) string {
	return strings.ToLower(n.Data)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
