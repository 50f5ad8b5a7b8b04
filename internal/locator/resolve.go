package locator

import (
	"errors"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"flowcraft/backend/internal/models"
)

var ErrNoMatch = errors.New("no element matches locator")

// Resolve finds the element a locator points at inside a parsed document.
// The XPath is tried first; otherwise every CSS match is scanned for text
// equal to ElementText. When firstMatch is set and the locator carries no
// text, the first CSS match wins.
func Resolve(doc *html.Node, loc models.Locator, firstMatch bool) (*html.Node, error) {
	if n := EvaluateXPath(doc, loc.XPath); n != nil {
		return n, nil
	}
	if loc.CSSSelector == "" {
		return nil, ErrNoMatch
	}
	sel := goquery.NewDocumentFromNode(doc).Find(loc.CSSSelector)
	if loc.ElementText != "" {
		var found *html.Node
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if TrimText(s.Text()) == loc.ElementText {
				found = s.Get(0)
				return false
			}
			return true
		})
		if found != nil {
			return found, nil
		}
		return nil, ErrNoMatch
	}
	if firstMatch && sel.Length() > 0 {
		return sel.Get(0), nil
	}
	return nil, ErrNoMatch
}

// EvaluateXPath evaluates the XPath subset produced by XPath: an optional
// id("...") or html/body head followed by tag[n] steps. Relative paths are
// evaluated against the document element.
func EvaluateXPath(doc *html.Node, path string) *html.Node {
	if doc == nil || path == "" {
		return nil
	}
	var cur *html.Node
	rest := path
	if strings.HasPrefix(path, `id("`) {
		end := strings.Index(path, `")`)
		if end < 0 {
			return nil
		}
		cur = findByID(doc, path[len(`id("`):end])
		rest = strings.TrimPrefix(path[end+2:], "/")
		if cur == nil {
			return nil
		}
	} else {
		root := documentElement(doc)
		if root == nil {
			return nil
		}
		head, tail, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
		switch head {
		case "html":
			cur = root
		default:
			cur = step(root, head)
		}
		rest = tail
		if cur == nil {
			return nil
		}
	}
	if rest == "" {
		return cur
	}
	for _, s := range strings.Split(rest, "/") {
		if cur = step(cur, s); cur == nil {
			return nil
		}
	}
	return cur
}

// step resolves one "tag[n]" (or bare "tag") location step.
func step(parent *html.Node, s string) *html.Node {
	tag, index := s, 1
	if open := strings.IndexByte(s, '['); open >= 0 && strings.HasSuffix(s, "]") {
		n, err := strconv.Atoi(s[open+1 : len(s)-1])
		if err != nil || n < 1 {
			return nil
		}
		tag, index = s[:open], n
	}
	seen := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && tagName(c) == tag {
			seen++
			if seen == index {
				return c
			}
		}
	}
	return nil
}

func documentElement(doc *html.Node) *html.Node {
	if doc.Type == html.ElementNode {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}
