package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// minBlockLen is the shortest text a block needs to be a main-content candidate.
const minBlockLen = 50

// mainText returns the text of the page's main content region. Semantic
// landmarks win; otherwise the block with the best text-to-markup density
// is chosen. Falls back to the boilerplate-free body text.
func mainText(doc *html.Node) string {
	if text := landmarkText(doc); len(text) >= minBlockLen {
		return text
	}
	body := findBody(doc)
	if body == nil {
		body = doc
	}
	if best := densestNode(body); best != nil {
		return collectText(best, skipped)
	}
	return collectText(body, func(n *html.Node) bool {
		return skipped(n) || isBoilerplate(n)
	})
}

// landmarkText joins the text of <main>, <article> and role=main regions.
func landmarkText(doc *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped(n) || isBoilerplate(n) {
				return
			}
			if n.DataAtom == atom.Main || n.DataAtom == atom.Article || attr(n, "role") == "main" {
				if text := collectText(n, skipped); len(text) >= minBlockLen {
					parts = append(parts, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, " ")
}

// densestNode scores content blocks by density * log-ish length * (1 - link density).
func densestNode(root *html.Node) *html.Node {
	var best *html.Node
	var bestScore float64

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || skipped(n) || isBoilerplate(n) {
			return
		}
		if isContentTag(n.DataAtom) {
			text := collectText(n, skipped)
			if len(text) >= minBlockLen {
				var buf bytes.Buffer
				html.Render(&buf, n)
				markup := buf.Len()
				if markup == 0 {
					markup = 1
				}
				linkDens := float64(len(linkText(n))) / float64(len(text))
				if linkDens <= 0.5 {
					score := float64(len(text)) / float64(markup) * logScale(len(text)) * (1 - linkDens)
					if score > bestScore {
						bestScore = score
						best = n
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return best
}

func logScale(n int) float64 {
	scale := 1.0
	for v := n; v > 100; v /= 2 {
		scale++
	}
	return scale
}

func linkText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node, bool)
	f = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c, inLink)
		}
	}
	f(n, false)
	return sb.String()
}

func findBody(doc *html.Node) *html.Node {
	if doc.Type == html.ElementNode && doc.DataAtom == atom.Body {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div,
		atom.Blockquote, atom.Pre, atom.Table, atom.Td, atom.Figure:
		return true
	}
	return false
}

// isBoilerplate flags navigation, footers, sidebars and similar chrome.
func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside, atom.Form:
		return true
	}
	switch attr(n, "role") {
	case "navigation", "banner", "contentinfo", "complementary":
		return true
	}
	for _, key := range []string{"class", "id"} {
		v := strings.ToLower(attr(n, key))
		if v == "" {
			continue
		}
		for _, pattern := range boilerplatePatterns {
			if strings.Contains(v, pattern) {
				return true
			}
		}
	}
	return false
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "header", "nav", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "comment",
	"related", "widget", "popup", "modal", "newsletter", "paywall",
}
