// Package extract turns raw HTML into the plain-text record used as
// evidence: the page title, its visible text, and the registrable site.
//
// Two body modes are supported:
//   - full: every visible text node, in document order
//   - main: the densest content region (article, main, or the best scoring block)
//
// Whitespace runs, including those produced at block boundaries, are
// collapsed to single spaces in both modes.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/publicsuffix"
)

// Mode selects how the body text is collected.
type Mode string

const (
	ModeFull Mode = "full"
	ModeMain Mode = "main"
)

// Page is the output of extraction.
type Page struct {
	Title string
	Text  string
}

// Extract parses rawHTML and returns its title and body text.
func Extract(rawHTML []byte, mode Mode) (*Page, error) {
	return ExtractReader(bytes.NewReader(rawHTML), mode)
}

// ExtractReader is Extract over a reader, typically a charset-decoded
// response body.
func ExtractReader(r io.Reader, mode Mode) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("extract: parse HTML: %w", err)
	}
	p := &Page{Title: findTitle(doc)}
	switch mode {
	case ModeMain:
		p.Text = mainText(doc)
	case ModeFull, "":
		p.Text = visibleText(doc)
	default:
		return nil, fmt.Errorf("extract: unknown mode %q", mode)
	}
	return p, nil
}

// Collapse folds every whitespace run in s into one space and trims the ends.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Site returns the registrable domain (eTLD+1) of rawURL, lowercased.
// Hosts without a public suffix, such as IPs and localhost, are returned as is.
func Site(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}

func findTitle(doc *html.Node) string {
	var title string
	var f func(*html.Node) bool
	f = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			title = Collapse(sb.String())
			return true
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Svg {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if f(c) {
				return true
			}
		}
		return false
	}
	f(doc)
	return title
}

// skipped reports whether an element never contributes visible text.
func skipped(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg, atom.Iframe:
		return true
	}
	return false
}

// collectText gathers visible text under n, skipping elements for which
// skip returns true.
func collectText(n *html.Node, skip func(*html.Node) bool) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if skip(n) {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return Collapse(sb.String())
}

func visibleText(doc *html.Node) string {
	return collectText(doc, skipped)
}
