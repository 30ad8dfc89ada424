package extract

import (
	"strings"
	"testing"
)

var testHTML = []byte(`<!DOCTYPE html>
<html>
<head><title>  Test
  Page </title><style>body{color:red}</style></head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<main>
<article>
<h1>Important Article</h1>
<p>This is the main content of the article. It contains important information
that should be extracted by the content extraction engine.</p>
<p>Second paragraph with more relevant content about the topic being discussed.</p>
</article>
</main>
<script>var tracking = "should not appear";</script>
<aside>
<div class="sidebar">Related links and advertisements</div>
</aside>
<footer>Copyright 2024</footer>
</body>
</html>`)

func TestExtract_Full(t *testing.T) {
	// WHAT: Full mode returns the title and every visible text node.
	// WHY: Default evidence body is the page's whole visible text.
	page, err := Extract(testHTML, ModeFull)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if page.Title != "Test Page" {
		t.Errorf("title: got %q, want %q", page.Title, "Test Page")
	}
	for _, want := range []string{"Home About", "Important Article", "main content", "Copyright 2024"} {
		if !strings.Contains(page.Text, want) {
			t.Errorf("text should contain %q, got: %s", want, page.Text)
		}
	}
	for _, unwanted := range []string{"tracking", "color:red", "Test Page"} {
		if strings.Contains(page.Text, unwanted) {
			t.Errorf("text should not contain %q", unwanted)
		}
	}
	if strings.Contains(page.Text, "\n") || strings.Contains(page.Text, "  ") {
		t.Errorf("separators should be collapsed: %q", page.Text)
	}
}

func TestExtract_Main(t *testing.T) {
	// WHAT: Main mode keeps the article and drops chrome.
	// WHY: Optional denser body for noisy pages.
	page, err := Extract(testHTML, ModeMain)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(page.Text, "Important Article") {
		t.Errorf("main text should contain article, got: %s", page.Text)
	}
	for _, unwanted := range []string{"Copyright", "advertisements", "About"} {
		if strings.Contains(page.Text, unwanted) {
			t.Errorf("main text should not contain %q: %s", unwanted, page.Text)
		}
	}
}

func TestExtract_MainFallsBackToDensity(t *testing.T) {
	// WHAT: Without landmarks, the densest block is selected.
	// WHY: Many news sites use plain divs.
	doc := []byte(`<html><body>
<div class="menu"><a href="/a">A</a><a href="/b">B</a><a href="/c">C</a></div>
<div id="story"><p>` + strings.Repeat("Evidence sentence about the claim. ", 10) + `</p></div>
</body></html>`)
	page, err := Extract(doc, ModeMain)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.HasPrefix(page.Text, "Evidence sentence") {
		t.Errorf("expected story text first, got: %s", page.Text)
	}
}

func TestExtract_NoTitle(t *testing.T) {
	page, err := Extract([]byte(`<html><body><p>hello</p></body></html>`), ModeFull)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if page.Title != "" {
		t.Errorf("title: got %q, want empty", page.Title)
	}
	if page.Text != "hello" {
		t.Errorf("text: got %q", page.Text)
	}
}

func TestExtract_UnknownMode(t *testing.T) {
	if _, err := Extract(testHTML, Mode("xpath")); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestSite(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"https://www.bbc.co.uk/news/world-123", "bbc.co.uk"},
		{"https://edition.CNN.com/2024/story", "cnn.com"},
		{"http://reuters.com:8080/x", "reuters.com"},
		{"http://127.0.0.1:9000/page", "127.0.0.1"},
		{"not a url\x7f", ""},
	}
	for _, tt := range tests {
		if got := Site(tt.url); got != tt.want {
			t.Errorf("Site(%q): got %q, want %q", tt.url, got, tt.want)
		}
	}
}
