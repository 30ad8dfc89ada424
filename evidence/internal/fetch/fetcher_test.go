package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/safeurl"
)

const articleHTML = `<html><head><title>Budget vote delayed</title></head>
<body><h1>Budget vote delayed</h1>
<p>The parliament postponed the vote on the annual budget until next week.</p>
</body></html>`

func newTestFetcher(cfg Config) *Fetcher {
	cfg.URLValidator = safeurl.AllowAll
	return New(cfg, nil)
}

func TestFetch_Success(t *testing.T) {
	// WHAT: A normal page yields a fetched document with title, body and site.
	// WHY: Core fetcher functionality.
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	doc, err := newTestFetcher(Config{}).Fetch(context.Background(), srv.URL+"/story")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Status != document.StatusFetched || !doc.OK() {
		t.Fatalf("status: got %v (%s)", doc.Status, doc.Reason)
	}
	if doc.Title != "Budget vote delayed" {
		t.Errorf("title: got %q", doc.Title)
	}
	if !strings.Contains(doc.Body, "postponed the vote") {
		t.Errorf("body: got %q", doc.Body)
	}
	if doc.Site != "127.0.0.1" {
		t.Errorf("site: got %q", doc.Site)
	}
	if doc.URL != srv.URL+"/story" {
		t.Errorf("url: got %q", doc.URL)
	}
	if gotUA != BrowserUserAgent {
		t.Errorf("user agent: got %q", gotUA)
	}
}

func TestFetch_AccessDeniedIsSoft(t *testing.T) {
	// WHAT: 401, 402 and 403 yield an empty blocked document, not an error.
	// WHY: Restricted pages must never abort the pipeline.
	for _, code := range []int{401, 402, 403} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte(articleHTML))
		}))

		doc, err := newTestFetcher(Config{}).Fetch(context.Background(), srv.URL)
		srv.Close()
		if err != nil {
			t.Fatalf("%d: unexpected error %v", code, err)
		}
		if doc.Status != document.StatusBlocked {
			t.Errorf("%d: status got %v, want blocked", code, doc.Status)
		}
		if doc.Title != "" || doc.Body != "" {
			t.Errorf("%d: title/body should be empty", code)
		}
	}
}

func TestFetch_OtherStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()

	doc, err := newTestFetcher(Config{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != document.StatusFailed || doc.Reason != "http 500" {
		t.Errorf("got %v %q", doc.Status, doc.Reason)
	}
}

func TestFetch_BlockPhrase(t *testing.T) {
	// WHAT: Login wall text in the leading characters marks the page blocked.
	// WHY: Paywall boilerplate must not reach correlation scoring.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Story</title></head><body>
<p>Please Sign In to continue reading this article.</p></body></html>`))
	}))
	defer srv.Close()

	doc, err := newTestFetcher(Config{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Status != document.StatusBlocked {
		t.Fatalf("status: got %v, want blocked", doc.Status)
	}
	if doc.Title != "" || doc.Body != "" {
		t.Error("blocked document must be empty")
	}
}

func TestFetch_BlockPhraseBeyondWindowIgnored(t *testing.T) {
	// WHAT: Block phrases deep in the page do not block it.
	// WHY: Real articles often end with "subscribe to our newsletter".
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Story</title></head><body><p>` +
			strings.Repeat("Genuine reporting about the event. ", 10) +
			`</p><p>Subscribe to our newsletter.</p></body></html>`))
	}))
	defer srv.Close()

	doc, err := newTestFetcher(Config{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Status != document.StatusFetched {
		t.Fatalf("status: got %v (%s), want fetched", doc.Status, doc.Reason)
	}
}

func TestFetch_TimeoutIsSoft(t *testing.T) {
	// WHAT: A slow server yields a failed document with reason timeout.
	// WHY: Fetch timeouts bound pipeline latency without raising.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	doc, err := newTestFetcher(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != document.StatusFailed || doc.Reason != "timeout" {
		t.Errorf("got %v %q, want failed timeout", doc.Status, doc.Reason)
	}
}

func TestFetch_NetworkErrorIsSoft(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	doc, err := newTestFetcher(Config{}).Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != document.StatusFailed {
		t.Errorf("status: got %v, want failed", doc.Status)
	}
}

func TestFetch_InvalidURLIsHardError(t *testing.T) {
	// WHAT: Malformed URLs are the only hard failure.
	// WHY: They indicate a programming error upstream.
	f := newTestFetcher(Config{})
	for _, u := range []string{"::not a url", "ftp://example.com/x", "http://"} {
		if _, err := f.Fetch(context.Background(), u); err == nil {
			t.Errorf("%q: expected error", u)
		}
	}
}

func TestFetch_SSRFBlocked(t *testing.T) {
	// WHAT: With the default validator, loopback URLs come back failed.
	// WHY: Search results must not steer the fetcher into the private network.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	doc, err := New(Config{}, nil).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != document.StatusFailed {
		t.Errorf("status: got %v, want failed", doc.Status)
	}
}

func TestFetch_Charset(t *testing.T) {
	// WHAT: Latin-1 pages are decoded before extraction.
	// WHY: Many regional news sites still serve legacy encodings.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.Write([]byte("<html><head><title>Caf\xe9</title></head><body><p>R\xe9sum\xe9 of the news</p></body></html>"))
	}))
	defer srv.Close()

	doc, err := newTestFetcher(Config{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Title != "Café" {
		t.Errorf("title: got %q, want %q", doc.Title, "Café")
	}
}
