package permission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/factcheck/safeurl"
)

func newTestGate(timeout time.Duration) *Gate {
	return New(Config{Timeout: timeout, URLValidator: safeurl.AllowAll}, nil)
}

func TestAllowed_RespectsDisallow(t *testing.T) {
	// WHAT: A Disallow rule for * blocks matching paths only.
	// WHY: Crawl policy must not be violated.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	g := newTestGate(time.Second)
	ctx := context.Background()
	if g.Allowed(ctx, srv.URL+"/private/page") {
		t.Error("/private/page should be disallowed")
	}
	if !g.Allowed(ctx, srv.URL+"/news/story") {
		t.Error("/news/story should be allowed")
	}
}

func TestAllowed_FailOpenOn404(t *testing.T) {
	// WHAT: Missing robots.txt means allowed.
	// WHY: Absence of a policy must not block retrieval.
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if !newTestGate(time.Second).Allowed(context.Background(), srv.URL+"/article") {
		t.Error("404 robots.txt should be fail-open")
	}
}

func TestAllowed_FailOpenOnTimeout(t *testing.T) {
	// WHAT: A robots.txt that times out means allowed.
	// WHY: Slow policy servers must not block retrieval.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	if !newTestGate(50*time.Millisecond).Allowed(context.Background(), srv.URL+"/article") {
		t.Error("timed out robots.txt should be fail-open")
	}
}

func TestAllowed_FailOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if !newTestGate(time.Second).Allowed(context.Background(), srv.URL+"/article") {
		t.Error("5xx robots.txt should be fail-open")
	}
}

func TestAllowed_FailOpenOnUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if !newTestGate(time.Second).Allowed(context.Background(), url+"/article") {
		t.Error("unreachable host should be fail-open")
	}
}

func TestSession_FetchesOncePerOrigin(t *testing.T) {
	// WHAT: A session fetches robots.txt once per origin, even concurrently.
	// WHY: One policy lookup per domain per run.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			w.Write([]byte("User-agent: *\nDisallow: /x\n"))
		}
	}))
	defer srv.Close()

	s := newTestGate(time.Second).Session()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Allowed(context.Background(), srv.URL+"/a")
		}()
	}
	wg.Wait()
	s.Allowed(context.Background(), srv.URL+"/b")

	if n := hits.Load(); n != 1 {
		t.Errorf("robots fetches: got %d, want 1", n)
	}
}
