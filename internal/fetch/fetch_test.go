package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const articleHTML = `<!DOCTYPE html><html><head><title>Platform report</title></head><body>
<nav>Home | About</nav>
<article>
<h1>Platform report</h1>
<p>The leading gig platform reported 4.2 million monthly active users in 2024, up 18% from the previous year according to its annual filing.</p>
<p>Its closest competitor held roughly 31% of listings during the same period, while smaller regional services shared the remainder.</p>
<p>Survey data collected in the third quarter showed that 62% of workers used more than one platform each month to find shifts.</p>
<p>Average hourly pay advertised on the leading service rose to $14.80, compared with $13.90 a year earlier across all listed categories.</p>
<p>Analysts expect consolidation to continue as advertising costs rise and platforms compete for the same pool of part-time workers.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestFetchExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.UserAgent(), "Mozilla") {
			t.Errorf("expected browser-like user agent, got %q", r.UserAgent())
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, 0)
	text, err := f.Fetch(context.Background(), srv.URL+"/news/report")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "4.2 million monthly active users") {
		t.Errorf("expected article text, got %q", text)
	}
}

func TestFetchPlainText(t *testing.T) {
	body := strings.Repeat("plain words here ", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	text, err := NewHTTPFetcher(0, 0).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != strings.TrimSpace(body) {
		t.Errorf("unexpected text %q", text)
	}
}

func TestFetchHTTPErrorBlocksHost(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no bots", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0, 0)
	for _, path := range []string{"/a", "/b"} {
		_, err := f.Fetch(context.Background(), srv.URL+path)
		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != KindHTTP || fe.StatusCode != http.StatusForbidden {
			t.Fatalf("expected HTTP 403 error, got %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected blocked host to be skipped, got %d calls", calls)
	}
}

func TestFetchNotFoundDoesNotBlock(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0, 0)
	f.Fetch(context.Background(), srv.URL+"/a")
	f.Fetch(context.Background(), srv.URL+"/b")
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPFetcher(0, 0).Fetch(ctx, srv.URL)
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindTimeout {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestFetchTLSFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := NewHTTPFetcher(0, 0).Fetch(context.Background(), srv.URL)
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindTLS {
		t.Errorf("expected tls error, got %v", err)
	}
}

func TestFetchEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("tiny"))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(0, 0).Fetch(context.Background(), srv.URL)
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindEmpty {
		t.Errorf("expected empty error, got %v", err)
	}
}

func TestCapWords(t *testing.T) {
	if got := CapWords("one two\n\nthree four", 3); got != "one two\n\nthree..." {
		t.Errorf("unexpected %q", got)
	}
	if got := CapWords("short text", 5); got != "short text" {
		t.Errorf("unexpected %q", got)
	}
}
