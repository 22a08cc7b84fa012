package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
)

const (
	DefaultMaxWords = 4000
	maxBodyBytes    = 5 << 20
	minTextLength   = 100
	userAgent       = "Mozilla/5.0 (compatible; researchledger/1.0; +https://github.com/TobiSchelling/researchledger)"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindTimeout Kind = "timeout"
	KindTLS     Kind = "tls"
	KindHTTP    Kind = "http"
	KindNetwork Kind = "network"
	KindEmpty   Kind = "empty"
)

// Error is a failed fetch. All kinds are per-source failures.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("fetch %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher retrieves the readable text of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches pages over HTTP and extracts the main text with
// readability. Hosts that refuse access are skipped for the rest of the
// fetcher's lifetime.
type HTTPFetcher struct {
	MaxWords int
	client   *http.Client

	mu          sync.Mutex
	blockedHost map[string]int
}

// NewHTTPFetcher creates a new fetcher.
func NewHTTPFetcher(timeout time.Duration, maxWords int) *HTTPFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	return &HTTPFetcher{
		MaxWords: maxWords,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		blockedHost: make(map[string]int),
	}
}

// Fetch returns the extracted text of pageURL, capped at MaxWords words.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", &Error{Kind: KindNetwork, URL: pageURL, Err: err}
	}
	host := strings.ToLower(parsedURL.Host)
	if code, blocked := f.isBlocked(host); blocked {
		return "", &Error{Kind: KindHTTP, URL: pageURL, StatusCode: code}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", &Error{Kind: KindNetwork, URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &Error{Kind: classify(err), URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if refusesAccess(resp.StatusCode) {
			f.block(host, resp.StatusCode)
			zap.S().Infof("HTTP %d for %s, skipping remaining from %s", resp.StatusCode, pageURL, host)
		}
		return "", &Error{Kind: KindHTTP, URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &Error{Kind: classify(err), URL: pageURL, Err: err}
	}

	var text string
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		text = string(body)
	} else {
		article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
		if err != nil {
			return "", &Error{Kind: KindEmpty, URL: pageURL, Err: err}
		}
		text = article.TextContent
	}

	text = strings.TrimSpace(text)
	if len(text) <= minTextLength {
		return "", &Error{Kind: KindEmpty, URL: pageURL, Err: errors.New("no extractable content")}
	}
	return CapWords(text, f.MaxWords), nil
}

func (f *HTTPFetcher) isBlocked(host string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.blockedHost[host]
	return code, ok
}

func (f *HTTPFetcher) block(host string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockedHost[host] = code
}

func refusesAccess(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusTooManyRequests
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var (
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		recordErr   tls.RecordHeaderError
	)
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) || errors.As(err, &recordErr) {
		return KindTLS
	}
	return KindNetwork
}

// CapWords truncates text after max words, keeping the original spacing of
// the kept part.
func CapWords(text string, max int) string {
	if max <= 0 {
		return text
	}
	words := 0
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			inWord = true
			words++
			if words > max {
				return strings.TrimSpace(text[:i]) + "..."
			}
		}
	}
	return text
}
