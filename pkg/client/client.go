// Package client is the HTTP transport shared by every resolver: default headers,
// transparent br/gzip/deflate decoding, bounded retries on 5xx and context-aware
// cancellation.
package client

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/logger"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3

	userAgentValue   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	acceptEncoding   = "gzip, deflate, br"
	initialBackoff   = 200 * time.Millisecond
	maxBackoff       = 3 * time.Second
	maxBodyBytes     = 16 << 20
	successMinCode   = http.StatusOK                  // 200
	successMaxCode   = http.StatusMultipleChoices     // 300
	retryableMinCode = http.StatusInternalServerError // 500
)

// defaultTransport is a tuned HTTP transport reused across clients.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 10 * time.Second,
	ForceAttemptHTTP2:     true,
	// Decoding happens in readBody so that br is covered too.
	DisableCompression: true,
	ReadBufferSize:     16 * 1024,
	WriteBufferSize:    16 * 1024,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Config holds optional client parameters. Zero values use defaults.
type Config struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
	ProxyURL  string
}

// Client wraps http.Client with retry/backoff and default headers.
type Client struct {
	HTTPClient *http.Client
	Retries    int
	UserAgent  string
	// Backoff is the first wait between 5xx retries. It doubles up to a cap.
	Backoff time.Duration
}

// New creates a new Client with a tuned Transport, default timeout, and retries.
func New() *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: defaultTransport,
			Jar:       newJar(),
		},
		Retries:   defaultRetries,
		UserAgent: userAgentValue,
		Backoff:   initialBackoff,
	}
}

// NewWith creates a new client with provided config. Zero values use defaults.
func NewWith(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = userAgentValue
	}

	tr := defaultTransport.Clone()
	if cfg.ProxyURL != "" {
		if proxyFunc, err := proxyFromURLString(cfg.ProxyURL); err == nil {
			tr.Proxy = proxyFunc
		} else {
			logger.WithComponent(logger.ComponentClient).Warn("ignoring invalid proxy url", map[string]interface{}{
				"proxy": cfg.ProxyURL,
				"error": err,
			})
		}
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: tr,
			Jar:       newJar(),
		},
		Retries:   retries,
		UserAgent: ua,
		Backoff:   initialBackoff,
	}
}

// newJar keeps cookies between requests of one client. Ajax endpoints tie their
// nonces to the session cookie set by the first call.
func newJar() http.CookieJar {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil
	}
	return jar
}

// Wrap adapts a caller supplied http.Client, keeping the default retries and agent.
func Wrap(hc *http.Client) *Client {
	c := New()
	if hc != nil {
		c.HTTPClient = hc
	}
	return c
}

// Get fetches rawURL and returns the decoded body. Non-2xx answers are *errs.StatusError.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.fetch(ctx, http.MethodGet, rawURL, nil, header)
}

// PostForm posts form url-encoded and returns the decoded body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, header http.Header) ([]byte, error) {
	return c.fetch(ctx, http.MethodPost, rawURL, form, header)
}

type singleAttemptKey struct{}

// SingleAttempt returns a context under which Do sends each request once, for callers
// that run their own retry policy.
func SingleAttempt(ctx context.Context) context.Context {
	return context.WithValue(ctx, singleAttemptKey{}, true)
}

func isSingleAttempt(ctx context.Context) bool {
	v, _ := ctx.Value(singleAttemptKey{}).(bool)
	return v
}

// Do sends one logical request with a simple retry policy for transient errors
// (HTTP 5xx or network failures). The caller closes the returned body.
func (c *Client) Do(ctx context.Context, method, rawURL string, form url.Values, header http.Header) (*http.Response, error) {
	log := logger.WithComponent(logger.ComponentClient)

	retries := c.Retries
	if retries < 1 || isSingleAttempt(ctx) {
		retries = 1
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = initialBackoff
	}

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			if werr := wait(ctx, backoff); werr != nil {
				return nil, errs.Canceled(werr)
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		req, rerr := c.newRequest(ctx, method, rawURL, form, header)
		if rerr != nil {
			return nil, rerr
		}
		resp, err = c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errs.Canceled(ctx.Err())
			}
			log.Debug("request failed", map[string]interface{}{"method": method, "url": rawURL, "attempt": attempt + 1, "error": err})
			continue
		}
		if resp.StatusCode < retryableMinCode {
			log.Trace("response", map[string]interface{}{"method": method, "url": rawURL, "status": resp.StatusCode})
			return resp, nil
		}
		log.Debug("server error", map[string]interface{}{"method": method, "url": rawURL, "attempt": attempt + 1, "status": resp.StatusCode})
		if attempt < retries-1 {
			_ = resp.Body.Close()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

func (c *Client) fetch(ctx context.Context, method, rawURL string, form url.Values, header http.Header) ([]byte, error) {
	resp, err := c.Do(ctx, method, rawURL, form, header)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < successMinCode || resp.StatusCode >= successMaxCode {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &errs.StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	body, err := readBody(resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Canceled(ctx.Err())
		}
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, form url.Values, header http.Header) (*http.Request, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	ua := c.UserAgent
	if ua == "" {
		ua = userAgentValue
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	for k, vs := range header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// readBody decodes the response according to its Content-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("deflate reader: %w", err)
		}
		defer zr.Close()
		reader = zr
	}
	return io.ReadAll(io.LimitReader(reader, maxBodyBytes))
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Origin returns scheme://host of rawURL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("url has no scheme or host: " + rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// proxyFromURLString parses a proxy URL and returns a Proxy function.
func proxyFromURLString(raw string) (func(*http.Request) (*url.URL, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return http.ProxyURL(u), nil
}
