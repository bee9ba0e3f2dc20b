package mirrorresolve

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ytget/mirrorresolve/internal/logger"
	"github.com/ytget/mirrorresolve/orchestrator"
	"github.com/ytget/mirrorresolve/pkg/client"
	"github.com/ytget/mirrorresolve/provider"
	"github.com/ytget/mirrorresolve/types"
)

// Options contains the configuration shared by every resolution.
//
// Use chainable setters on Resolver to populate these options.
type Options struct {
	// Client carries transport settings such as Retries and Backoff. When nil a
	// default client wraps HTTPClient.
	Client        *client.Client
	HTTPClient    *http.Client
	UserAgent     string
	BaseDomain    string
	Quality       string
	RetryDelay    time.Duration
	Categories    []types.Category
	SecureService provider.SecureServiceConfig
	Nonce         provider.NonceConfig
}

// Resolver provides a high-level API for turning mirror lists into playable URLs.
// It is safe for concurrent use once configured.
type Resolver struct {
	options Options

	mu    sync.Mutex
	state orchestrator.State
}

// startPprofServer starts a pprof server for debugging
func startPprofServer() {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		log := logger.WithComponent(logger.ComponentApp)
		log.Info("starting pprof server", map[string]interface{}{"addr": ":6060"})
		if err := http.ListenAndServe(":6060", mux); err != nil {
			log.Error("pprof server stopped", map[string]interface{}{"error": err})
		}
	}()
}

// New creates a Resolver with default options.
func New() *Resolver {
	if os.Getenv("MIRRORRESOLVE_PPROF") == "1" {
		startPprofServer()
	}
	return &Resolver{}
}

// WithHTTPClient sets a custom HTTP client to be used for all network calls.
func (r *Resolver) WithHTTPClient(c *http.Client) *Resolver {
	r.options.HTTPClient = c
	return r
}

// WithClient sets the transport, keeping its retry and backoff settings. A client set
// by WithHTTPClient still replaces its http.Client.
func (r *Resolver) WithClient(c *client.Client) *Resolver {
	r.options.Client = c
	return r
}

// WithUserAgent overrides the User-Agent sent to providers.
func (r *Resolver) WithUserAgent(ua string) *Resolver {
	r.options.UserAgent = strings.TrimSpace(ua)
	return r
}

// WithBaseDomain sets the catalog origin used by the nonce and direct-decrypt
// providers, for example "https://catalog.example".
func (r *Resolver) WithBaseDomain(base string) *Resolver {
	r.options.BaseDomain = strings.TrimRight(strings.TrimSpace(base), "/")
	return r
}

// WithQuality sets the label substring that picks the default entry, e.g. "720p".
func (r *Resolver) WithQuality(q string) *Resolver {
	r.options.Quality = strings.TrimSpace(q)
	return r
}

// WithRetryDelay changes the wait before the last secure-service attempt.
// Zero keeps the default of 2.5s.
func (r *Resolver) WithRetryDelay(d time.Duration) *Resolver {
	if d < 0 {
		d = 0
	}
	r.options.RetryDelay = d
	return r
}

// WithCategories replaces the mirror label categories, in preference order.
func (r *Resolver) WithCategories(cats []types.Category) *Resolver {
	r.options.Categories = cats
	return r
}

// WithSecureService tunes the secure-service provider.
func (r *Resolver) WithSecureService(cfg provider.SecureServiceConfig) *Resolver {
	r.options.SecureService = cfg
	return r
}

// WithNonce tunes the nonce provider's ajax actions.
func (r *Resolver) WithNonce(cfg provider.NonceConfig) *Resolver {
	r.options.Nonce = cfg
	return r
}

// WithLogger installs l as the process-wide logger.
func (r *Resolver) WithLogger(l *logger.Logger) *Resolver {
	if l != nil {
		logger.SetGlobalLogger(l)
	}
	return r
}

// Resolve orders and deduplicates mirrors and resolves the default entry.
// The returned error is non-nil only when ctx was canceled.
func (r *Resolver) Resolve(ctx context.Context, mirrors []types.Mirror) (*types.ResolvedSet, error) {
	set, state, err := r.engine().ResolveAll(ctx, mirrors, r.request())
	r.setState(state)
	return set, err
}

// ResolveEntries resolves every entry of set concurrently, in entry order.
func (r *Resolver) ResolveEntries(ctx context.Context, set *types.ResolvedSet) ([]types.Result, error) {
	results, state, err := r.engine().ResolveEntries(ctx, set, r.request())
	r.setState(state)
	return results, err
}

// Select resolves the entry labeled label and makes it active.
func (r *Resolver) Select(ctx context.Context, set *types.ResolvedSet, label string) (types.Result, error) {
	res, state, err := r.engine().Select(ctx, set, label, r.request())
	r.setState(state)
	return res, err
}

// ResolveURL resolves mirrors and returns the default entry's URL only when it is a
// raw media URL, as download tools require.
func (r *Resolver) ResolveURL(ctx context.Context, mirrors []types.Mirror) (string, *types.ResolvedSet, error) {
	set, err := r.Resolve(ctx, mirrors)
	if err != nil {
		return "", set, err
	}
	if err := set.Default.Downloadable(); err != nil {
		return "", set, fmt.Errorf("resolve %q: %w", set.Active, err)
	}
	return set.Default.URL, set, nil
}

// State returns the outcome flags accumulated by previous calls.
func (r *Resolver) State() orchestrator.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ResetState clears the accumulated outcome flags.
func (r *Resolver) ResetState() {
	r.mu.Lock()
	r.state = orchestrator.State{}
	r.mu.Unlock()
}

func (r *Resolver) setState(s orchestrator.State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Resolver) request() orchestrator.Request {
	return orchestrator.Request{
		BaseDomain: r.options.BaseDomain,
		Quality:    r.options.Quality,
		State:      r.State(),
	}
}

func (r *Resolver) engine() *orchestrator.Engine {
	var c *client.Client
	if r.options.Client != nil {
		cc := *r.options.Client
		if r.options.HTTPClient != nil {
			cc.HTTPClient = r.options.HTTPClient
		}
		c = &cc
	} else {
		c = client.Wrap(r.options.HTTPClient)
	}
	if r.options.UserAgent != "" {
		c.UserAgent = r.options.UserAgent
	}

	opts := []orchestrator.Option{
		orchestrator.WithProviderConfig(provider.Config{
			SecureService: r.options.SecureService,
			Nonce:         r.options.Nonce,
		}),
	}
	if r.options.RetryDelay > 0 {
		opts = append(opts, orchestrator.WithRetryDelay(r.options.RetryDelay))
	}
	if len(r.options.Categories) > 0 {
		opts = append(opts, orchestrator.WithCategories(r.options.Categories))
	}
	return orchestrator.New(c, opts...)
}
