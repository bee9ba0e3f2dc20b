// Package orchestrator turns the mirror list of one content item into a ResolvedSet:
// it orders mirrors by provider preference, removes duplicates, names collisions,
// resolves the default entry and falls back to embeddable pages when raw resolution
// fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/logger"
	"github.com/ytget/mirrorresolve/pkg/client"
	"github.com/ytget/mirrorresolve/provider"
	"github.com/ytget/mirrorresolve/types"
)

// DefaultRetryDelay is the pause before the last secure-service attempt.
const DefaultRetryDelay = 2500 * time.Millisecond

// Request carries the per-call inputs.
type Request struct {
	// BaseDomain is the catalog's current origin, used by the nonce and
	// direct-decrypt providers.
	BaseDomain string
	// Quality selects the default entry, for example "720p".
	Quality string
	// State is the outcome of the previous call, if any.
	State State
}

// State records whether resolutions had to degrade. It is returned by every call and
// may be passed into the next one.
type State struct {
	Errored bool
	// Degraded lists labels that fell back to an embed page or failed.
	Degraded []string
}

func (s State) with(label string, r types.Result) State {
	if r.Status == types.StatusRaw || r.Status == types.StatusCanceled {
		return s
	}
	if r.Status == types.StatusEmbed && r.Err == nil {
		return s
	}
	s.Errored = true
	for _, l := range s.Degraded {
		if l == label {
			return s
		}
	}
	s.Degraded = append(append([]string(nil), s.Degraded...), label)
	return s
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Engine resolves mirror lists. It is safe for concurrent use.
type Engine struct {
	http       provider.HTTP
	categories []types.Category
	providers  provider.Config
	overrides  map[types.ProviderKind]provider.Resolver
	retryDelay time.Duration
	sleep      Sleeper
}

// Option configures an Engine.
type Option func(*Engine)

// WithCategories replaces the label categories, in preference order.
func WithCategories(cats []types.Category) Option {
	return func(e *Engine) { e.categories = cats }
}

// WithProviderConfig sets provider settings. BaseDomain is taken from each Request.
func WithProviderConfig(cfg provider.Config) Option {
	return func(e *Engine) { e.providers = cfg }
}

// WithResolver overrides the resolver used for kind.
func WithResolver(kind types.ProviderKind, r provider.Resolver) Option {
	return func(e *Engine) { e.overrides[kind] = r }
}

// WithRetryDelay changes the pause before the last secure-service attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// WithSleeper replaces the retry wait, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// New returns an Engine issuing requests through h.
func New(h provider.HTTP, opts ...Option) *Engine {
	e := &Engine{
		http:       h,
		categories: types.DefaultCategories,
		overrides:  make(map[types.ProviderKind]provider.Resolver),
		retryDelay: DefaultRetryDelay,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveAll builds the ResolvedSet for mirrors and resolves its default entry.
// The returned error is non-nil only when ctx was canceled.
func (e *Engine) ResolveAll(ctx context.Context, mirrors []types.Mirror, req Request) (*types.ResolvedSet, State, error) {
	log := runLog()
	state := req.State

	preferred, degraded := e.Prefer(mirrors)
	entries := Disambiguate(Dedup(preferred))
	set := &types.ResolvedSet{Entries: make([]types.Entry, 0, len(entries))}
	for _, m := range entries {
		set.Entries = append(set.Entries, types.Entry{Label: m.Label, DataContent: m.Ref, Kind: m.Kind})
	}
	if len(entries) == 0 {
		set.Default = types.Failed(errs.ReasonShapeMismatch, errs.Failed(errs.ReasonShapeMismatch, "", errors.New("no mirrors")))
		state.Errored = true
		return set, state, nil
	}
	if degraded {
		log.Info("no recognized provider, using unrecognized mirrors", map[string]interface{}{"mirrors": len(entries)})
	}

	pick := DefaultIndex(entries, req.Quality)
	set.Active = entries[pick].Label
	log.Debug("resolving default entry", map[string]interface{}{
		"label":   set.Active,
		"kind":    entries[pick].Kind.String(),
		"entries": set.Labels(),
	})

	reg := e.registry(req)
	set.Default = e.resolve(ctx, log, reg, entries[pick])
	state = state.with(set.Active, set.Default)
	if set.Default.Status == types.StatusCanceled {
		return set, state, set.Default.Err
	}
	return set, state, nil
}

// ResolveEntries resolves every entry of set concurrently. Results are in entry order
// and are assembled only after every resolution has settled.
func (e *Engine) ResolveEntries(ctx context.Context, set *types.ResolvedSet, req Request) ([]types.Result, State, error) {
	state := req.State
	if set == nil || len(set.Entries) == 0 {
		return nil, state, nil
	}
	reg := e.registry(req)
	log := runLog()
	log.Debug("resolving entries", map[string]interface{}{"entries": len(set.Entries)})

	results := make([]types.Result, len(set.Entries))
	var wg sync.WaitGroup
	for i, entry := range set.Entries {
		wg.Add(1)
		go func(i int, m types.Mirror) {
			defer wg.Done()
			results[i] = e.resolve(ctx, log, reg, m)
		}(i, entryMirror(entry))
	}
	wg.Wait()

	var canceled error
	for i, r := range results {
		state = state.with(set.Entries[i].Label, r)
		if r.Status == types.StatusCanceled && canceled == nil {
			canceled = r.Err
		}
	}
	return results, state, canceled
}

// Select resolves the entry labeled label and makes it the active one.
func (e *Engine) Select(ctx context.Context, set *types.ResolvedSet, label string, req Request) (types.Result, State, error) {
	entry, ok := set.Lookup(label)
	if !ok {
		return types.Result{}, req.State, fmt.Errorf("no entry labeled %q", label)
	}
	r := e.resolve(ctx, runLog(), e.registry(req), entryMirror(entry))
	state := req.State.with(label, r)
	if r.Status == types.StatusCanceled {
		return r, state, r.Err
	}
	set.Active = label
	set.Default = r
	return r, state, nil
}

// ResolveMirror resolves a single mirror with fallback to its embed page.
func (e *Engine) ResolveMirror(ctx context.Context, m types.Mirror, req Request) types.Result {
	return e.resolve(ctx, runLog(), e.registry(req), e.classify(m))
}

func (e *Engine) registry(req Request) *provider.Registry {
	cfg := e.providers
	if req.BaseDomain != "" {
		cfg.BaseDomain = req.BaseDomain
	}
	reg := provider.NewRegistry(e.http, cfg)
	for kind, r := range e.overrides {
		reg.Register(kind, r)
	}
	return reg
}

// resolve runs the resolver for m and maps its outcome onto a Result.
func (e *Engine) resolve(ctx context.Context, run *logger.ComponentLogger, reg *provider.Registry, m types.Mirror) types.Result {
	log := run.With(map[string]interface{}{
		"label": m.Label,
		"kind":  m.Kind.String(),
	})

	if err := ctx.Err(); err != nil {
		return types.Canceled(err)
	}

	res := reg.For(m.Kind)
	var (
		s   *provider.Stream
		err error
	)
	if m.Kind == types.KindSecureService {
		s, err = e.resolveWithRetry(ctx, log, res, m)
	} else {
		s, err = res.Resolve(ctx, m)
	}

	switch {
	case err == nil && s != nil && s.Embed:
		return types.Embed(s.URL)
	case err == nil && s != nil:
		r := types.Raw(s.URL)
		r.Subtitle = s.Subtitle
		return r
	case err == nil:
		err = errs.Failed(errs.ReasonShapeMismatch, m.Kind.String(), errors.New("resolver returned no stream"))
	case errs.IsCanceled(err):
		log.Debug("canceled")
		return types.Result{Status: types.StatusCanceled, Err: err}
	}

	if errors.Is(err, errs.ErrRawUnsupported) {
		if u, uerr := provider.EmbedURL(m); uerr == nil {
			return types.Embed(u)
		}
	}

	reason := errs.ReasonOf(err)
	embed, ok := provider.EmbedFallback(err)
	if !ok {
		if u, uerr := provider.EmbedURL(m); uerr == nil {
			embed, ok = u, true
		}
	}
	if !ok {
		log.Warn("mirror reference undecodable", map[string]interface{}{"error": err})
		return types.Failed(reason, err)
	}

	log.Info("raw resolution failed, embedding", map[string]interface{}{"reason": reason, "error": err})
	r := types.Embed(embed)
	r.Reason = reason
	r.Err = err
	return r
}

// resolveWithRetry applies the secure-service retry contract: the first call's result
// is discarded, the second is kept, and a failed second call is retried once more
// after the retry delay.
//
// The discarded first call looks like a duplicate request. It stays until the service
// is confirmed not to depend on it.
//
// Transport retries are switched off so these three calls are the only attempts.
func (e *Engine) resolveWithRetry(ctx context.Context, log *logger.ComponentLogger, res provider.Resolver, m types.Mirror) (*provider.Stream, error) {
	ctx = client.SingleAttempt(ctx)

	if _, err := res.Resolve(ctx, m); stopRetry(err) {
		return nil, err
	}

	s, err := res.Resolve(ctx, m)
	if err == nil || stopRetry(err) {
		return s, err
	}

	log.Debug("secure service not ready, waiting", map[string]interface{}{"delay": e.retryDelay.String(), "error": err})
	if werr := e.sleep(ctx, e.retryDelay); werr != nil {
		return nil, errs.Canceled(werr)
	}

	s, err = res.Resolve(ctx, m)
	if err == nil || stopRetry(err) {
		return s, err
	}
	if embed, ok := provider.EmbedFallback(err); ok {
		return nil, &provider.FallbackError{EmbedURL: embed, Err: errs.Failed(errs.ReasonExhaustedRetries, m.Kind.String(), err)}
	}
	return nil, errs.Failed(errs.ReasonExhaustedRetries, m.Kind.String(), err)
}

// stopRetry reports errors a retry cannot fix.
func stopRetry(err error) bool {
	return err != nil && (errs.IsCanceled(err) || errs.IsFatal(err) || errors.Is(err, errs.ErrDecode))
}

// runLog tags every line of one call with a shared id.
func runLog() *logger.ComponentLogger {
	return logger.WithComponent(logger.ComponentOrchestrator).With(map[string]interface{}{"run": uuid.NewString()})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func entryMirror(e types.Entry) types.Mirror {
	return types.Mirror{Label: e.Label, Ref: e.DataContent, Kind: e.Kind}
}

// classify assigns the engine's category to m when its label matches one.
func (e *Engine) classify(m types.Mirror) types.Mirror {
	if c, ok := types.Classify(e.categories, m.Label); ok {
		m.Kind = c.Kind
		m.Category = c.Name
	}
	return m
}

// Prefer orders mirrors by category priority, recognized categories first and local
// mirrors last. When no category is recognized the unrecognized mirrors are returned
// and degraded is true.
func (e *Engine) Prefer(mirrors []types.Mirror) (preferred []types.Mirror, degraded bool) {
	buckets := make(map[string][]types.Mirror)
	var unknown []types.Mirror
	for _, m := range mirrors {
		m = e.classify(m)
		if m.Category == "" {
			unknown = append(unknown, m)
			continue
		}
		buckets[m.Category] = append(buckets[m.Category], m)
	}
	if len(buckets) == 0 {
		return unknown, len(unknown) > 0
	}

	var local []types.Mirror
	for _, c := range e.categories {
		ms := buckets[c.Name]
		delete(buckets, c.Name)
		if c.Kind == types.KindLocal {
			local = append(local, ms...)
			continue
		}
		preferred = append(preferred, ms...)
	}
	return append(preferred, local...), false
}

// Dedup drops mirrors whose reference was already seen. The first occurrence wins.
func Dedup(mirrors []types.Mirror) []types.Mirror {
	seen := make(map[string]bool, len(mirrors))
	out := make([]types.Mirror, 0, len(mirrors))
	for _, m := range mirrors {
		key := strings.TrimSpace(m.Ref)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// Disambiguate suffixes repeated labels with " (n)", n being the 1-based occurrence
// index. The first occurrence keeps its label.
func Disambiguate(mirrors []types.Mirror) []types.Mirror {
	count := make(map[string]int, len(mirrors))
	used := make(map[string]bool, len(mirrors))
	for _, m := range mirrors {
		used[m.Label] = true
	}

	out := make([]types.Mirror, len(mirrors))
	for i, m := range mirrors {
		count[m.Label]++
		if n := count[m.Label]; n > 1 {
			label := fmt.Sprintf("%s (%d)", m.Label, n)
			for used[label] {
				n++
				label = fmt.Sprintf("%s (%d)", m.Label, n)
			}
			used[label] = true
			m.Label = label
		}
		out[i] = m
	}
	return out
}

// DefaultIndex picks the first entry whose label contains quality, ignoring case,
// else the first entry.
func DefaultIndex(mirrors []types.Mirror, quality string) int {
	q := strings.ToLower(strings.TrimSpace(quality))
	if q == "" {
		return 0
	}
	for i, m := range mirrors {
		if strings.Contains(strings.ToLower(m.Label), q) {
			return i
		}
	}
	return 0
}
