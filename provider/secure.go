package provider

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/jsvm"
	"github.com/ytget/mirrorresolve/internal/markup"
	"github.com/ytget/mirrorresolve/obfuscation/packer"
	"github.com/ytget/mirrorresolve/pkg/client"
	"github.com/ytget/mirrorresolve/types"
)

const (
	DefaultServiceTitle  = "DesuStream"
	DefaultServiceMarker = "svcRedirect"

	defaultLookupTimeout = 10 * time.Second
)

// SecureServiceConfig tunes the secure-service resolver. Zero values use defaults.
type SecureServiceConfig struct {
	// Title is the <title> of the terminal service page.
	Title string
	// Marker in the unpacked script selects the service redirect path.
	Marker string
	// LookupTimeout bounds the mirror-ID lookup that runs in the background.
	LookupTimeout time.Duration
}

// SecureService resolves the two-hop service: an iframe page that may wrap the real
// service page, a packed script, then either a service redirect JSON or a keyed
// local source endpoint.
//
// The provider prepares streams asynchronously and often fails on first touch; the
// retry policy for that lives in the orchestrator, not here.
type SecureService struct {
	http HTTP
	cfg  SecureServiceConfig
	// lookupDone, when set, receives the outcome of each background lookup.
	lookupDone func(error)
}

// NewSecureService returns a SecureService resolver.
func NewSecureService(h HTTP, cfg SecureServiceConfig) *SecureService {
	if cfg.Title == "" {
		cfg.Title = DefaultServiceTitle
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultServiceMarker
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	return &SecureService{http: h, cfg: cfg}
}

// Resolve runs one attempt.
func (r *SecureService) Resolve(ctx context.Context, m types.Mirror) (*Stream, error) {
	log := providerLog(types.KindSecureService)

	embed, err := EmbedURL(m)
	if err != nil {
		return nil, err
	}
	pageURL, page, err := r.servicePage(ctx, embed)
	if err != nil {
		return nil, err
	}
	origin, err := client.Origin(pageURL)
	if err != nil {
		return nil, shapeMismatch(types.KindSecureService, "service page url: %v", err)
	}

	if id := mirrorID(pageURL); id != "" {
		r.lookup(ctx, origin+"/api/mirror/"+url.PathEscape(id))
	}

	script, err := unpackFirst(page)
	if err != nil {
		if errs.IsFatal(err) {
			return nil, err
		}
		return nil, shapeMismatch(types.KindSecureService, "service page: %v", err)
	}

	if strings.Contains(script, r.cfg.Marker) {
		log.Debug("following service redirect", map[string]interface{}{"page": pageURL})
		return r.serviceRedirect(ctx, script)
	}
	return r.localSource(ctx, origin, script)
}

// servicePage fetches embed and follows one inner iframe when the page is not the
// service page itself.
func (r *SecureService) servicePage(ctx context.Context, embed string) (string, string, error) {
	body, err := r.http.Get(ctx, embed, nil)
	if err != nil {
		return "", "", fail(ctx, types.KindSecureService, errs.ReasonNetwork, err)
	}
	doc, err := markup.Parse(string(body))
	if err != nil {
		return "", "", shapeMismatch(types.KindSecureService, "embed page: %v", err)
	}
	if strings.EqualFold(doc.Title(), r.cfg.Title) {
		return embed, string(body), nil
	}
	src, ok := doc.IframeSrc()
	if !ok {
		return embed, string(body), nil
	}
	inner, ok := resolveRef(embed, src)
	if !ok {
		return "", "", shapeMismatch(types.KindSecureService, "inner iframe src %q", src)
	}
	body, err = r.http.Get(ctx, inner, http.Header{"Referer": {embed}})
	if err != nil {
		return "", "", fail(ctx, types.KindSecureService, errs.ReasonNetwork, err)
	}
	return inner, string(body), nil
}

// lookup fires the mirror-ID request the service expects before serving a stream.
// Its outcome is ignored.
func (r *SecureService) lookup(ctx context.Context, lookupURL string) {
	go func() {
		lctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
		defer cancel()
		_, err := r.http.Get(lctx, lookupURL, nil)
		if err != nil {
			providerLog(types.KindSecureService).Trace("mirror lookup failed", map[string]interface{}{"url": lookupURL, "error": err})
		}
		if r.lookupDone != nil {
			r.lookupDone(err)
		}
	}()
}

var redirectCallRe = regexp.MustCompile(`\(\s*["']([^"']+)["']\s*,\s*["']([^"']*)["']\s*\)`)

// serviceRedirect reads host and path from the marker call, for example
// svcRedirect("https://svc.example","/v/abc"), and fetches the JSON descriptor there.
func (r *SecureService) serviceRedirect(ctx context.Context, script string) (*Stream, error) {
	at := strings.Index(script, r.cfg.Marker)
	m := redirectCallRe.FindStringSubmatch(script[at+len(r.cfg.Marker):])
	if m == nil {
		return nil, shapeMismatch(types.KindSecureService, "service redirect without host and path")
	}
	host, ok := absoluteURL(strings.TrimRight(m[1], "/"))
	if !ok {
		return nil, shapeMismatch(types.KindSecureService, "service host %q", m[1])
	}
	p := m[2]
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	body, err := r.http.Get(ctx, host+p, nil)
	if err != nil {
		return nil, fail(ctx, types.KindSecureService, errs.ReasonNetwork, err)
	}
	doc := gjson.ParseBytes(body)
	data := doc.Get("data")
	if !gjson.ValidBytes(body) || data.Type != gjson.String || !doc.Get("embed").Bool() {
		return nil, shapeMismatch(types.KindSecureService, "service descriptor is not {data, embed:true}")
	}
	u, ok := absoluteURL(data.String())
	if !ok {
		return nil, shapeMismatch(types.KindSecureService, "service descriptor data %q", data.String())
	}
	return &Stream{URL: u, Embed: true}, nil
}

// localSource reads key and id from the script and asks the service for the source list.
func (r *SecureService) localSource(ctx context.Context, origin, script string) (*Stream, error) {
	key, ok := jsvm.StringValue(script, "key")
	if !ok {
		return nil, shapeMismatch(types.KindSecureService, "script has no key")
	}
	id, ok := jsvm.StringValue(script, "id")
	if !ok {
		return nil, shapeMismatch(types.KindSecureService, "script has no id")
	}

	endpoint := origin + "/local/" + url.PathEscape(id) + "?" + url.Values{"key": {key}}.Encode()
	body, err := r.http.Get(ctx, endpoint, http.Header{"Referer": {origin + "/"}})
	if err != nil {
		return nil, fail(ctx, types.KindSecureService, errs.ReasonNetwork, err)
	}

	payload := strings.TrimSpace(string(body))
	if gjson.Valid(payload) {
		if data := gjson.Get(payload, "data"); data.Type == gjson.String {
			payload = data.String()
		}
	}
	decoded, err := decodeBase64(payload)
	if err != nil {
		return nil, shapeMismatch(types.KindSecureService, "local source is not base64: %v", err)
	}

	file := gjson.Get(decoded, "sources.0.file").String()
	if file == "" {
		if res, err := jsvm.Lookup(ctx, decoded, "sources", "0.file"); err == nil {
			file = res.String()
		}
	}
	u, ok := absoluteURL(file)
	if !ok {
		return nil, shapeMismatch(types.KindSecureService, "local source has no sources[0].file")
	}
	return &Stream{URL: u}, nil
}

// mirrorID takes the id query parameter, else the last path segment.
func mirrorID(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// unpackFirst unpacks the first usable packed script in page.
func unpackFirst(page string) (string, error) {
	blobs := packer.FindAll(page)
	if len(blobs) == 0 {
		return "", errs.ErrNotPacked
	}
	var lastErr error
	for _, blob := range blobs {
		script, err := packer.Unpack(blob)
		if err == nil {
			return script, nil
		}
		if errs.IsFatal(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
