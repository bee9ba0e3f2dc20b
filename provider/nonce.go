package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/markup"
	"github.com/ytget/mirrorresolve/types"
)

const (
	ajaxPath = "/wp-admin/admin-ajax.php"

	DefaultNonceAction  = "aa1208d27f29ca340c92c66d1926f13f"
	DefaultStreamAction = "2a3505c93b0035d3f455df82bf976b84"
)

// NonceConfig names the two AJAX actions of the catalog's own streaming mirror.
type NonceConfig struct {
	NonceAction  string
	StreamAction string
}

// Nonce resolves the catalog's own mirror: a nonce request, then a nonce-authenticated
// request that answers with a base64 iframe, which is resolved like an inline host.
type Nonce struct {
	http   HTTP
	base   string
	cfg    NonceConfig
	inline *Inline
}

// NewNonce returns a Nonce resolver talking to baseDomain.
func NewNonce(h HTTP, baseDomain string, cfg NonceConfig, inline *Inline) *Nonce {
	if cfg.NonceAction == "" {
		cfg.NonceAction = DefaultNonceAction
	}
	if cfg.StreamAction == "" {
		cfg.StreamAction = DefaultStreamAction
	}
	if inline == nil {
		inline = NewInline(h)
	}
	return &Nonce{http: h, base: strings.TrimRight(baseDomain, "/"), cfg: cfg, inline: inline}
}

// Resolve runs the nonce exchange for m. The mirror reference is base64 JSON holding
// the form parameters of the stream request.
func (r *Nonce) Resolve(ctx context.Context, m types.Mirror) (*Stream, error) {
	log := providerLog(types.KindNonce)

	params, err := nonceParams(m.Ref)
	if err != nil {
		return nil, err
	}
	if r.base == "" {
		return nil, shapeMismatch(types.KindNonce, "no base domain configured")
	}
	endpoint := r.base + ajaxPath
	header := http.Header{
		"Origin":           {r.base},
		"Referer":          {r.base + "/"},
		"X-Requested-With": {"XMLHttpRequest"},
	}

	body, err := r.http.PostForm(ctx, endpoint, url.Values{"action": {r.cfg.NonceAction}}, header)
	if err != nil {
		return nil, fail(ctx, types.KindNonce, errs.ReasonNetwork, err)
	}
	nonce := gjson.GetBytes(body, "data")
	if nonce.Type != gjson.String || nonce.String() == "" {
		return nil, shapeMismatch(types.KindNonce, "nonce response has no data")
	}

	params.Set("nonce", nonce.String())
	params.Set("action", r.cfg.StreamAction)
	body, err = r.http.PostForm(ctx, endpoint, params, header)
	if err != nil {
		return nil, fail(ctx, types.KindNonce, errs.ReasonNetwork, err)
	}
	data := gjson.GetBytes(body, "data")
	if data.Type != gjson.String {
		return nil, shapeMismatch(types.KindNonce, "stream response has no data")
	}
	fragment, err := decodeBase64(data.String())
	if err != nil {
		return nil, shapeMismatch(types.KindNonce, "stream data is not base64: %v", err)
	}
	src, ok := markup.IframeSrc(fragment)
	if !ok {
		return nil, shapeMismatch(types.KindNonce, "stream data holds no iframe")
	}
	iframe, ok := absoluteURL(src)
	if !ok {
		return nil, shapeMismatch(types.KindNonce, "iframe src %q", src)
	}

	log.Debug("nonce exchange done", map[string]interface{}{"iframe": iframe})
	s, err := r.inline.ResolvePage(ctx, iframe, http.Header{"Referer": {r.base + "/"}})
	if err != nil {
		if errs.IsCanceled(err) || errs.IsFatal(err) {
			return nil, err
		}
		return nil, &FallbackError{EmbedURL: iframe, Err: err}
	}
	return s, nil
}

// nonceParams decodes the base64 JSON object of a nonce mirror into form values.
func nonceParams(ref string) (url.Values, error) {
	decoded, err := decodeBase64(ref)
	if err != nil {
		return nil, errs.NewError(errs.CodeDecode, "nonce mirror reference is not base64")
	}
	if !gjson.Valid(decoded) || !gjson.Parse(decoded).IsObject() {
		return nil, errs.NewError(errs.CodeDecode, "nonce mirror reference is not a JSON object")
	}
	params := url.Values{}
	gjson.Parse(decoded).ForEach(func(k, v gjson.Result) bool {
		params.Set(k.String(), v.String())
		return true
	})
	return params, nil
}
