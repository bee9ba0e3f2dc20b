// Package provider holds one resolver per mirror kind. A resolver turns a mirror
// reference into a playable stream URL, or reports why it could not.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/logger"
	"github.com/ytget/mirrorresolve/internal/markup"
	"github.com/ytget/mirrorresolve/types"
)

// Stream is a resolved media location.
type Stream struct {
	URL      string
	Subtitle string
	// Embed marks a URL that only plays inside an iframe.
	Embed bool
}

// Resolver resolves one mirror.
type Resolver interface {
	Resolve(ctx context.Context, m types.Mirror) (*Stream, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, m types.Mirror) (*Stream, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, m types.Mirror) (*Stream, error) {
	return f(ctx, m)
}

// HTTP is the transport the resolvers need. *client.Client implements it.
type HTTP interface {
	Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error)
	PostForm(ctx context.Context, rawURL string, form url.Values, header http.Header) ([]byte, error)
}

// Config carries per-call settings shared by the resolvers.
type Config struct {
	// BaseDomain is the catalog's own origin, such as https://catalog.example.
	BaseDomain string

	SecureService SecureServiceConfig
	Nonce         NonceConfig
}

// FallbackError reports a failure that happened after an embeddable page was found.
type FallbackError struct {
	EmbedURL string
	Err      error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("%v (embed %s)", e.Err, e.EmbedURL)
}

func (e *FallbackError) Unwrap() error { return e.Err }

// EmbedFallback returns the embeddable URL attached to err, if any.
func EmbedFallback(err error) (string, bool) {
	var fe *FallbackError
	if errors.As(err, &fe) && fe.EmbedURL != "" {
		return fe.EmbedURL, true
	}
	return "", false
}

// Registry maps every ProviderKind to its resolver.
type Registry struct {
	resolvers map[types.ProviderKind]Resolver
}

// NewRegistry builds the standard resolvers over h.
func NewRegistry(h HTTP, cfg Config) *Registry {
	inline := NewInline(h)
	return &Registry{resolvers: map[types.ProviderKind]Resolver{
		types.KindUnknown:       inline,
		types.KindInline:        inline,
		types.KindSecureService: NewSecureService(h, cfg.SecureService),
		types.KindNonce:         NewNonce(h, cfg.BaseDomain, cfg.Nonce, inline),
		types.KindDirectDecrypt: NewDirectDecrypt(h, cfg.BaseDomain),
		types.KindLocal:         Local{},
	}}
}

// Register replaces the resolver for kind.
func (r *Registry) Register(kind types.ProviderKind, res Resolver) {
	r.resolvers[kind] = res
}

// For returns the resolver for kind. Kinds without one use the unknown resolver.
func (r *Registry) For(kind types.ProviderKind) Resolver {
	if res, ok := r.resolvers[kind]; ok {
		return res
	}
	return r.resolvers[types.KindUnknown]
}

// Local is the catalog-hosted mirror. It has no raw decode and always embeds.
type Local struct{}

// Resolve reports errs.ErrRawUnsupported.
func (Local) Resolve(context.Context, types.Mirror) (*Stream, error) {
	return nil, errs.ErrRawUnsupported
}

// EmbedURL decodes a mirror reference into the page it points at. A reference is a
// plain URL, or base64 of an HTML fragment holding an iframe, or base64 of a URL.
func EmbedURL(m types.Mirror) (string, error) {
	ref := strings.TrimSpace(m.Ref)
	if ref == "" {
		return "", errs.NewError(errs.CodeDecode, "empty mirror reference")
	}
	if u, ok := absoluteURL(ref); ok {
		return u, nil
	}

	decoded, err := decodeBase64(ref)
	if err != nil {
		return "", errs.NewError(errs.CodeDecode, "mirror reference is neither a url nor base64", m.Label)
	}
	decoded = strings.TrimSpace(decoded)
	if u, ok := absoluteURL(decoded); ok {
		return u, nil
	}
	if src, ok := markup.IframeSrc(decoded); ok {
		if u, ok := absoluteURL(src); ok {
			return u, nil
		}
	}
	return "", errs.NewError(errs.CodeDecode, "mirror reference holds no iframe", m.Label)
}

// absoluteURL accepts http(s) URLs and protocol-relative ones, which get https.
func absoluteURL(s string) (string, bool) {
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}
	if strings.ContainsAny(s, " \n\t<>\"") {
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return s, true
}

// resolveRef resolves ref against base, as browsers do for iframe src attributes.
func resolveRef(base, ref string) (string, bool) {
	if u, ok := absoluteURL(ref); ok {
		return u, true
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	return absoluteURL(b.ResolveReference(r).String())
}

func decodeBase64(s string) (string, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return string(b), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", firstErr
}

// fail classifies err for kind. Cancellation and fatal decode errors pass through.
func fail(ctx context.Context, kind types.ProviderKind, reason errs.Reason, err error) error {
	if ctx.Err() != nil {
		return errs.Canceled(ctx.Err())
	}
	if errs.IsCanceled(err) || errs.IsFatal(err) || errs.IsFailed(err) {
		return err
	}
	return errs.Failed(reason, kind.String(), err)
}

// shapeMismatch reports a response that did not have the expected structure.
func shapeMismatch(kind types.ProviderKind, format string, args ...interface{}) error {
	return errs.Failed(errs.ReasonShapeMismatch, kind.String(), fmt.Errorf(format, args...))
}

func providerLog(kind types.ProviderKind) *logger.ComponentLogger {
	return logger.WithComponent(logger.ComponentProvider).With(map[string]interface{}{"provider": kind.String()})
}
