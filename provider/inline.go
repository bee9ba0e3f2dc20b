package provider

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/jsvm"
	"github.com/ytget/mirrorresolve/internal/markup"
	"github.com/ytget/mirrorresolve/obfuscation/packer"
	"github.com/ytget/mirrorresolve/types"
)

// Inline resolves hosts whose embed page names the media file directly, either in a
// `src: "..."` literal, a <source> tag, or inside a packed player script.
type Inline struct {
	http HTTP
}

// NewInline returns an Inline resolver.
func NewInline(h HTTP) *Inline {
	return &Inline{http: h}
}

// Resolve fetches the mirror's embed page and extracts the media URL.
func (r *Inline) Resolve(ctx context.Context, m types.Mirror) (*Stream, error) {
	embed, err := EmbedURL(m)
	if err != nil {
		return nil, err
	}
	return r.ResolvePage(ctx, embed, nil)
}

// ResolvePage extracts the media URL from the page at pageURL.
func (r *Inline) ResolvePage(ctx context.Context, pageURL string, header http.Header) (*Stream, error) {
	log := providerLog(types.KindInline)

	body, err := r.http.Get(ctx, pageURL, header)
	if err != nil {
		return nil, fail(ctx, types.KindInline, errs.ReasonNetwork, err)
	}
	s, err := extractInline(ctx, string(body))
	if err != nil {
		log.Debug("no media url in page", map[string]interface{}{"url": pageURL, "error": err})
		return nil, err
	}
	log.Debug("resolved", map[string]interface{}{"url": pageURL, "stream": s.URL})
	return s, nil
}

// extractInline looks for the media URL in page text, unpacking packed scripts when
// the plain page has none.
func extractInline(ctx context.Context, page string) (*Stream, error) {
	if s, ok := mediaFromText(ctx, page); ok {
		return s, nil
	}
	if doc, err := markup.Parse(page); err == nil {
		if src, ok := doc.SourceSrc(); ok {
			if u, ok := absoluteURL(src); ok {
				return &Stream{URL: u}, nil
			}
		}
	}

	var lastErr error
	for _, blob := range packer.FindAll(page) {
		script, err := packer.Unpack(blob)
		if err != nil {
			if errs.IsFatal(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if s, ok := mediaFromText(ctx, script); ok {
			return s, nil
		}
	}
	if lastErr != nil {
		return nil, shapeMismatch(types.KindInline, "packed script unusable: %v", lastErr)
	}
	return nil, shapeMismatch(types.KindInline, "page has no media url")
}

// mediaFromText finds a media URL in script or page text. Subtitles come from a
// tracks literal when one is present.
func mediaFromText(ctx context.Context, text string) (*Stream, bool) {
	var s *Stream
	if src, ok := jsvm.StringValue(text, "src"); ok {
		if u, ok := absoluteURL(src); ok {
			s = &Stream{URL: u}
		}
	}
	if s == nil {
		if res, err := jsvm.Lookup(ctx, text, "sources", "0.file"); err == nil && res.String() != "" {
			if u, ok := absoluteURL(res.String()); ok {
				s = &Stream{URL: u}
			}
		}
	}
	if s == nil {
		if file, ok := jsvm.StringValue(text, "file"); ok {
			if u, ok := absoluteURL(file); ok {
				s = &Stream{URL: u}
			}
		}
	}
	if s == nil {
		return nil, false
	}
	s.Subtitle = subtitleTrack(ctx, text)
	return s, true
}

// subtitleTrack returns the captions file of a tracks literal, skipping thumbnail tracks.
func subtitleTrack(ctx context.Context, text string) string {
	tracks, err := jsvm.Lookup(ctx, text, "tracks", "")
	if err != nil {
		return ""
	}
	var out string
	tracks.ForEach(func(_, t gjson.Result) bool {
		kind := t.Get("kind").String()
		if kind != "" && kind != "captions" && kind != "subtitles" {
			return true
		}
		if u, ok := absoluteURL(t.Get("file").String()); ok {
			out = u
			return false
		}
		return true
	})
	return out
}
