package types

import (
	"strings"

	"github.com/ytget/mirrorresolve/errs"
)

// ProviderKind is the closed set of resolution strategies.
type ProviderKind int

const (
	KindUnknown ProviderKind = iota
	KindInline
	KindSecureService
	KindNonce
	KindDirectDecrypt
	KindLocal
)

var kindNames = map[ProviderKind]string{
	KindUnknown:       "unknown",
	KindInline:        "inline",
	KindSecureService: "secure-service",
	KindNonce:         "nonce",
	KindDirectDecrypt: "direct-decrypt",
	KindLocal:         "local",
}

func (k ProviderKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind maps a kind name back to its value. Unrecognized names yield KindUnknown.
func ParseKind(name string) ProviderKind {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// Category groups mirror labels that share a provider.
type Category struct {
	Name  string
	Match []string
	Kind  ProviderKind
}

// LocalCategory is the embed-only mirror hosted by the catalog itself.
// It always sorts after every other recognized category.
var LocalCategory = Category{Name: "lokal", Match: []string{"lokal", "local"}, Kind: KindLocal}

// DefaultCategories lists the recognized categories in preference order.
var DefaultCategories = []Category{
	{Name: "desustream", Match: []string{"desustream", "desudrive"}, Kind: KindSecureService},
	{Name: "odstream", Match: []string{"odstream", "ondesu"}, Kind: KindNonce},
	{Name: "streamplay", Match: []string{"streamplay", "playeriframe"}, Kind: KindDirectDecrypt},
	{Name: "mp4upload", Match: []string{"mp4upload"}, Kind: KindInline},
	{Name: "filedon", Match: []string{"filedon", "pdrain"}, Kind: KindInline},
	LocalCategory,
}

// Matches reports whether label contains one of the category substrings, ignoring case.
func (c Category) Matches(label string) bool {
	l := strings.ToLower(label)
	for _, m := range c.Match {
		if m != "" && strings.Contains(l, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// Classify returns the first category in cats matching label.
func Classify(cats []Category, label string) (Category, bool) {
	for _, c := range cats {
		if c.Matches(label) {
			return c, true
		}
	}
	return Category{}, false
}

// Mirror is one alternative hosting location for a piece of content.
// Ref holds a base64 HTML fragment, base64 JSON parameters or a plain URL.
type Mirror struct {
	Label    string
	Ref      string
	Kind     ProviderKind
	Category string
}

// NewMirror classifies label against DefaultCategories.
func NewMirror(label, ref string) Mirror {
	return NewMirrorWith(DefaultCategories, label, ref)
}

// NewMirrorWith classifies label against cats.
func NewMirrorWith(cats []Category, label, ref string) Mirror {
	m := Mirror{Label: strings.TrimSpace(label), Ref: strings.TrimSpace(ref)}
	if c, ok := Classify(cats, m.Label); ok {
		m.Kind = c.Kind
		m.Category = c.Name
	}
	return m
}

// Status tags a Result.
type Status int

const (
	StatusFailed Status = iota
	StatusRaw
	StatusEmbed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusRaw:
		return "raw"
	case StatusEmbed:
		return "embed"
	case StatusCanceled:
		return "canceled"
	default:
		return "failed"
	}
}

// Result is the outcome of one resolution attempt.
type Result struct {
	Status   Status
	URL      string
	Subtitle string
	Reason   errs.Reason
	Err      error
}

// Raw is a direct media URL usable by a native player.
func Raw(url string) Result { return Result{Status: StatusRaw, URL: url} }

// Embed is a page URL that only plays inside an iframe.
func Embed(url string) Result { return Result{Status: StatusEmbed, URL: url} }

// Failed records why no URL could be produced.
func Failed(reason errs.Reason, err error) Result {
	return Result{Status: StatusFailed, Reason: reason, Err: err}
}

// Canceled records a caller abort.
func Canceled(err error) Result {
	return Result{Status: StatusCanceled, Err: errs.Canceled(err)}
}

// OK reports whether the result carries a playable URL.
func (r Result) OK() bool {
	return r.Status == StatusRaw || r.Status == StatusEmbed
}

// Downloadable rejects everything except raw media URLs.
func (r Result) Downloadable() error {
	switch r.Status {
	case StatusRaw:
		return nil
	case StatusEmbed:
		return errs.ErrNotDownloadable
	case StatusCanceled:
		return r.Err
	default:
		if r.Err != nil {
			return r.Err
		}
		return errs.ErrFailed
	}
}

// Entry is one selectable candidate of a ResolvedSet.
type Entry struct {
	Label       string
	DataContent string
	Kind        ProviderKind
}

// ResolvedSet holds every candidate for one content item plus the active selection.
type ResolvedSet struct {
	Entries []Entry
	Active  string
	Default Result
}

// Lookup returns the entry with the given label.
func (s *ResolvedSet) Lookup(label string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	for _, e := range s.Entries {
		if e.Label == label {
			return e, true
		}
	}
	return Entry{}, false
}

// Labels returns entry labels in order.
func (s *ResolvedSet) Labels() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, e.Label)
	}
	return out
}
