// Package packer reverses the eval(function(p,a,c,k,e,d){...}) JavaScript packing transform.
//
// A packed script carries a payload template, a radix, a symbol count and a "|"-joined
// symbol table. Unpacking replaces every word token of the payload with the symbol at the
// index the token encodes. Tokens without a symbol are kept as they are, and quoted string
// placeholders are not restored, so the output suits field extraction rather than
// re-execution.
package packer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/logger"
	"github.com/ytget/mirrorresolve/internal/markup"
	"github.com/ytget/mirrorresolve/obfuscation/basen"
)

const (
	packerPrefix = "eval(function(p,a,c,k,e,"
	// legacyRadixMarker stands for an unspecified radix in older packer output.
	legacyRadixMarker = "[]"
	legacyRadix       = 62
)

var (
	// The first pattern requires the trailing invocation arguments, the second does not.
	headerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?s)}\('(.*)', *(\d+|\[\]), *(\d+), *'(.*)'\.split\('\|'\), *(\d+), *(.*)\)\)`),
		regexp.MustCompile(`(?s)}\('(.*)', *(\d+|\[\]), *(\d+), *'(.*)'\.split\('\|'\)`),
	}
	tokenRe   = regexp.MustCompile(`\w+`)
	blobRe    = regexp.MustCompile(`(?s)eval\(function\(p,\s*a,\s*c,\s*k,\s*e,\s*[rd]\).*?\.split\('\|'\)(?:,\s*\d+,\s*\{\})?\)\)`)
	spaceTrim = strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "")
)

// Script holds the arguments extracted from a packed script.
type Script struct {
	Payload string
	Symtab  []string
	Radix   int
	Count   int
}

// Detect reports whether source, with whitespace removed, starts with the packer invocation.
func Detect(source string) bool {
	return strings.HasPrefix(spaceTrim.Replace(source), packerPrefix)
}

// Parse extracts the packer arguments and validates the symbol table.
func Parse(source string) (*Script, error) {
	if !Detect(source) {
		return nil, errs.NewError(errs.CodeNotPacked, "source does not start with the packer invocation")
	}

	var args []string
	for _, re := range headerPatterns {
		if m := re.FindStringSubmatch(source); m != nil {
			args = m
			break
		}
	}
	if args == nil {
		return nil, errs.NewError(errs.CodeMalformedPackerHeader, "could not make sense of packer arguments")
	}

	radix := legacyRadix
	if args[2] != legacyRadixMarker {
		r, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, errs.NewError(errs.CodeMalformedPackerHeader, "invalid radix", args[2])
		}
		radix = r
	}
	count, err := strconv.Atoi(args[3])
	if err != nil {
		return nil, errs.NewError(errs.CodeMalformedPackerHeader, "invalid symbol count", args[3])
	}

	s := &Script{
		Payload: unescapeLiteral(args[1]),
		Symtab:  strings.Split(args[4], "|"),
		Radix:   radix,
		Count:   count,
	}
	if s.Count != len(s.Symtab) {
		return nil, errs.NewError(errs.CodeMalformedSymtab, "symbol count does not match table", map[string]int{
			"count":   s.Count,
			"symbols": len(s.Symtab),
		})
	}
	return s, nil
}

// Unpack rebuilds the original script text of a packed source.
func Unpack(source string) (string, error) {
	log := logger.WithComponent(logger.ComponentUnpack)

	s, err := Parse(source)
	if err != nil {
		log.Debug("packer parse failed", map[string]interface{}{"error": err})
		return "", err
	}
	out, err := s.Expand()
	if err != nil {
		log.Warn("packer expand failed", map[string]interface{}{"radix": s.Radix, "error": err})
		return "", err
	}
	log.Trace("unpacked script", map[string]interface{}{"radix": s.Radix, "symbols": s.Count, "bytes": len(out)})
	return out, nil
}

// Expand substitutes symbols into the payload.
func (s *Script) Expand() (string, error) {
	var lookup func(token string) (int, bool)
	if s.Radix == 1 {
		// Whole decimal tokens only. The packer's own decoder replaces \b<n>\b words, so a
		// token such as 12abc is never a symbol reference and stays as written.
		lookup = func(token string) (int, bool) {
			n, err := strconv.Atoi(token)
			return n, err == nil
		}
	} else {
		dec, err := basen.New(s.Radix)
		if err != nil {
			return "", err
		}
		lookup = func(token string) (int, bool) {
			n, err := dec.Unbase(token)
			return n, err == nil
		}
	}

	return tokenRe.ReplaceAllStringFunc(s.Payload, func(token string) string {
		idx, ok := lookup(token)
		if !ok || idx < 0 || idx >= len(s.Symtab) {
			return token
		}
		if sym := s.Symtab[idx]; sym != "" {
			return sym
		}
		return token
	}), nil
}

// FindAll returns every packed script blob in page, in order of appearance. Inline
// <script> bodies are searched first; when they hold none, the raw text is scanned so
// bare script sources and broken markup still work.
func FindAll(page string) []string {
	var blobs []string
	for _, body := range markup.Scripts(page) {
		blobs = append(blobs, blobRe.FindAllString(body, -1)...)
	}
	if len(blobs) == 0 {
		blobs = blobRe.FindAllString(page, -1)
	}
	return blobs
}

// unescapeLiteral decodes the escapes a single-quoted JS literal needs for the
// payload: backslash and quote. Other escapes stay as written.
func unescapeLiteral(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == '\'') {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
