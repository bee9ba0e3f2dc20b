// Package keyring rebuilds the envelope passphrase a provider hides in its embed metadata.
//
// The metadata field "m" holds a reversed base64 string. Decoded, it is a "|"-separated
// list of indexes into the raw key split on the two characters `\x`. Index s selects
// fragment s+1, and the passphrase is the selected fragments each prefixed with `\x`.
// The result is the escaped text itself, never the bytes it spells.
package keyring

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/logger"
)

const fragmentSep = `\x`

// Reconstruct returns the passphrase encoded by rawKeyFragments and embedMetadataJSON.
func Reconstruct(rawKeyFragments, embedMetadataJSON string) (string, error) {
	indexes, err := Indexes(embedMetadataJSON)
	if err != nil {
		return "", err
	}

	fragments := strings.Split(rawKeyFragments, fragmentSep)
	var b strings.Builder
	for _, s := range indexes {
		// Fragment 0 is whatever precedes the first separator, so indexes start at 1.
		i := s + 1
		if i < 0 || i >= len(fragments) {
			return "", errs.NewError(errs.CodeDecode, "key index out of range", map[string]int{
				"index":     s,
				"fragments": len(fragments),
			})
		}
		b.WriteString(fragmentSep)
		b.WriteString(fragments[i])
	}

	logger.WithComponent(logger.ComponentCipher).Trace("key reconstructed", map[string]interface{}{
		"indexes":   len(indexes),
		"fragments": len(fragments),
	})
	return b.String(), nil
}

// Indexes decodes the index list carried in the "m" field of embedMetadataJSON.
func Indexes(embedMetadataJSON string) ([]int, error) {
	if !gjson.Valid(embedMetadataJSON) {
		return nil, errs.NewError(errs.CodeDecode, "embed metadata is not JSON")
	}
	m := gjson.Get(embedMetadataJSON, "m")
	if m.Type != gjson.String {
		return nil, errs.NewError(errs.CodeDecode, "embed metadata has no m field")
	}

	decoded, err := decodeBase64(reverse(m.String()))
	if err != nil {
		return nil, errs.NewError(errs.CodeDecode, "m is not base64 once reversed", err.Error())
	}

	var indexes []int
	for _, part := range strings.Split(decoded, "|") {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errs.NewError(errs.CodeDecode, "key index is not an integer", part)
		}
		indexes = append(indexes, n)
	}
	return indexes, nil
}

func decodeBase64(s string) (string, error) {
	s = strings.TrimSpace(s)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		if b, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr != nil {
			return "", err
		}
	}
	return string(b), nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
