// Package basen decodes digit strings written in an arbitrary radix between 2 and 95.
//
// Radices up to 36 use ordinary positional notation. Radices 37 through 62 draw their
// digits from the first radix characters of 0-9a-zA-Z, and radix 95 uses the printable
// ASCII range from space to tilde.
package basen

import (
	"math"
	"strconv"
	"strings"

	"github.com/ytget/mirrorresolve/errs"
)

const (
	// Alphabet62 is the digit alphabet for radices 37 through 62.
	Alphabet62 = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// Alphabet95 is the digit alphabet for radix 95.
	Alphabet95 = ` !"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\]^_` + "`" + `abcdefghijklmnopqrstuvwxyz{|}~`

	minRadix = 2
	maxRadix = 95
)

// Decoder converts digit strings of one radix to integers.
type Decoder struct {
	radix    int
	alphabet string
	index    map[rune]int
}

// New builds a decoder for radix. Radix 1 and radices 63..94 are rejected.
func New(radix int) (*Decoder, error) {
	alphabet, err := alphabetFor(radix)
	if err != nil {
		return nil, err
	}
	d := &Decoder{radix: radix, alphabet: alphabet}
	if radix > 36 {
		d.index = make(map[rune]int, len(alphabet))
		for i, r := range alphabet {
			d.index[r] = i
		}
	}
	return d, nil
}

// Unbase decodes value. Characters outside the alphabet are a decode error.
func (d *Decoder) Unbase(value string) (int, error) {
	if value == "" {
		return 0, errs.NewError(errs.CodeDecode, "empty digit string")
	}
	if d.radix <= 36 {
		for _, r := range value {
			if !strings.ContainsRune(d.alphabet, toLower(r)) {
				return 0, errs.NewError(errs.CodeDecode, "digit outside alphabet", map[string]any{"value": value, "radix": d.radix})
			}
		}
		n, err := strconv.ParseInt(value, d.radix, 64)
		if err != nil || n > math.MaxInt {
			return 0, errs.NewError(errs.CodeDecode, "invalid digit string", map[string]any{"value": value, "radix": d.radix})
		}
		return int(n), nil
	}

	// Equivalent to summing digit*radix^position over the reversed string.
	ret := 0
	for _, r := range value {
		idx, ok := d.index[r]
		if !ok {
			return 0, errs.NewError(errs.CodeDecode, "digit outside alphabet", map[string]any{"value": value, "radix": d.radix})
		}
		if ret > (math.MaxInt-idx)/d.radix {
			return 0, errs.NewError(errs.CodeDecode, "value overflows int", map[string]any{"value": value, "radix": d.radix})
		}
		ret = ret*d.radix + idx
	}
	return ret, nil
}

// Encode writes n in the decoder radix.
func (d *Decoder) Encode(n int) string {
	if n < 0 {
		return ""
	}
	if n == 0 {
		return d.alphabet[:1]
	}
	var buf []byte
	for n > 0 {
		buf = append(buf, d.alphabet[n%d.radix])
		n /= d.radix
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// Unbase decodes value written in radix.
func Unbase(value string, radix int) (int, error) {
	d, err := New(radix)
	if err != nil {
		return 0, err
	}
	return d.Unbase(value)
}

// Encode writes n in radix. It returns an error for unsupported radices.
func Encode(n int, radix int) (string, error) {
	d, err := New(radix)
	if err != nil {
		return "", err
	}
	return d.Encode(n), nil
}

func alphabetFor(radix int) (string, error) {
	switch {
	case radix >= minRadix && radix <= 62:
		return Alphabet62[:radix], nil
	case radix == maxRadix:
		return Alphabet95, nil
	default:
		return "", errs.NewError(errs.CodeUnsupportedRadix, "unsupported radix", radix)
	}
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
