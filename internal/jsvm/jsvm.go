// Package jsvm pulls object and array literals out of player scripts and evaluates them
// into JSON.
//
// Unpacked player code is not JSON: keys are bare, strings are single quoted and
// trailing commas are common. Literals are evaluated with goja as JSON.stringify(<literal>)
// and otto is tried when goja rejects the input. Nothing but the literal runs, and every
// evaluation is bounded by a timeout and the caller's context.
package jsvm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/robertkrimen/otto"
	"github.com/tidwall/gjson"
)

// EvalTimeout bounds a single literal evaluation.
var EvalTimeout = 2 * time.Second

var errHalt = errors.New("evaluation halted")

// FindLiteral returns the object or array literal assigned to key in src, for example
// the [...] of `tracks:[...]` or `"sources": [...]`.
func FindLiteral(src, key string) (string, bool) {
	re := keyPattern(key, `([\[{])`)
	for _, loc := range re.FindAllStringSubmatchIndex(src, -1) {
		start := loc[2]
		if end, ok := matchBracket(src, start); ok {
			return src[start : end+1], true
		}
	}
	return "", false
}

// StringValue returns the quoted string assigned to key in src, for example the URL of
// `file:"https://..."`. JSON escaped slashes are undone.
func StringValue(src, key string) (string, bool) {
	re := keyPattern(key, `(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')`)
	m := re.FindStringSubmatch(src)
	if m == nil {
		return "", false
	}
	v := m[1]
	if v == "" {
		v = m[2]
	}
	return strings.ReplaceAll(v, `\/`, `/`), v != ""
}

// ToJSON evaluates a JavaScript literal and returns its JSON encoding.
func ToJSON(ctx context.Context, literal string) (string, error) {
	if strings.TrimSpace(literal) == "" {
		return "", errors.New("empty literal")
	}
	out, gojaErr := evalGoja(ctx, literal)
	if gojaErr == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	out, ottoErr := evalOtto(ctx, literal)
	if ottoErr == nil {
		return out, nil
	}
	return "", fmt.Errorf("evaluate literal: goja: %v; otto: %w", gojaErr, ottoErr)
}

// Lookup finds the literal assigned to key in src, evaluates it and returns the gjson
// result at path, such as "0.file" for the first entry of a sources array.
func Lookup(ctx context.Context, src, key, path string) (gjson.Result, error) {
	literal, ok := FindLiteral(src, key)
	if !ok {
		return gjson.Result{}, fmt.Errorf("no %s literal in script", key)
	}
	doc, err := ToJSON(ctx, literal)
	if err != nil {
		return gjson.Result{}, err
	}
	if path == "" {
		return gjson.Parse(doc), nil
	}
	return gjson.Get(doc, path), nil
}

func evalGoja(ctx context.Context, literal string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, EvalTimeout)
	defer cancel()

	vm := goja.New()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(errHalt) })
	defer stop()

	v, err := vm.RunString("JSON.stringify(" + literal + ")")
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return "", errors.New("literal is not serializable")
	}
	s, ok := v.Export().(string)
	if !ok {
		return "", errors.New("literal did not stringify")
	}
	return s, nil
}

func evalOtto(ctx context.Context, literal string) (out string, err error) {
	ctx, cancel := context.WithTimeout(ctx, EvalTimeout)
	defer cancel()

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt <- func() { panic(errHalt) }
	})
	defer stop()
	defer func() {
		if r := recover(); r != nil {
			if r == errHalt {
				err = errHalt
				return
			}
			panic(r)
		}
	}()

	v, err := vm.Run("JSON.stringify(" + literal + ")")
	if err != nil {
		return "", err
	}
	if !v.IsString() {
		return "", errors.New("literal did not stringify")
	}
	return v.ToString()
}

func keyPattern(key, value string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^\w$])["']?` + regexp.QuoteMeta(key) + `["']?\s*:\s*` + value)
}

// matchBracket returns the index of the bracket closing the one at start. Brackets
// inside string literals are ignored.
func matchBracket(src string, start int) (int, bool) {
	var (
		stack []byte
		quote byte
	)
	for i := start; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
