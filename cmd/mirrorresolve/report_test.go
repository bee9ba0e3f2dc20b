package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/types"
)

func TestReadMirrors(t *testing.T) {
	got, err := readMirrors(strings.NewReader(`[
		{"label":"Desustream 720p","ref":"https://svc.example/e/1"},
		{"label":"mystery","ref":" aHR0cHM6Ly94LmV4YW1wbGUvZS8y "}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Kind != types.KindSecureService || got[1].Kind != types.KindUnknown {
		t.Errorf("kinds = %v, %v", got[0].Kind, got[1].Kind)
	}
	if got[1].Ref != "aHR0cHM6Ly94LmV4YW1wbGUvZS8y" {
		t.Errorf("ref not trimmed: %q", got[1].Ref)
	}
}

func TestReadMirrorsErrors(t *testing.T) {
	for _, in := range []string{``, `{}`, `[]`, `[{"label":"x","ref":"  "}]`} {
		if _, err := readMirrors(strings.NewReader(in)); err == nil {
			t.Errorf("readMirrors(%q) error = nil", in)
		}
	}
}

func TestReport(t *testing.T) {
	set := &types.ResolvedSet{
		Entries: []types.Entry{
			{Label: "a", Kind: types.KindInline},
			{Label: "b", Kind: types.KindLocal},
		},
		Active:  "a",
		Default: types.Raw("https://cdn.example/a.mp4"),
	}
	r := newReport(set)
	if r.Default.Status != "raw" || r.Default.Label != "a" || r.Entries[1].Status != "pending" {
		t.Errorf("newReport() = %+v", r)
	}

	failed := types.Failed(errs.ReasonShapeMismatch, errors.New("no iframe"))
	r.addResults(set, []types.Result{types.Raw("https://cdn.example/a.mp4"), failed})
	if got := r.Entries[1]; got.Kind != "local" || got.Reason != "shape-mismatch" || got.Error != "no iframe" {
		t.Errorf("Entries[1] = %+v", got)
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(errs.Canceled(nil)) != 130 {
		t.Error("canceled exit code")
	}
	if exitCode(errors.New("x")) != 1 {
		t.Error("generic exit code")
	}
}
