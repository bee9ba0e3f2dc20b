package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ytget/mirrorresolve/orchestrator"
	"github.com/ytget/mirrorresolve/types"
)

type inputMirror struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

// readMirrors decodes a JSON array of {"label","ref"} objects.
func readMirrors(r io.Reader) ([]types.Mirror, error) {
	var raw []inputMirror
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode mirrors: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("no mirrors")
	}
	mirrors := make([]types.Mirror, 0, len(raw))
	for i, m := range raw {
		if strings.TrimSpace(m.Ref) == "" {
			return nil, fmt.Errorf("mirror %d has no ref", i)
		}
		mirrors = append(mirrors, types.NewMirror(m.Label, m.Ref))
	}
	return mirrors, nil
}

type resultView struct {
	Label    string `json:"label,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Status   string `json:"status"`
	URL      string `json:"url,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

type report struct {
	Active  string             `json:"active"`
	Default resultView         `json:"default"`
	Entries []resultView       `json:"entries"`
	State   orchestrator.State `json:"state"`
}

func newReport(set *types.ResolvedSet) *report {
	out := &report{Active: set.Active, Entries: make([]resultView, 0, len(set.Entries))}
	out.Default = view(set.Default)
	out.Default.Label = set.Active
	for _, e := range set.Entries {
		out.Entries = append(out.Entries, resultView{Label: e.Label, Kind: e.Kind.String(), Status: "pending"})
	}
	return out
}

func (r *report) addResults(set *types.ResolvedSet, results []types.Result) {
	for i, res := range results {
		v := view(res)
		v.Label = set.Entries[i].Label
		v.Kind = set.Entries[i].Kind.String()
		r.Entries[i] = v
	}
}

func view(res types.Result) resultView {
	v := resultView{
		Status:   res.Status.String(),
		URL:      res.URL,
		Subtitle: res.Subtitle,
		Reason:   string(res.Reason),
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}
