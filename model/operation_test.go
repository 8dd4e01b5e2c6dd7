package model

import (
	"net/http"
	"testing"
)

func TestParseOperationKind(t *testing.T) {
	for _, k := range OperationKinds {
		got, err := ParseOperationKind(string(k))
		if err != nil {
			t.Errorf("ParseOperationKind(%q) error = %v", k, err)
		}
		if got != k {
			t.Errorf("ParseOperationKind(%q) = %q", k, got)
		}
	}
	if _, err := ParseOperationKind("delete"); err == nil {
		t.Error("ParseOperationKind(delete) should fail")
	}
}

func TestSplitHooks_removesHooks(t *testing.T) {
	after := func(result any, _ Params) (any, error) { return result, nil }
	custom := func(result any, _ Params) (any, error) { return result, nil }

	params := []Params{
		SearchReadParams{Hooks: Hooks{AfterExecution: after, CustomResponse: custom}},
		ReadParams{IDs: []int64{1}, Hooks: Hooks{AfterExecution: after, CustomResponse: custom}},
		CreateParams{Values: map[string]any{"name": "x"}, Hooks: Hooks{AfterExecution: after, CustomResponse: custom}},
		WriteParams{IDs: []int64{1}, Hooks: Hooks{AfterExecution: after, CustomResponse: custom}},
		UnlinkParams{IDs: []int64{1}, Hooks: Hooks{AfterExecution: after, CustomResponse: custom}},
		AuthenticateParams{Username: "u", Hooks: Hooks{AfterExecution: after, CustomResponse: custom}},
	}

	for _, p := range params {
		t.Run(string(p.Kind()), func(t *testing.T) {
			stripped, hooks := SplitHooks(p)
			if hooks.AfterExecution == nil || hooks.CustomResponse == nil {
				t.Fatal("SplitHooks lost a hook")
			}
			if _, h := SplitHooks(stripped); !h.Empty() {
				t.Error("stripped params still carry hooks")
			}
			if stripped.Kind() != p.Kind() {
				t.Errorf("Kind() = %q, want %q", stripped.Kind(), p.Kind())
			}
		})
	}
}

func TestDomain_Triples(t *testing.T) {
	d := Domain{{Field: "name", Operator: "ilike", Value: "acme"}, {Field: "id", Operator: "in", Value: []int64{1, 2}}}
	got := d.Triples()
	if len(got) != 2 {
		t.Fatalf("len(Triples()) = %d, want 2", len(got))
	}
	first, ok := got[0].([]any)
	if !ok || len(first) != 3 || first[0] != "name" || first[1] != "ilike" || first[2] != "acme" {
		t.Errorf("Triples()[0] = %v", got[0])
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{"envelope", Envelope{Status: 201}, 201},
		{"envelope pointer", &Envelope{Status: 404}, 404},
		{"zero envelope", Envelope{}, http.StatusOK},
		{"nil envelope pointer", (*Envelope)(nil), http.StatusOK},
		{"plain map", map[string]any{"ok": true}, http.StatusOK},
		{"nil", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.body); got != tt.want {
				t.Errorf("StatusOf() = %d, want %d", got, tt.want)
			}
		})
	}
}
