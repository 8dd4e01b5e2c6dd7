package model

import "fmt"

// OperationKind names one of the six operations the pipeline can execute.
type OperationKind string

const (
	OpSearchRead   OperationKind = "search_read"
	OpRead         OperationKind = "read"
	OpCreate       OperationKind = "create"
	OpWrite        OperationKind = "write"
	OpUnlink       OperationKind = "unlink"
	OpAuthenticate OperationKind = "authenticate"
)

// OperationKinds lists every kind in a stable order.
var OperationKinds = []OperationKind{
	OpSearchRead, OpRead, OpCreate, OpWrite, OpUnlink, OpAuthenticate,
}

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case OpSearchRead, OpRead, OpCreate, OpWrite, OpUnlink, OpAuthenticate:
		return true
	}
	return false
}

// ParseOperationKind converts a string to an OperationKind.
func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("model: unknown operation kind %q", s)
	}
	return k, nil
}

// Reserved parameter keys shared by every operation.
const (
	KeyBaseURL        = "base_url"
	KeyAfterExecution = "after_execution"
	KeyCustomResponse = "custom_response"
)

// ParamDict is the untyped parameter set returned by a handler.
type ParamDict = map[string]any

// AfterExecutionFunc post-processes a backend result. Its return value
// replaces the result for the rest of the pipeline.
type AfterExecutionFunc func(result any, params Params) (any, error)

// CustomResponseFunc builds the final response, bypassing the default envelope.
type CustomResponseFunc func(result any, params Params) (any, error)

// Hooks holds the optional caller-supplied pipeline hooks.
type Hooks struct {
	AfterExecution AfterExecutionFunc
	CustomResponse CustomResponseFunc
}

// Empty reports whether no hook is set.
func (h Hooks) Empty() bool {
	return h.AfterExecution == nil && h.CustomResponse == nil
}

// Condition is one (field, operator, value) filter triple.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Triple returns the condition in the backend's list form.
func (c Condition) Triple() []any {
	return []any{c.Field, c.Operator, c.Value}
}

// Domain is a conjunction of filter triples. It is opaque to the pipeline
// and forwarded to the backend as-is.
type Domain []Condition

// Triples returns the domain in the backend's nested-list form.
func (d Domain) Triples() []any {
	out := make([]any, len(d))
	for i, c := range d {
		out[i] = c.Triple()
	}
	return out
}

// Params is the validated, typed parameter set of one operation. It is a
// closed union: the only implementations are the six *Params types below.
type Params interface {
	Kind() OperationKind
	hookSet() Hooks
	withoutHooks() Params
}

// SplitHooks separates the hooks from a parameter set. The returned Params
// carries no hooks and is what gets forwarded to the backend.
func SplitHooks(p Params) (Params, Hooks) {
	return p.withoutHooks(), p.hookSet()
}

// SearchReadParams are the parameters of a search_read.
type SearchReadParams struct {
	Domain  Domain   `json:"domain"`
	Fields  []string `json:"fields,omitempty"`
	Limit   *int     `json:"limit,omitempty"`
	Offset  int      `json:"offset"`
	Order   string   `json:"order,omitempty"`
	BaseURL string   `json:"base_url,omitempty"`
	Hooks   Hooks    `json:"-"`
}

func (SearchReadParams) Kind() OperationKind { return OpSearchRead }
func (p SearchReadParams) hookSet() Hooks    { return p.Hooks }
func (p SearchReadParams) withoutHooks() Params {
	p.Hooks = Hooks{}
	return p
}

// ReadParams are the parameters of a read.
type ReadParams struct {
	IDs     []int64  `json:"ids"`
	Fields  []string `json:"fields,omitempty"`
	BaseURL string   `json:"base_url,omitempty"`
	Hooks   Hooks    `json:"-"`
}

func (ReadParams) Kind() OperationKind { return OpRead }
func (p ReadParams) hookSet() Hooks    { return p.Hooks }
func (p ReadParams) withoutHooks() Params {
	p.Hooks = Hooks{}
	return p
}

// CreateParams are the parameters of a create. Values holds one new record.
type CreateParams struct {
	Values  map[string]any `json:"values"`
	BaseURL string         `json:"base_url,omitempty"`
	Hooks   Hooks          `json:"-"`
}

func (CreateParams) Kind() OperationKind { return OpCreate }
func (p CreateParams) hookSet() Hooks    { return p.Hooks }
func (p CreateParams) withoutHooks() Params {
	p.Hooks = Hooks{}
	return p
}

// WriteParams are the parameters of a write.
type WriteParams struct {
	IDs     []int64        `json:"ids"`
	Values  map[string]any `json:"values"`
	BaseURL string         `json:"base_url,omitempty"`
	Hooks   Hooks          `json:"-"`
}

func (WriteParams) Kind() OperationKind { return OpWrite }
func (p WriteParams) hookSet() Hooks    { return p.Hooks }
func (p WriteParams) withoutHooks() Params {
	p.Hooks = Hooks{}
	return p
}

// UnlinkParams are the parameters of an unlink.
type UnlinkParams struct {
	IDs     []int64 `json:"ids"`
	BaseURL string  `json:"base_url,omitempty"`
	Hooks   Hooks   `json:"-"`
}

func (UnlinkParams) Kind() OperationKind { return OpUnlink }
func (p UnlinkParams) hookSet() Hooks    { return p.Hooks }
func (p UnlinkParams) withoutHooks() Params {
	p.Hooks = Hooks{}
	return p
}

// AuthenticateParams are the credentials of an authenticate. The server URL
// and database are bound when the endpoint is declared, not per call.
type AuthenticateParams struct {
	Username string `json:"username"`
	Password string `json:"-"`
	Hooks    Hooks  `json:"-"`
}

func (AuthenticateParams) Kind() OperationKind { return OpAuthenticate }
func (p AuthenticateParams) hookSet() Hooks    { return p.Hooks }
func (p AuthenticateParams) withoutHooks() Params {
	p.Hooks = Hooks{}
	return p
}
