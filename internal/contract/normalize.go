package contract

import (
	"github.com/pitabwire/odoorest/model"
)

// Normalize validates raw against the contract and returns a new dict in
// which every value has its canonical type and every defaulted key is
// present. raw is never modified.
//
// Canonical types: domain model.Domain, ids []int64, fields []string (nil
// meaning all fields), limit int or nil, offset int, order/base_url string,
// values map[string]any, hooks model.AfterExecutionFunc and
// model.CustomResponseFunc.
func (c *Contract) Normalize(raw model.ParamDict, opts Options) (model.ParamDict, error) {
	out := make(model.ParamDict, len(raw)+len(c.keys))

	for _, k := range c.keys {
		v, present := raw[k.Name]
		if !present {
			if k.Required || (k.Name == model.KeyBaseURL && opts.RequireBaseURL) {
				return nil, model.NewMissingFieldError(k.Name)
			}
			if k.HasDefault {
				out[k.Name] = k.Default
			}
			continue
		}

		nv, err := coerce(k, v)
		if err != nil {
			return nil, err
		}
		if k.Name == model.KeyBaseURL && opts.RequireBaseURL && nv == "" {
			return nil, model.NewMissingFieldError(k.Name)
		}
		out[k.Name] = nv
	}

	for _, name := range sortedKeys(raw) {
		if _, declared := c.key(name); declared {
			continue
		}
		if !c.open {
			return nil, model.NewUnknownParameterError(name, c.kind)
		}
		out[name] = raw[name]
	}

	if err := checkAllowed(c, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Parse validates raw and returns the typed parameter variant of the
// contract's operation kind.
func (c *Contract) Parse(raw model.ParamDict, opts Options) (model.Params, error) {
	norm, err := c.Normalize(raw, opts)
	if err != nil {
		return nil, err
	}
	return c.build(norm), nil
}

// Parse is a convenience wrapper resolving the contract of kind first.
func Parse(kind model.OperationKind, raw model.ParamDict, opts Options) (model.Params, error) {
	c, err := For(kind)
	if err != nil {
		return nil, model.NewValidationError("", err.Error())
	}
	return c.Parse(raw, opts)
}

func coerce(k Key, v any) (any, error) {
	var (
		out any
		ok  bool
	)
	switch k.Type {
	case TypeDomain:
		out, ok = toDomain(v)
	case TypeIDs:
		var ids []int64
		ids, ok = toIDs(v)
		if ok && len(ids) == 0 {
			return nil, model.NewValidationError(k.Name, "parameter \"ids\" must not be empty")
		}
		out = ids
	case TypeFields:
		out, ok = toFields(v)
	case TypeNonNegativeInt:
		if v == nil && k.HasDefault && k.Default == nil {
			return nil, nil
		}
		out, ok = toNonNegativeInt(v)
	case TypeString:
		var s string
		s, ok = v.(string)
		if ok && k.Required && s == "" {
			return nil, model.NewMissingFieldError(k.Name)
		}
		out = s
	case TypeValues:
		out, ok = toValues(v)
	case TypeAfterExecution:
		if v == nil {
			return model.AfterExecutionFunc(nil), nil
		}
		out, ok = toAfterExecution(v)
	case TypeCustomResponse:
		if v == nil {
			return model.CustomResponseFunc(nil), nil
		}
		out, ok = toCustomResponse(v)
	}
	if !ok {
		return nil, model.NewInvalidTypeError(k.Name, k.Type.String())
	}
	return out, nil
}

func checkAllowed(c *Contract, norm model.ParamDict, opts Options) error {
	allowed := opts.allowedSet()
	if allowed == nil {
		return nil
	}

	if _, projects := c.key("fields"); projects {
		fields, _ := norm["fields"].([]string)
		if len(fields) == 0 {
			// "every field" narrows to the allowed set.
			norm["fields"] = append([]string(nil), opts.AllowedFields...)
		}
		for _, f := range fields {
			if _, ok := allowed[f]; !ok {
				return model.NewDisallowedFieldError("fields", f)
			}
		}
	}

	var values map[string]any
	switch {
	case c.kind == model.OpWrite:
		values, _ = norm["values"].(map[string]any)
	case c.open:
		values = recordValues(c, norm)
	}
	for _, f := range sortedKeys(values) {
		if _, ok := allowed[f]; !ok {
			return model.NewDisallowedFieldError("values", f)
		}
	}
	return nil
}

// recordValues returns the undeclared keys of an open contract's dict.
func recordValues(c *Contract, norm model.ParamDict) map[string]any {
	values := make(map[string]any)
	for k, v := range norm {
		if _, declared := c.key(k); !declared {
			values[k] = v
		}
	}
	return values
}

func (c *Contract) build(norm model.ParamDict) model.Params {
	hooks := model.Hooks{}
	hooks.AfterExecution, _ = norm[model.KeyAfterExecution].(model.AfterExecutionFunc)
	hooks.CustomResponse, _ = norm[model.KeyCustomResponse].(model.CustomResponseFunc)
	baseURL, _ := norm[model.KeyBaseURL].(string)

	switch c.kind {
	case model.OpSearchRead:
		p := model.SearchReadParams{BaseURL: baseURL, Hooks: hooks}
		p.Domain, _ = norm["domain"].(model.Domain)
		p.Fields, _ = norm["fields"].([]string)
		if limit, ok := norm["limit"].(int); ok {
			p.Limit = &limit
		}
		p.Offset, _ = norm["offset"].(int)
		p.Order, _ = norm["order"].(string)
		return p
	case model.OpRead:
		p := model.ReadParams{BaseURL: baseURL, Hooks: hooks}
		p.IDs, _ = norm["ids"].([]int64)
		p.Fields, _ = norm["fields"].([]string)
		return p
	case model.OpCreate:
		return model.CreateParams{Values: recordValues(c, norm), BaseURL: baseURL, Hooks: hooks}
	case model.OpWrite:
		p := model.WriteParams{BaseURL: baseURL, Hooks: hooks}
		p.IDs, _ = norm["ids"].([]int64)
		p.Values, _ = norm["values"].(map[string]any)
		return p
	case model.OpUnlink:
		p := model.UnlinkParams{BaseURL: baseURL, Hooks: hooks}
		p.IDs, _ = norm["ids"].([]int64)
		return p
	default:
		p := model.AuthenticateParams{Hooks: hooks}
		p.Username, _ = norm["username"].(string)
		p.Password, _ = norm["password"].(string)
		return p
	}
}
