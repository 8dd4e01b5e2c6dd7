// Package contract declares the parameter contract of every operation and
// validates untyped handler parameters against it.
package contract

import (
	"fmt"
	"sort"

	"github.com/pitabwire/odoorest/model"
)

// ValueType is the shape a parameter value must have.
type ValueType int

const (
	TypeDomain ValueType = iota
	TypeIDs
	TypeFields
	TypeNonNegativeInt
	TypeString
	TypeValues
	TypeAfterExecution
	TypeCustomResponse
)

func (t ValueType) String() string {
	switch t {
	case TypeDomain:
		return "a sequence of (field, operator, value) triples"
	case TypeIDs:
		return "a non-empty sequence of integer identifiers"
	case TypeFields:
		return "a sequence of field names"
	case TypeNonNegativeInt:
		return "a non-negative integer"
	case TypeString:
		return "a string"
	case TypeValues:
		return "a mapping of field names to values"
	case TypeAfterExecution:
		return "a function(result, params) (any, error)"
	case TypeCustomResponse:
		return "a function(result, params) (any, error)"
	default:
		return "unknown"
	}
}

// Key describes one parameter of a contract.
type Key struct {
	Name     string
	Type     ValueType
	Required bool
	// HasDefault marks keys that Normalize always fills; Default is the
	// value used when the key is absent.
	HasDefault bool
	Default    any
}

// Contract is the immutable parameter schema of one operation kind.
type Contract struct {
	kind      model.OperationKind
	primitive string
	keys      []Key
	// open contracts accept arbitrary extra keys as record values (create).
	open bool
}

// Kind returns the operation kind.
func (c *Contract) Kind() model.OperationKind { return c.kind }

// Primitive returns the backend primitive the operation maps to.
func (c *Contract) Primitive() string { return c.primitive }

// Open reports whether unknown keys are accepted as record values.
func (c *Contract) Open() bool { return c.open }

// Keys returns a copy of the declared keys in declaration order.
func (c *Contract) Keys() []Key {
	out := make([]Key, len(c.keys))
	copy(out, c.keys)
	return out
}

// Required returns the names of the required keys.
func (c *Contract) Required() []string {
	var out []string
	for _, k := range c.keys {
		if k.Required {
			out = append(out, k.Name)
		}
	}
	return out
}

// Defaults returns the keys that Normalize fills when absent.
func (c *Contract) Defaults() map[string]any {
	out := make(map[string]any)
	for _, k := range c.keys {
		if k.HasDefault {
			out[k.Name] = k.Default
		}
	}
	return out
}

func (c *Contract) key(name string) (Key, bool) {
	for _, k := range c.keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

// AllFields is the "every field" sentinel used when fields is absent.
var AllFields []string

var hookKeys = []Key{
	{Name: model.KeyAfterExecution, Type: TypeAfterExecution},
	{Name: model.KeyCustomResponse, Type: TypeCustomResponse},
}

var baseURLKey = Key{Name: model.KeyBaseURL, Type: TypeString, HasDefault: true, Default: ""}

func withHooks(keys ...Key) []Key {
	return append(keys, hookKeys...)
}

var contracts = map[model.OperationKind]*Contract{
	model.OpSearchRead: {
		kind:      model.OpSearchRead,
		primitive: "search_read",
		keys: withHooks(
			Key{Name: "domain", Type: TypeDomain, HasDefault: true, Default: model.Domain{}},
			Key{Name: "fields", Type: TypeFields, HasDefault: true, Default: AllFields},
			Key{Name: "limit", Type: TypeNonNegativeInt, HasDefault: true, Default: nil},
			Key{Name: "offset", Type: TypeNonNegativeInt, HasDefault: true, Default: 0},
			Key{Name: "order", Type: TypeString, HasDefault: true, Default: ""},
			baseURLKey,
		),
	},
	model.OpRead: {
		kind:      model.OpRead,
		primitive: "read",
		keys: withHooks(
			Key{Name: "ids", Type: TypeIDs, Required: true},
			Key{Name: "fields", Type: TypeFields, HasDefault: true, Default: AllFields},
			baseURLKey,
		),
	},
	model.OpCreate: {
		kind:      model.OpCreate,
		primitive: "create",
		keys:      withHooks(baseURLKey),
		open:      true,
	},
	model.OpWrite: {
		kind:      model.OpWrite,
		primitive: "write",
		keys: withHooks(
			Key{Name: "ids", Type: TypeIDs, Required: true},
			Key{Name: "values", Type: TypeValues, Required: true},
			baseURLKey,
		),
	},
	model.OpUnlink: {
		kind:      model.OpUnlink,
		primitive: "unlink",
		keys: withHooks(
			Key{Name: "ids", Type: TypeIDs, Required: true},
			baseURLKey,
		),
	},
	model.OpAuthenticate: {
		kind:      model.OpAuthenticate,
		primitive: "authenticate",
		keys: withHooks(
			Key{Name: "username", Type: TypeString, Required: true},
			Key{Name: "password", Type: TypeString, Required: true},
		),
	},
}

// For returns the contract of the given operation kind.
func For(kind model.OperationKind) (*Contract, error) {
	c, ok := contracts[kind]
	if !ok {
		return nil, fmt.Errorf("contract: unknown operation kind %q", kind)
	}
	return c, nil
}

// MustFor is like For but panics on an unknown kind. It is meant for
// declaration time, where an unknown kind is a wiring mistake.
func MustFor(kind model.OperationKind) *Contract {
	c, err := For(kind)
	if err != nil {
		panic(err)
	}
	return c
}

// Options are the per-entity settings applied on top of a contract.
type Options struct {
	// AllowedFields restricts fields and values to the listed names when
	// non-empty. A read without fields then returns only these names.
	AllowedFields []string
	// RequireBaseURL makes base_url mandatory for the CRUD operations.
	RequireBaseURL bool
}

func (o Options) allowedSet() map[string]struct{} {
	if len(o.AllowedFields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(o.AllowedFields))
	for _, f := range o.AllowedFields {
		set[f] = struct{}{}
	}
	return set
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
