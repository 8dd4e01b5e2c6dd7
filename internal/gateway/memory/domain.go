package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/pitabwire/odoorest/model"
)

// matchDomain reports whether row satisfies every condition of d. An empty
// domain matches everything.
func matchDomain(row model.Record, d model.Domain) (bool, error) {
	for _, c := range d {
		ok, err := matchCondition(row, c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchCondition(row model.Record, c model.Condition) (bool, error) {
	left := row[c.Field]
	switch c.Operator {
	case "=", "==":
		return equal(left, c.Value), nil
	case "!=", "<>":
		return !equal(left, c.Value), nil
	case "<", "<=", ">", ">=":
		cmp, ok := compare(left, c.Value)
		if !ok {
			return false, nil
		}
		switch c.Operator {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case "in", "not in":
		values, ok := sequence(c.Value)
		if !ok {
			return false, model.NewDomainError(fmt.Sprintf("Invalid value for operator %q on field %q", c.Operator, c.Field))
		}
		found := false
		for _, v := range values {
			if equal(left, v) {
				found = true
				break
			}
		}
		return found == (c.Operator == "in"), nil
	case "like", "ilike", "=like", "=ilike":
		pattern, ok := c.Value.(string)
		if !ok {
			return false, model.NewDomainError(fmt.Sprintf("Invalid value for operator %q on field %q", c.Operator, c.Field))
		}
		s, ok := left.(string)
		if !ok {
			return false, nil
		}
		if !strings.HasPrefix(c.Operator, "=") {
			pattern = "%" + pattern + "%"
		}
		return likeMatch(pattern, s, strings.HasSuffix(c.Operator, "ilike")), nil
	}
	return false, model.NewDomainError(fmt.Sprintf("Invalid domain operator %q", c.Operator))
}

// likeMatch evaluates a SQL LIKE pattern where % matches any run and _ any
// single character.
func likeMatch(pattern, s string, fold bool) bool {
	var b strings.Builder
	b.WriteString("^")
	if fold {
		b.WriteString("(?i)")
	}
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func sequence(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// equal compares two field values. Numbers compare by value across types;
// false also matches an unset field, as in the backend.
func equal(a, b any) bool {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}
	if b == false && a == nil {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values of the same family. ok is false when they are
// not comparable.
func compare(a, b any) (int, bool) {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
		return 0, false
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

type orderKey struct {
	field string
	desc  bool
}

// parseOrder parses "field [asc|desc], ...". The empty string orders by id.
func parseOrder(order string) ([]orderKey, error) {
	order = strings.TrimSpace(order)
	if order == "" {
		return []orderKey{{field: "id"}}, nil
	}
	var keys []orderKey
	for _, part := range strings.Split(order, ",") {
		tokens := strings.Fields(part)
		switch {
		case len(tokens) == 1:
			keys = append(keys, orderKey{field: tokens[0]})
		case len(tokens) == 2 && strings.EqualFold(tokens[1], "asc"):
			keys = append(keys, orderKey{field: tokens[0]})
		case len(tokens) == 2 && strings.EqualFold(tokens[1], "desc"):
			keys = append(keys, orderKey{field: tokens[0], desc: true})
		default:
			return nil, model.NewDomainError(fmt.Sprintf("Invalid order specification %q", strings.TrimSpace(part)))
		}
	}
	return append(keys, orderKey{field: "id"}), nil
}

// sortRecords sorts rows by keys. Unset values sort first.
func sortRecords(rows []model.Record, keys []orderKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, b := rows[i][k.field], rows[j][k.field]
			var cmp int
			switch {
			case a == nil && b == nil:
				cmp = 0
			case a == nil:
				cmp = -1
			case b == nil:
				cmp = 1
			default:
				cmp, _ = compare(a, b)
			}
			if cmp == 0 {
				continue
			}
			if k.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
