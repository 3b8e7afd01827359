package repository

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	apperrors "github.com/charlesng35/campusync/pkg/errors"
)

// Pagination selects a window of the (sorted) result.
type Pagination struct {
	Offset  int    `json:"offset,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	OrderBy string `json:"orderBy,omitempty"`
	Order   string `json:"order,omitempty"`
}

// Search is a substring match over Fields, or every string field when Fields is empty.
type Search struct {
	Query         string   `json:"query"`
	Fields        []string `json:"fields,omitempty"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
}

// ListOptions parameterise GetAll. UseCache defaults to true and is not part of the
// cache key.
type ListOptions struct {
	Pagination *Pagination    `json:"pagination,omitempty"`
	Search     *Search        `json:"search,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	UseCache   *bool          `json:"-"`
}

func (o ListOptions) cacheEnabled() bool {
	return o.UseCache == nil || *o.UseCache
}

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

var operators = map[string]struct{}{
	"eq": {}, "ne": {}, "gt": {}, "gte": {}, "lt": {}, "lte": {}, "contains": {}, "in": {},
}

// apply runs filters, search, sort and pagination in that order.
func apply[T any](items []T, opts ListOptions) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		value := reflect.ValueOf(&item)
		ok, err := matchesFilters(value, opts.Filters)
		if err != nil {
			return nil, err
		}
		if ok && matchesSearch(value, opts.Search) {
			out = append(out, item)
		}
	}

	if p := opts.Pagination; p != nil {
		if p.OrderBy != "" {
			desc := strings.EqualFold(p.Order, OrderDesc)
			sort.SliceStable(out, func(i, j int) bool {
				a, _ := fieldValue(reflect.ValueOf(&out[i]), p.OrderBy)
				b, _ := fieldValue(reflect.ValueOf(&out[j]), p.OrderBy)
				c, ok := compareValues(a, b)
				if !ok {
					return false
				}
				if desc {
					return c > 0
				}
				return c < 0
			})
		}

		offset := p.Offset
		if offset < 0 {
			offset = 0
		}
		if offset >= len(out) {
			return []T{}, nil
		}
		out = out[offset:]
		if p.Limit > 0 && p.Limit < len(out) {
			out = out[:p.Limit]
		}
	}
	return out, nil
}

func matchesFilters(entity reflect.Value, filters map[string]any) (bool, error) {
	for field, condition := range filters {
		actual, present := fieldValue(entity, field)
		ok, err := matchCondition(field, actual, present, condition)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchCondition(field string, actual any, present bool, condition any) (bool, error) {
	if ops, ok := condition.(map[string]any); ok && isOperatorMap(ops) {
		for op, operand := range ops {
			matched, err := matchOperator(field, op, actual, present, operand)
			if err != nil || !matched {
				return false, err
			}
		}
		return true, nil
	}

	if list, ok := asList(condition); ok {
		return present && containsValue(list, actual), nil
	}
	return present && equalValues(actual, condition), nil
}

func isOperatorMap(ops map[string]any) bool {
	if len(ops) == 0 {
		return false
	}
	for key := range ops {
		if _, ok := operators[key]; !ok {
			return false
		}
	}
	return true
}

func matchOperator(field, op string, actual any, present bool, operand any) (bool, error) {
	switch op {
	case "eq":
		return present && equalValues(actual, operand), nil
	case "ne":
		return !present || !equalValues(actual, operand), nil
	case "in":
		list, ok := asList(operand)
		if !ok {
			return false, apperrors.NewBadRequest(fmt.Sprintf("filter %q: operator in expects a list", field))
		}
		return present && containsValue(list, actual), nil
	case "contains":
		if !present {
			return false, nil
		}
		if list, ok := asList(actual); ok {
			return containsValue(list, operand), nil
		}
		text, ok := actual.(string)
		needle, isString := operand.(string)
		return ok && isString && strings.Contains(text, needle), nil
	}

	if !present {
		return false, nil
	}
	c, ok := compareValues(actual, operand)
	if !ok {
		return false, nil
	}
	switch op {
	case "gt":
		return c > 0, nil
	case "gte":
		return c >= 0, nil
	case "lt":
		return c < 0, nil
	case "lte":
		return c <= 0, nil
	}
	return false, apperrors.NewBadRequest(fmt.Sprintf("filter %q: unsupported operator %q", field, op))
}

func matchesSearch(entity reflect.Value, search *Search) bool {
	if search == nil || search.Query == "" {
		return true
	}

	fields := search.Fields
	if len(fields) == 0 {
		fields = fieldsOf(reflect.Indirect(entity).Type()).strings
	}

	query := search.Query
	if !search.CaseSensitive {
		query = strings.ToLower(query)
	}
	for _, field := range fields {
		value, ok := fieldValue(entity, field)
		if !ok {
			continue
		}
		text, ok := value.(string)
		if !ok {
			text = fmt.Sprint(value)
		}
		if !search.CaseSensitive {
			text = strings.ToLower(text)
		}
		if strings.Contains(text, query) {
			return true
		}
	}
	return false
}

func asList(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if _, isBytes := value.([]byte); isBytes {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func containsValue(list []any, value any) bool {
	for _, candidate := range list {
		if equalValues(value, candidate) {
			return true
		}
	}
	return false
}

// equalValues compares natively where it can. A string operand against a non-string
// field (query-string filters) is matched on the field's printed form.
func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	if sb, ok := b.(string); ok {
		if _, isString := a.(string); !isString && a != nil {
			return fmt.Sprint(a) == sb
		}
	}
	if sa, ok := a.(string); ok {
		if _, isString := b.(string); !isString && b != nil {
			return fmt.Sprint(b) == sa
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders a against b: numbers numerically, strings lexicographically,
// times chronologically (RFC 3339 strings accepted), false before true.
func compareValues(a, b any) (int, bool) {
	if ta, ok := asTime(a); ok {
		tb, ok := asTime(parseTimeOperand(b))
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if fa, ok := asNumber(a); ok {
		fb, ok := asNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(va, vb), true
	case bool:
		vb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case va == vb:
			return 0, true
		case !va:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	}
	return time.Time{}, false
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string, bool, nil:
		return 0, false
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// parseTimeOperand lets time fields be compared against RFC 3339 strings.
func parseTimeOperand(value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, text); err == nil {
			return t
		}
	}
	return value
}
