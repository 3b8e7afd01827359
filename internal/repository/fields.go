package repository

import (
	"reflect"
	"strings"
	"sync"
)

type fieldSet struct {
	byName  map[string][]int
	strings []string
}

var fieldCache sync.Map // reflect.Type -> *fieldSet

// fieldsOf indexes the json-visible fields of t, flattening embedded structs.
func fieldsOf(t reflect.Type) *fieldSet {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(*fieldSet)
	}

	set := &fieldSet{byName: make(map[string][]int)}
	collectFields(t, nil, set)
	actual, _ := fieldCache.LoadOrStore(t, set)
	return actual.(*fieldSet)
}

func collectFields(t reflect.Type, prefix []int, set *fieldSet) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		name, hasTag := jsonName(field)
		if name == "-" {
			continue
		}

		if field.Anonymous && !hasTag && field.Type.Kind() == reflect.Struct {
			collectFields(field.Type, index, set)
			continue
		}
		if !field.IsExported() {
			continue
		}
		if _, exists := set.byName[name]; exists {
			continue
		}

		set.byName[name] = index
		if field.Type.Kind() == reflect.String {
			set.strings = append(set.strings, name)
		}
	}
}

func jsonName(field reflect.StructField) (string, bool) {
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return field.Name, false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return field.Name, false
	}
	return name, true
}

// fieldValue returns the value of the json-named field of entity, dereferencing pointers.
// A nil pointer field reports ok=false.
func fieldValue(entity reflect.Value, name string) (any, bool) {
	for entity.Kind() == reflect.Pointer {
		if entity.IsNil() {
			return nil, false
		}
		entity = entity.Elem()
	}
	index, ok := fieldsOf(entity.Type()).byName[name]
	if !ok {
		return nil, false
	}

	value := entity.FieldByIndex(index)
	for value.Kind() == reflect.Pointer || value.Kind() == reflect.Interface {
		if value.IsNil() {
			return nil, false
		}
		value = value.Elem()
	}
	return value.Interface(), true
}
