package repo

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// fieldNames returns the snake_case filter vocabulary of a record type:
// the json tag name when present, otherwise the snake form of the Go field
// name. This is the same vocabulary the relational implementation uses for
// column names, so filter semantics stay identical across backends.
func fieldNames(t reflect.Type) map[string]struct{} {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	names := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := jsonName(field)
		if name == "" {
			continue
		}
		names[name] = struct{}{}
	}
	return names
}

func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}
	return toSnake(field.Name)
}

func toSnake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sanitize drops entries whose key is not a known field of the record type.
func sanitize(known map[string]struct{}, in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, ok := known[k]; ok {
			out[k] = v
		}
	}
	return out
}

// toDocument flattens a record into its field-name -> value form used for
// in-process filter matching by the document and memory implementations.
func toDocument(v any) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	t := rv.Type()
	doc := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := jsonName(field)
		if name == "" {
			continue
		}
		doc[name] = rv.Field(i).Interface()
	}
	return doc
}

// matchDocument applies the equality filters to a flattened record.
// Filters are assumed sanitized; every remaining key must match.
func matchDocument(doc map[string]any, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := doc[key]
		if !ok {
			return false
		}
		if !equalValues(got, want) {
			return false
		}
	}
	return true
}

// equalValues compares a record value with a filter value, normalizing
// numeric kinds so int and int64 filters behave the same.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if an, ok := asFloat(av); ok {
		bn, ok := asFloat(bv)
		return ok && an == bn
	}
	if av.Kind() == reflect.String && bv.Kind() == reflect.String {
		return av.String() == bv.String()
	}
	if av.Kind() == reflect.Bool && bv.Kind() == reflect.Bool {
		return av.Bool() == bv.Bool()
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}

// applyFields merges a sanitized partial update into a record through its
// JSON form, so field names line up with the filter vocabulary.
func applyFields[T any](record T, fields map[string]any) (T, error) {
	var updated T
	raw, err := json.Marshal(record)
	if err != nil {
		return updated, fmt.Errorf("encode record: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return updated, fmt.Errorf("decode record: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return updated, fmt.Errorf("encode update: %w", err)
	}
	if err := json.Unmarshal(merged, &updated); err != nil {
		return updated, fmt.Errorf("apply update: %w", err)
	}
	return updated, nil
}
