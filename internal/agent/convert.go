package agent

import (
	"encoding/base64"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// tracePartDocument rebuilds the service's JSON wire shape for one trace part.
// The SDK decodes the stream into typed structs; this walks them back into
// the document the HTTP API carries, without dropping any member, so the
// browser receives the trace as the service sent it.
func tracePartDocument(part types.TracePart) map[string]any {
	doc, _ := wireValue(reflect.ValueOf(part)).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}
	return doc
}

// smithyDocument is satisfied by the SDK's document.Interface values.
type smithyDocument interface {
	UnmarshalSmithyDocument(v any) error
}

var timeType = reflect.TypeOf(time.Time{})

// wireValue converts an SDK value into JSON-compatible Go values:
// structs become maps keyed by lowerCamelCase field names, union members
// become single-key maps named after the member, enums become strings.
// It returns nil for absent values.
func wireValue(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		if d, ok := v.Interface().(smithyDocument); ok {
			var out any
			if err := d.UnmarshalSmithyDocument(&out); err != nil {
				return nil
			}
			return out
		}
		return wireValue(v.Elem())
	}

	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Struct {
			if m, ok := unionMember(v.Elem()); ok {
				return m
			}
		}
		return wireValue(v.Elem())
	}

	switch v.Kind() {
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)
		}
		if m, ok := unionMember(v); ok {
			return m
		}
		return structValue(v)

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes())
		}
		items := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			items = append(items, wireValue(v.Index(i)))
		}
		return items

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = wireValue(iter.Value())
		}
		return m

	case reflect.String:
		if v.Len() == 0 {
			return nil
		}
		return v.String()
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	}
	return nil
}

func structValue(v reflect.Value) map[string]any {
	t := v.Type()
	m := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if val := wireValue(v.Field(i)); val != nil {
			m[wireName(f.Name)] = val
		}
	}
	return m
}

// unionMember recognises the SDK's union member structs, named
// <Union>Member<Name> with a single Value field, and renders them as
// {"<name>": value}.
func unionMember(v reflect.Value) (map[string]any, bool) {
	t := v.Type()
	if t == reflect.TypeOf(types.UnknownUnionMember{}) {
		u := v.Interface().(types.UnknownUnionMember)
		return map[string]any{u.Tag: base64.StdEncoding.EncodeToString(u.Value)}, true
	}
	_, name, ok := strings.Cut(t.Name(), "Member")
	if !ok || name == "" {
		return nil, false
	}
	field, ok := t.FieldByName("Value")
	if !ok {
		return nil, false
	}
	return map[string]any{wireName(name): wireValue(v.FieldByIndex(field.Index))}, true
}

// wireName lowers the leading capital run of a Go field name:
// TraceId -> traceId, S3Location -> s3Location, URLPath -> urlPath.
func wireName(name string) string {
	r := []rune(name)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	if n > 1 && n < len(r) && unicode.IsLower(r[n]) {
		n--
	}
	for i := 0; i < n; i++ {
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}
