package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"growpod/pkg/domain"
)

// timestampLayout renders timestamps with a fixed width in UTC so canonical
// bytes never depend on location or trailing-zero trimming.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// canonicalize normalizes v into plain JSON values: map[string]any, []any,
// string, float64, bool and nil. Timestamps become fixed-layout strings and
// every number becomes a float64, so a value that has been persisted as JSON
// and decoded again canonicalizes to the same tree. Non-finite numbers and
// values with no JSON form are rejected with domain.ErrInvalidInput.
func canonicalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case bool:
		return x, nil
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %q: %v", domain.ErrInvalidInput, x, err)
		}
		return finite(f)
	case time.Time:
		return formatTimestamp(x), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return formatTimestamp(*x), nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			c, err := canonicalize(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			c, err := canonicalize(val)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}
	return canonicalizeReflect(reflect.ValueOf(v))
}

func canonicalizeReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return canonicalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key type %s", domain.ErrInvalidInput, rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			c, err := canonicalize(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			c, err := canonicalize(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	case reflect.Struct:
		if m, ok := rv.Interface().(json.Marshaler); ok {
			return canonicalizeMarshaler(m)
		}
		out := make(map[string]any, rv.NumField())
		if err := canonicalizeFields(rv, out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value of type %s", domain.ErrInvalidInput, rv.Type())
	}
}

// canonicalizeFields walks exported struct fields the way encoding/json
// names them, so nested timestamps still reach the fixed layout. Untagged
// embedded structs are flattened into out.
func canonicalizeFields(rv reflect.Value, out map[string]any) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field := rt.Field(i)
		name, omitEmpty, skip := jsonField(field)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if field.Anonymous && name == "" {
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				if err := canonicalizeFields(fv, out); err != nil {
					return err
				}
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		c, err := canonicalize(fv.Interface())
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		out[name] = c
	}
	return nil
}

func jsonField(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return "", false, !field.IsExported() && !field.Anonymous
	}
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	for opt := range strings.SplitSeq(opts, ",") {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// canonicalizeMarshaler normalizes values with a custom JSON form through
// that encoding.
func canonicalizeMarshaler(m json.Marshaler) (any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return canonicalize(generic)
}

func finite(f float64) (any, error) {
	if !domain.IsFinite(f) {
		return nil, fmt.Errorf("%w: non-finite number %v", domain.ErrInvalidInput, f)
	}
	return f, nil
}

// encodeCanonical renders an already canonical value. encoding/json sorts
// map keys, which makes the output deterministic.
func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// cloneValue deep-copies a canonical tree.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
