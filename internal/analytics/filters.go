package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Param is one query filter. A nil or empty-string Value means "not set".
type Param struct {
	Key   string
	Value any
}

// Filters is an ordered set of query parameters. Order is insertion order
// and is preserved in the query string and in JSON.
type Filters []Param

// Set returns f with key set to value, replacing an existing entry in place.
func (f Filters) Set(key string, value any) Filters {
	for i := range f {
		if f[i].Key == key {
			f[i].Value = value
			return f
		}
	}
	return append(f, Param{Key: key, Value: value})
}

func (f Filters) Get(key string) (any, bool) {
	for _, p := range f {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// String returns the set value for key formatted as it would appear in a
// query string, or "" when unset.
func (f Filters) String(key string) string {
	v, ok := f.Get(key)
	if !ok || isEmpty(v) {
		return ""
	}
	return formatValue(v)
}

// FiltersFromQuery copies query parameters into Filters. With no keys every
// parameter is taken, sorted by name so the result is deterministic.
func FiltersFromQuery(q url.Values, keys ...string) Filters {
	if len(keys) == 0 {
		keys = make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	f := make(Filters, 0, len(keys))
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			f = append(f, Param{Key: k, Value: v})
		}
	}
	return f
}

// BuildQueryString URL-encodes every parameter whose value is neither nil
// nor the empty string, in order.
func BuildQueryString(f Filters) string {
	var b strings.Builder
	for _, p := range f {
		if isEmpty(p.Value) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(formatValue(p.Value)))
	}
	return b.String()
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case *string:
		return t == nil || *t == ""
	case time.Time:
		return t.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return true
		}
	}
	if rv.Kind() == reflect.Pointer {
		return isEmpty(rv.Elem().Interface())
	}
	return false
}

func formatValue(v any) string {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return formatValue(rv.Elem().Interface())
	}
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// MarshalJSON encodes the set parameters as a JSON object in order.
func (f Filters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, p := range f {
		if isEmpty(p.Value) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding filter %q: %w", p.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (f *Filters) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("filters: expected object, got %v", tok)
	}
	out := Filters{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("filters: expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("filters: decoding %q: %w", key, err)
		}
		out = append(out, Param{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
