// Package stablejson implements canonical JSON stringification: object keys
// sorted alphabetically at every depth, arrays left in their original order.
// It backs approval context hashes and prompt-cache keys, both of which must
// be bit-exact across implementations.
package stablejson

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Stringify produces the canonical JSON encoding of v. v is first round-tripped
// through encoding/json so that Go structs, maps and slices are all accepted;
// object keys are then sorted recursively before re-encoding.
func Stringify(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("stablejson: marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("stablejson: decode: %w", err)
	}
	var b strings.Builder
	if err := encode(&b, generic); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encode(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case json.Number:
		b.WriteString(val.String())
		return nil
	case string:
		return encodeString(b, val)
	case []any:
		return encodeArray(b, val)
	case map[string]any:
		return encodeObject(b, val)
	default:
		return fmt.Errorf("stablejson: unsupported type %T", v)
	}
}

func encodeString(b *strings.Builder, s string) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("stablejson: encode string: %w", err)
	}
	b.Write(encoded)
	return nil
}

func encodeArray(b *strings.Builder, arr []any) error {
	b.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encode(b, item); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func encodeObject(b *strings.Builder, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encodeString(b, k); err != nil {
			return err
		}
		b.WriteByte(':')
		if err := encode(b, obj[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// MustStringify is Stringify for callers that have already validated v is
// JSON-encodable (e.g. constructed from literal maps). It panics on error,
// which should be unreachable in that case.
func MustStringify(v any) string {
	s, err := Stringify(v)
	if err != nil {
		panic("stablejson: " + err.Error())
	}
	return s
}

// Int is a convenience for building ordered-key input maps in call sites that
// mix numeric and string fields without round-tripping through float64.
func Int(n int) json.Number {
	return json.Number(strconv.Itoa(n))
}
