// Package canonical builds deterministic canonical strings from record
// field maps and digests them. The canonical form (field order,
// normalization, separators) is the digest contract: once a record has
// been committed to the ledger, none of it may change without breaking
// verification of existing entries.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Fields is a record's field map as supplied by collaborators. Values
// are JSON-compatible scalars, lists, or maps.
type Fields map[string]any

// Normalize renders a single field value in canonical textual form:
// nil → "", bool → "true"/"false", numbers → plain decimal (integers
// base 10, floats shortest 'f' form, json.Number verbatim), lists and
// maps → compact JSON with sorted keys, everything else → trimmed
// string.
func Normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return compactJSON(v)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Canonicalize emits "name=Normalize(value)" for each name in order,
// joined by "|". Absent fields normalize to "".
func Canonicalize(fields Fields, order []string) string {
	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, name+"="+Normalize(fields[name]))
	}
	return strings.Join(parts, "|")
}

// listSegment canonicalizes each element over suborder, sorts elements
// by the normalized values of the declared key fields, and joins them
// with ";". Sorting makes the digest invariant to supplier ordering.
func listSegment(elems []Fields, suborder, sortKeys []string) string {
	sorted := make([]Fields, len(elems))
	copy(sorted, elems)
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, k := range sortKeys {
			a, b := Normalize(sorted[i][k]), Normalize(sorted[j][k])
			if a != b {
				return a < b
			}
		}
		return false
	})
	parts := make([]string, 0, len(sorted))
	for _, el := range sorted {
		parts = append(parts, Canonicalize(el, suborder))
	}
	return strings.Join(parts, ";")
}

// compactJSON matches encoding/json compact output with sorted string
// map keys and HTML escaping off. Falls back to the plain string form
// for unencodable values so Normalize stays total.
func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
