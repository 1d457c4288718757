// Package codec converts node payloads to and from property maps.
//
// The wire format is shared with existing stores and must stay stable:
//
//   - an empty payload is an empty map;
//   - a map holding only a non-empty string under "string_value" is stored as that bare string;
//   - anything else is a compact JSON object.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/canopy/pkg/core"
)

// StringValue is the key used for single-value nodes.
const StringValue = "string_value"

// Encode serializes props into a node payload.
func Encode(props core.Props) ([]byte, error) {
	if len(props) == 0 {
		return []byte{}, nil
	}
	if len(props) == 1 {
		// An empty bare string would read back as an empty map.
		if s, ok := props[StringValue].(string); ok && s != "" {
			return []byte(s), nil
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(map[string]any(props))); err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a node payload. Payloads that are not a JSON object are
// treated as a bare string value. Only a zero-length payload is the empty
// map; whitespace is a string like any other, so that every bare string
// Encode writes reads back unchanged.
func Decode(data []byte) core.Props {
	if len(data) == 0 {
		return core.Props{}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if m, err := decodeObject(trimmed); err == nil {
			return m
		}
	}
	return core.Props{StringValue: string(data)}
}

func decodeObject(data []byte) (core.Props, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after object")
	}

	out := make(core.Props, len(payload))
	for k, v := range payload {
		out[k] = denormalize(v)
	}
	return out, nil
}

// normalize makes values JSON friendly and keeps floats distinguishable
// from integers once encoded.
func normalize(val any) any {
	switch v := val.(type) {
	case core.Props:
		return normalize(map[string]any(v))
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[k] = normalize(val)
		}
		return m
	case []any:
		l := make([]any, len(v))
		for i, val := range v {
			l[i] = normalize(val)
		}
		return l
	case []string:
		l := make([]any, len(v))
		for i, val := range v {
			l[i] = val
		}
		return l
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return v
	}
}

func formatFloat(f float64) any {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		// JSON cannot carry these; fall back to their textual form.
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	abs := math.Abs(f)
	var s string
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		s = strconv.FormatFloat(f, 'e', -1, 64)
	} else {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s)
}

// denormalize turns json.Number into int64 or float64.
func denormalize(val any) any {
	switch v := val.(type) {
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[k] = denormalize(val)
		}
		return m
	case []any:
		for i, val := range v {
			v[i] = denormalize(val)
		}
		return v
	case json.Number:
		s := v.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := v.Int64(); err == nil {
				return i
			}
		}
		f, err := v.Float64()
		if err != nil {
			return s
		}
		return f
	default:
		return v
	}
}

// IsLink reports whether a property name denotes a link.
func IsLink(name string) bool {
	return strings.HasSuffix(name, core.LinkSuffix)
}

// LinkName returns the property name used to store a link called name.
func LinkName(name string) string {
	return name + core.LinkSuffix
}

// LinkTarget returns the target path of the link called name, if any.
func LinkTarget(props core.Props, name string) (string, bool) {
	target, ok := props[LinkName(name)].(string)
	return target, ok
}

// SplitLinks separates plain properties from links. Link names are
// returned without the marker. Both key lists are sorted.
func SplitLinks(props core.Props) (plain []string, links []string) {
	for k := range props {
		if IsLink(k) {
			links = append(links, strings.TrimSuffix(k, core.LinkSuffix))
		} else {
			plain = append(plain, k)
		}
	}
	sort.Strings(plain)
	sort.Strings(links)
	return plain, links
}
