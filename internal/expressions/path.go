package expressions

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup walks a dotted field-access path ("a.b", "items[0].id", "items.0")
// into source. The boolean is false when some segment does not exist, which
// is distinct from a segment that exists with a nil value.
//
// An empty path or "." returns source itself. Generic maps and slices are
// walked in place, so found values keep their Go types. Any other value
// (structs, typed maps, json.RawMessage) is encoded and the rest of the path
// is resolved with gjson, yielding JSON-shaped data.
func Lookup(source any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || path == "." {
		return source, true
	}

	segs := splitPath(path)
	cur := source
	for i, seg := range segs {
		var ok bool
		switch c := cur.(type) {
		case map[string]any:
			cur, ok = c[seg]
		case []any:
			cur, ok = index(c, seg)
		default:
			return lookupJSON(c, segs[i:])
		}
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func index(list []any, seg string) (any, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 || idx >= len(list) {
		return nil, false
	}
	return list[idx], true
}

// lookupJSON resolves segs inside the JSON encoding of v.
func lookupJSON(v any, segs []string) (any, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, gjsonPath(segs))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// gjsonPath joins segments into a gjson path, escaping its syntax characters.
func gjsonPath(segs []string) string {
	var b strings.Builder
	for i, seg := range segs {
		if i > 0 {
			b.WriteByte('.')
		}
		for _, r := range seg {
			if strings.ContainsRune(`.*?|#@\!=<>%`, r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitPath tokenizes "a.b[0]['c d']" into ["a", "b", "0", "c d"].
func splitPath(path string) []string {
	var segs []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			segs = append(segs, buf.String())
			buf.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		ch := path[i]
		switch ch {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				buf.WriteString(path[i:])
				i = len(path)
				continue
			}
			inner := strings.Trim(path[i+1:i+end], `"'`)
			segs = append(segs, inner)
			i += end
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return segs
}

// Normalize converts an arbitrary Go value into generic JSON data
// (map[string]any, []any, float64, string, bool, nil). Values already in
// that shape are returned as-is; anything else takes a JSON round trip.
// Values that cannot be encoded are returned unchanged.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
