package expressions

import (
	"maps"
	"slices"
	"strings"

	"github.com/256dpi/lungo/bsonkit"
	"github.com/256dpi/lungo/mongokit"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rendis/stepflow/pkg/schema"
)

// matchField is the document field a matched value is stored under.
const matchField = "value"

// Match evaluates a sift/Mongo-style query document against value.
//
// Keys starting with "$" are operators applied to value itself; any other key
// is a field path into value whose target must satisfy the key's condition.
// Matching is done by mongokit, so operator semantics follow MongoDB:
// comparisons respect type brackets, array values match when any element
// does, and a null value exists.
func Match(query map[string]any, value any) (bool, error) {
	return match(query, bson.D{{Key: matchField, Value: toBSON(Normalize(value))}})
}

// MatchMissing is Match for a reference whose path did not resolve, so that
// {"$exists": false} can hold.
func MatchMissing(query map[string]any) (bool, error) {
	return match(query, bson.D{})
}

func match(query map[string]any, doc bson.D) (bool, error) {
	q, _ := Normalize(query).(map[string]any)
	filter, err := rootQuery(q)
	if err != nil {
		return false, err
	}

	ok, err := mongokit.Match(bsonkit.Doc(&doc), bsonkit.Doc(&filter))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeCondition, "query failed: %s", err.Error()).WithCause(err)
	}
	return ok, nil
}

// rootQuery rewrites a query over a bare value into one over the document
// that wraps it. Operators move under matchField, field paths get it as a
// prefix, and logical operators are rewritten entry by entry.
func rootQuery(query map[string]any) (bson.D, error) {
	var out, ops bson.D
	for _, key := range slices.Sorted(maps.Keys(query)) {
		cond := query[key]
		switch {
		case key == "$and" || key == "$or" || key == "$nor":
			list, ok := cond.([]any)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeCondition, "%s expects an array of queries, got %T", key, cond)
			}
			entries := make(bson.A, 0, len(list))
			for _, item := range list {
				sub, ok := item.(map[string]any)
				if !ok {
					return nil, schema.NewErrorf(schema.ErrCodeCondition, "%s entries must be objects, got %T", key, item)
				}
				d, err := rootQuery(sub)
				if err != nil {
					return nil, err
				}
				entries = append(entries, d)
			}
			out = append(out, bson.E{Key: key, Value: entries})
		case strings.HasPrefix(key, "$"):
			ops = append(ops, bson.E{Key: key, Value: toBSON(cond)})
		default:
			field := matchField + "." + strings.Join(splitPath(key), ".")
			out = append(out, bson.E{Key: field, Value: toBSON(cond)})
		}
	}
	if len(ops) > 0 {
		out = append(out, bson.E{Key: matchField, Value: ops})
	}
	return out, nil
}

// toBSON converts normalized data to bson values. Object keys are sorted
// because embedded documents compare field by field in order.
func toBSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		d := make(bson.D, 0, len(val))
		for _, k := range slices.Sorted(maps.Keys(val)) {
			d = append(d, bson.E{Key: k, Value: toBSON(val[k])})
		}
		return d
	case []any:
		a := make(bson.A, len(val))
		for i, item := range val {
			a[i] = toBSON(item)
		}
		return a
	default:
		return v
	}
}
