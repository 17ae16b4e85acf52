package persist

import (
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"

	"github.com/vietddude/statsync/internal/infra/storage"
)

// inferType picks the narrowest storage type that holds every non-null value.
// A column with no values at all is TEXT.
func inferType(values iter.Seq[any]) storage.ColumnType {
	seen := false
	isInt, isFloat, isBool := true, true, true
	for v := range values {
		if v == nil {
			continue
		}
		seen = true
		switch x := v.(type) {
		case json.Number:
			isBool = false
			if _, err := x.Int64(); err != nil {
				isInt = false
			}
			if _, err := x.Float64(); err != nil {
				isFloat = false
			}
		case int, int32, int64, uint32:
			isBool = false
		case float32, float64:
			isBool = false
			isInt = false
		case bool:
			isInt, isFloat = false, false
		default:
			return storage.TypeText
		}
	}
	switch {
	case !seen:
		return storage.TypeText
	case isBool:
		return storage.TypeBoolean
	case isInt:
		return storage.TypeInteger
	case isFloat:
		return storage.TypeFloat
	}
	return storage.TypeText
}

// coerce converts a response value into the Go type the column stores.
func coerce(v any, t storage.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case storage.TypeInteger:
		return toInt(v)
	case storage.TypeFloat:
		return toFloat(v)
	case storage.TypeBoolean:
		return toBool(v)
	}
	return toText(v)
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("cannot store %q as integer", x)
		}
		return int64(f), nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("cannot store %v as integer", x)
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot store %q as integer", x)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot store %T as integer", v)
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot store %q as float", x)
		}
		return f, nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot store %q as float", x)
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot store %T as float", v)
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("cannot store %q as boolean", x)
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot store %T as boolean", v)
}

func toText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("cannot store %T as text: %w", v, err)
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

// textValue renders an identifier or key value.
func textValue(v any) string {
	if v == nil {
		return ""
	}
	s, _ := toText(v)
	return s.(string)
}
