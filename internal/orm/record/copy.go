package record

// CopyAttributes creates a deep copy of an attribute map
func CopyAttributes(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue recursively copies maps and slices so the result shares no
// mutable state with v
func CopyValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case map[string]interface{}:
		return CopyAttributes(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = CopyValue(item)
		}
		return out
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []int:
		out := make([]int, len(val))
		copy(out, val)
		return out
	case []int64:
		out := make([]int64, len(val))
		copy(out, val)
		return out
	case []float64:
		out := make([]float64, len(val))
		copy(out, val)
		return out
	case []bool:
		out := make([]bool, len(val))
		copy(out, val)
		return out
	default:
		// strings, numbers, time.Time, uuid.UUID and friends are values
		return v
	}
}
