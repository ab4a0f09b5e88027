package conv

import "strconv"

// AsUint64 attempts to coerce various numeric types into an uint64.
func AsUint64(value interface{}) uint64 {
	switch actual := value.(type) {
	case uint64:
		return actual
	case int:
		return uint64(actual)
	case int32:
		return uint64(actual)
	case int64:
		return uint64(actual)
	case float64:
		return uint64(actual)
	case float32:
		return uint64(actual)
	case string:
		ret, _ := strconv.ParseUint(actual, 10, 64)
		return ret
	}
	return 0
}
