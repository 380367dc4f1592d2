// File: internal/browser/format.go
package browser

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/bidi-pilot/internal/bidi"
)

// FormatResult renders a deserialized script value for conversation output.
// Undefined, null and the empty string render as "" and are not reported.
func FormatResult(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatNumber(val)
	case *big.Int:
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case bidi.RegExp:
		return "/" + val.Pattern + "/" + val.Flags.String()
	case map[string]interface{}, []interface{}, bidi.Map, bidi.Set:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
