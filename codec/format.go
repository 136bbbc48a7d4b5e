package codec

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// FormatValue renders a decoded value as JSON text for logs. Binary data is
// written as base64 and map keys are sorted.
func FormatValue(v any) string {
	var e jx.Encoder
	writeValue(&e, v)
	return e.String()
}

// FormatMessage renders wire bytes for logs. Data that fails to decode is
// rendered as hex.
func FormatMessage(data []byte) string {
	v, err := Decode(data)
	if err != nil {
		return "<invalid: " + hex.EncodeToString(data) + ">"
	}
	return FormatValue(v)
}

func writeValue(e *jx.Encoder, v any) {
	switch x := v.(type) {
	case nil:
		e.Null()
	case bool:
		e.Bool(x)
	case string:
		e.Str(x)
	case []byte:
		e.Base64(x)
	case int:
		e.Int(x)
	case int8:
		e.Int64(int64(x))
	case int16:
		e.Int64(int64(x))
	case int32:
		e.Int32(x)
	case int64:
		e.Int64(x)
	case uint:
		e.UInt(x)
	case uint8:
		e.UInt64(uint64(x))
	case uint16:
		e.UInt64(uint64(x))
	case uint32:
		e.UInt32(x)
	case uint64:
		e.UInt64(x)
	case float32:
		e.Float32(x)
	case float64:
		e.Float64(x)
	case time.Time:
		e.Str(x.Format(time.RFC3339Nano))
	case []any:
		e.ArrStart()
		for _, elem := range x {
			writeValue(e, elem)
		}
		e.ArrEnd()
	case map[string]any:
		keys := maps.Keys(x)
		slices.Sort(keys)
		e.ObjStart()
		for _, k := range keys {
			e.FieldStart(k)
			writeValue(e, x[k])
		}
		e.ObjEnd()
	default:
		e.Str(fmt.Sprintf("%v", x))
	}
}
