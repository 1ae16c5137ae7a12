package tenant

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Literal renders a value returned by pgx as a SQL literal for a backup script.
// Strings are single-quote escaped, structured values are JSON encoded then
// escaped, nil is NULL and numbers are written as-is.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteLiteral(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
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
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return floatLiteral(float64(x), 32)
	case float64:
		return floatLiteral(x, 64)
	case time.Time:
		return quoteLiteral(x.Format(time.RFC3339Nano))
	case json.RawMessage:
		return quoteLiteral(string(x))
	case []byte:
		return `'\x` + hex.EncodeToString(x) + `'`
	case uuid.UUID:
		return quoteLiteral(x.String())
	case [16]byte:
		return quoteLiteral(uuid.UUID(x).String())
	case driver.Valuer:
		val, err := x.Value()
		if err != nil {
			return "NULL"
		}
		return Literal(val)
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if data, err := json.Marshal(v); err == nil {
			return quoteLiteral(string(data))
		}
	}
	return quoteLiteral(fmt.Sprint(v))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func floatLiteral(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "'NaN'"
	case math.IsInf(f, 1):
		return "'Infinity'"
	case math.IsInf(f, -1):
		return "'-Infinity'"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}
