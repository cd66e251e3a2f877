package resp

import (
	"fmt"
	"reflect"
	"strconv"
)

// Encode frames items as bulk strings. Nested slices are flattened in place.
// More than one resulting item gets a leading array header; a single item is
// emitted bare. Null items become "$-1\r\n\r\n".
func Encode(items ...any) []byte {
	flat := Flatten(nil, items...)
	var buf []byte
	if len(flat) > 1 {
		buf = appendHeader(buf, '*', len(flat))
	}
	for _, item := range flat {
		buf = appendBulk(buf, item)
	}
	return buf
}

// EncodeCommand frames items as a RESP array regardless of how many there are.
// Servers only accept multi-bulk requests, so commands always use this form.
func EncodeCommand(items ...any) []byte {
	flat := Flatten(nil, items...)
	buf := appendHeader(nil, '*', len(flat))
	for _, item := range flat {
		buf = appendBulk(buf, item)
	}
	return buf
}

// EncodeInline frames items as a space-delimited line terminated by CRLF.
func EncodeInline(items ...any) []byte {
	flat := Flatten(nil, items...)
	var buf []byte
	for i, item := range flat {
		if i > 0 {
			buf = append(buf, ' ')
		}
		if b, ok := scalarBytes(item); ok {
			buf = append(buf, b...)
		}
	}
	return append(buf, '\r', '\n')
}

// Flatten appends items to dst, expanding nested slices recursively.
func Flatten(dst []any, items ...any) []any {
	for _, item := range items {
		switch v := item.(type) {
		case []any:
			dst = Flatten(dst, v...)
		case []string:
			for _, s := range v {
				dst = append(dst, s)
			}
		case [][]byte:
			for _, b := range v {
				dst = append(dst, b)
			}
		case []int:
			for _, n := range v {
				dst = append(dst, n)
			}
		case []fmt.Stringer:
			for _, s := range v {
				dst = append(dst, s)
			}
		default:
			dst = flattenReflect(dst, item)
		}
	}
	return dst
}

// flattenReflect expands slices and arrays of any other element type, such as
// []int64 or []float64. Byte slices stay whole.
func flattenReflect(dst []any, item any) []any {
	rv := reflect.ValueOf(item)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return append(dst, item)
		}
		for i := 0; i < rv.Len(); i++ {
			dst = Flatten(dst, rv.Index(i).Interface())
		}
		return dst
	}
	return append(dst, item)
}

func appendHeader(buf []byte, prefix byte, n int) []byte {
	buf = append(buf, prefix)
	buf = strconv.AppendInt(buf, int64(n), 10)
	return append(buf, '\r', '\n')
}

func appendBulk(buf []byte, item any) []byte {
	b, ok := scalarBytes(item)
	if !ok {
		return append(buf, "$-1\r\n\r\n"...)
	}
	buf = appendHeader(buf, '$', len(b))
	buf = append(buf, b...)
	return append(buf, '\r', '\n')
}

// scalarBytes renders a scalar argument. It reports false for nil.
func scalarBytes(item any) ([]byte, bool) {
	switch v := item.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(v), true
	case []byte:
		if v == nil {
			return nil, false
		}
		return v, true
	case fmt.Stringer:
		return []byte(v.String()), true
	case int:
		return strconv.AppendInt(nil, int64(v), 10), true
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), true
	case int64:
		return strconv.AppendInt(nil, v, 10), true
	case uint16:
		return strconv.AppendUint(nil, uint64(v), 10), true
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), true
	case uint64:
		return strconv.AppendUint(nil, v, 10), true
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'f', -1, 32), true
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64), true
	case bool:
		if v {
			return []byte("1"), true
		}
		return []byte("0"), true
	default:
		return []byte(fmt.Sprint(v)), true
	}
}
