// Package resp implements the RESP wire codec: typed reply values, an encoder
// for command arguments, a parser for fully buffered frames and a cheap
// completeness check for partially received ones.
package resp

import "strconv"

// ValueType is the tag of a RESP value.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeString
	TypeInteger
	TypeBulkString
	TypeArray
	TypeNull
	TypeError
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "simple-string"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	case TypeNull:
		return "null"
	case TypeError:
		return "error"
	default:
		return "none"
	}
}

// RedisValue is implemented by every decoded RESP value.
type RedisValue interface {
	Type() ValueType
	StringValue() string
}

// RedisString is a simple string (+).
type RedisString struct {
	Value string
}

func (s RedisString) Type() ValueType     { return TypeString }
func (s RedisString) StringValue() string { return s.Value }

// RedisBulkString is a length-prefixed, binary-safe string ($).
type RedisBulkString struct {
	Value  string
	Length int
}

func (b RedisBulkString) Type() ValueType     { return TypeBulkString }
func (b RedisBulkString) StringValue() string { return b.Value }

// RedisInteger is a signed 64-bit integer (:).
type RedisInteger struct {
	IntValue int64
}

func (i RedisInteger) Type() ValueType { return TypeInteger }
func (i RedisInteger) StringValue() string {
	return strconv.FormatInt(i.IntValue, 10)
}

// RedisArray is an ordered sequence of values (*).
type RedisArray struct {
	Values []RedisValue
}

func (a RedisArray) Type() ValueType     { return TypeArray }
func (a RedisArray) StringValue() string { return "" }

// Strings returns the string form of every element.
func (a RedisArray) Strings() []string {
	out := make([]string, len(a.Values))
	for i, v := range a.Values {
		out[i] = v.StringValue()
	}
	return out
}

// RedisError is an error reply (-).
type RedisError struct {
	Value string
}

func (e RedisError) Type() ValueType     { return TypeError }
func (e RedisError) StringValue() string { return e.Value }

// RedisNull is a null bulk string ($-1) or, when Array is set, a null array (*-1).
type RedisNull struct {
	Array bool
}

func (n RedisNull) Type() ValueType     { return TypeNull }
func (n RedisNull) StringValue() string { return "" }

// IsNull reports whether v is absent or a null reply.
func IsNull(v RedisValue) bool {
	if v == nil {
		return true
	}
	return v.Type() == TypeNull
}
