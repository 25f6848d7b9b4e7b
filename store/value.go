package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type tag of a stored value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a typed configuration value.
type Value struct {
	Kind Kind
	str  string
	num  int
	flag bool
}

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, str: s} }

// Int returns an integer value.
func Int(n int) Value { return Value{Kind: KindInt, num: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, flag: b} }

// Str returns the value as a string. Integers and booleans are formatted.
func (v Value) Str() string {
	switch v.Kind {
	case KindInt:
		return strconv.Itoa(v.num)
	case KindBool:
		return strconv.FormatBool(v.flag)
	default:
		return v.str
	}
}

// IntValue returns the value as an integer. Strings holding a decimal
// number are converted; anything else yields 0.
func (v Value) IntValue() int {
	switch v.Kind {
	case KindInt:
		return v.num
	case KindBool:
		if v.flag {
			return 1
		}
		return 0
	default:
		n, _ := strconv.Atoi(strings.TrimSpace(v.str))
		return n
	}
}

// BoolValue returns the value as a boolean.
func (v Value) BoolValue() bool {
	switch v.Kind {
	case KindBool:
		return v.flag
	case KindInt:
		return v.num != 0
	default:
		b, _ := strconv.ParseBool(strings.TrimSpace(v.str))
		return b
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	return v.Kind == o.Kind && v.Str() == o.Str()
}

// GoString is used by %#v.
func (v Value) GoString() string {
	return fmt.Sprintf("%s(%q)", v.Kind, v.Str())
}

// encode returns the column representation of v.
func (v Value) encode() (int, string) {
	return int(v.Kind), v.Str()
}

func decode(kind int, text string) (Value, error) {
	switch Kind(kind) {
	case KindString:
		return String(text), nil
	case KindInt:
		n, err := strconv.Atoi(text)
		if err != nil {
			return Value{}, fmt.Errorf("store: bad int %q: %w", text, err)
		}
		return Int(n), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("store: bad bool %q: %w", text, err)
		}
		return Bool(b), nil
	default:
		return Value{}, fmt.Errorf("store: unknown kind %d", kind)
	}
}
