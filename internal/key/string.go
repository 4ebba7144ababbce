package key

import "strings"

// topEncoding sorts after every valid UTF-8 string because 0xff never
// occurs in UTF-8.
const topEncoding = "\xff"

// Compile-time check that String implements Range.
var _ Range[String] = String{}

// String is a range key over UTF-8 strings in byte order. Its minimum is
// the empty string; its maximum is a sentinel greater than every string.
type String struct {
	s   string
	top bool
}

// NewString returns the range key for s. s must be valid UTF-8.
func NewString(s string) String {
	return String{s: s}
}

// Value returns the string, or the empty string for the maximum sentinel.
func (k String) Value() string { return k.s }

// IsMax reports whether k is the maximum sentinel.
func (k String) IsMax() bool { return k.top }

// Compare orders keys bytewise with the sentinel last.
func (k String) Compare(other String) int {
	switch {
	case k.top && other.top:
		return 0
	case k.top:
		return 1
	case other.top:
		return -1
	}
	return strings.Compare(k.s, other.s)
}

// RangeMin returns the empty string key.
func (k String) RangeMin() String { return String{} }

// RangeMax returns the maximum sentinel.
func (k String) RangeMax() String { return String{top: true} }

// Key returns the string, or "\xff" for the maximum sentinel.
func (k String) Key() string {
	if k.top {
		return topEncoding
	}
	return k.s
}

// String implements fmt.Stringer.
func (k String) String() string {
	if k.top {
		return "<max>"
	}
	return k.s
}

// ParseString rebuilds a String from its Key() encoding.
func ParseString(encoded string) (String, error) {
	if encoded == topEncoding {
		return String{top: true}, nil
	}
	if strings.Contains(encoded, topEncoding) {
		return String{}, invalid("string", encoded)
	}
	return String{s: encoded}, nil
}
