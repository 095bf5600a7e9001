package http

import "strings"

// Value is one decoded query parameter. Flag is set for keys given without "=", as in "?debug".
type Value struct {
	Text string
	Flag bool
}

func (value Value) String() string {
	if value.Flag {
		return "true"
	}

	return value.Text
}

// Values maps a query key to every value recorded for it, in order of appearance.
type Values map[string][]Value

// Get returns the value of key when exactly one was recorded.
// Repeated keys report false; use All for those.
func (values Values) Get(key string) (Value, bool) {
	list := values[key]
	if len(list) != 1 {
		return Value{}, false
	}

	return list[0], true
}

func (values Values) All(key string) []Value {
	return values[key]
}

func (values Values) Has(key string) bool {
	_, ok := values[key]
	return ok
}

// ParseQuery decodes a form-encoded query string such as "a=1&b=two+words&flag".
func ParseQuery(query string) Values {
	values := Values{}
	if query == "" {
		return values
	}

	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}

		rawKey, rawValue, hasValue := strings.Cut(pair, "=")
		key := UnquotePlus(rawKey)

		value := Value{Flag: true}
		if hasValue {
			value = Value{Text: UnquotePlus(rawValue)}
		}

		values[key] = append(values[key], value)
	}

	return values
}

// UnquotePlus replaces "+" with a space and decodes %XY escapes.
// Escapes that are not followed by two hex digits are kept as written.
func UnquotePlus(s string) string {
	if strings.IndexByte(s, '%') < 0 && strings.IndexByte(s, '+') < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

func isHex(c byte) bool {
	return unhex(c) != 255
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 255
}
