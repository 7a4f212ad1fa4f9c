package querycache

import (
	"strconv"
	"strings"
)

// Key identifies a cached resource: a resource type followed by its parameters,
// e.g. Key{"tournaments"} or Key{"tournament", "7"}. Keys compare structurally and
// are order-sensitive.
type Key []string

// NewKey builds a Key from parts.
func NewKey(parts ...string) Key {
	return Key(append([]string(nil), parts...))
}

// String returns the canonical, unambiguous encoding used as the map key.
func (k Key) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range k {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(p))
	}
	b.WriteByte(']')
	return b.String()
}

// Equal reports element-wise equality.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix matches the leading elements of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return k[:len(prefix)].Equal(prefix)
}

// Resource is the first element of the key, used as a low-cardinality metric label.
func (k Key) Resource() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}
