// Package codec converts between the self-describing values carried on the
// BlueZ D-Bus interface and plain Go byte sequences.
//
// Every wire value is represented by one of a closed set of types implementing
// Value. Decoders check the declared signature before touching the payload and
// report a *MismatchError instead of guessing, so a malformed reply degrades to
// "no data" rather than a panic.
package codec

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Value is a single tagged wire value. The set of implementations is closed.
type Value interface {
	// Signature returns the D-Bus type signature of the value ("ay", "a{sv}", "(ay)", ...).
	Signature() string
	isValue()
}

// Bytes is a byte array (signature "ay").
type Bytes []byte

// String is a UTF-8 string (signature "s").
type String string

// ObjectPath is a D-Bus object path (signature "o").
type ObjectPath string

// Strings is an array of strings (signature "as").
type Strings []string

// Uint16 is an unsigned 16-bit integer (signature "q").
type Uint16 uint16

// Uint32 is an unsigned 32-bit integer (signature "u").
type Uint32 uint32

// Opaque stands for any value outside the closed set. Only its signature is kept,
// which is enough to report what arrived instead of what was expected.
type Opaque struct {
	Sig string
}

// Tuple is an ordered group of values, used for method arguments and replies.
// Its signature is the member signatures wrapped in parentheses.
type Tuple []Value

func (Bytes) Signature() string      { return "ay" }
func (String) Signature() string     { return "s" }
func (ObjectPath) Signature() string { return "o" }
func (Strings) Signature() string    { return "as" }
func (Uint16) Signature() string     { return "q" }
func (Uint32) Signature() string     { return "u" }
func (o Opaque) Signature() string   { return o.Sig }

func (t Tuple) Signature() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, v := range t {
		if v == nil {
			b.WriteByte('?')
			continue
		}
		b.WriteString(v.Signature())
	}
	b.WriteByte(')')
	return b.String()
}

func (Bytes) isValue()      {}
func (String) isValue()     {}
func (ObjectPath) isValue() {}
func (Strings) isValue()    {}
func (Uint16) isValue()     {}
func (Uint32) isValue()     {}
func (Opaque) isValue()     {}
func (Tuple) isValue()      {}
func (*Dict) isValue()      {}

// Dict is a string-keyed dictionary of variants (signature "a{sv}"). It keeps
// insertion order, so a property bag read from the daemon is consumed in the
// order it was built.
type Dict struct {
	m *orderedmap.OrderedMap[string, Value]
}

// Pair is one dictionary entry.
type Pair struct {
	Key   string
	Value Value
}

// NewDict builds a dictionary from pairs, later duplicates overwriting earlier ones.
func NewDict(pairs ...Pair) *Dict {
	d := &Dict{m: orderedmap.New[string, Value]()}
	for _, p := range pairs {
		d.m.Set(p.Key, p.Value)
	}
	return d
}

// Signature implements Value.
func (d *Dict) Signature() string { return "a{sv}" }

// Set adds or replaces an entry.
func (d *Dict) Set(key string, v Value) {
	if d.m == nil {
		d.m = orderedmap.New[string, Value]()
	}
	d.m.Set(key, v)
}

// Get returns the entry for key.
func (d *Dict) Get(key string) (Value, bool) {
	if d == nil || d.m == nil {
		return nil, false
	}
	return d.m.Get(key)
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil || d.m == nil {
		return 0
	}
	return d.m.Len()
}

// Each calls fn for every entry in insertion order until fn returns false.
func (d *Dict) Each(fn func(key string, v Value) bool) {
	if d == nil || d.m == nil {
		return
	}
	for p := d.m.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	keys := make([]string, 0, d.Len())
	d.Each(func(k string, _ Value) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}
