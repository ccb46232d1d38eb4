package codec

import (
	"sort"

	"github.com/godbus/dbus/v5"
)

// FromDBus converts a value decoded by godbus into the closed Value set.
// Variants are unwrapped; anything unrecognised becomes Opaque carrying its signature.
func FromDBus(v interface{}) Value {
	switch t := v.(type) {
	case dbus.Variant:
		return FromDBus(t.Value())
	case []byte:
		return Bytes(t)
	case string:
		return String(t)
	case dbus.ObjectPath:
		return ObjectPath(t)
	case []string:
		return Strings(t)
	case uint16:
		return Uint16(t)
	case uint32:
		return Uint32(t)
	case map[string]dbus.Variant:
		return DictFromDBus(t)
	case []interface{}:
		return FromBody(t)
	default:
		return Opaque{Sig: signatureOf(v)}
	}
}

// DictFromDBus converts a godbus property map. Go maps carry no order, so keys
// are sorted to keep conversions deterministic.
func DictFromDBus(m map[string]dbus.Variant) *Dict {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := NewDict()
	for _, k := range keys {
		d.Set(k, FromDBus(m[k]))
	}
	return d
}

// FromBody converts a message body into a Tuple. The result is never nil, so an
// empty reply has signature "()".
func FromBody(body []interface{}) Tuple {
	t := make(Tuple, 0, len(body))
	for _, v := range body {
		t = append(t, FromDBus(v))
	}
	return t
}

// ToDBus converts a Value into the representation godbus marshals. Opaque values
// have no payload and convert to nil.
func ToDBus(v Value) interface{} {
	switch t := v.(type) {
	case Bytes:
		return []byte(t)
	case String:
		return string(t)
	case ObjectPath:
		return dbus.ObjectPath(t)
	case Strings:
		return []string(t)
	case Uint16:
		return uint16(t)
	case Uint32:
		return uint32(t)
	case *Dict:
		m := make(map[string]dbus.Variant, t.Len())
		t.Each(func(k string, v Value) bool {
			if dv := ToDBus(v); dv != nil {
				m[k] = dbus.MakeVariant(dv)
			}
			return true
		})
		return m
	case Tuple:
		return t.Args()
	default:
		return nil
	}
}

// Args flattens the tuple into method-call arguments.
func (t Tuple) Args() []interface{} {
	args := make([]interface{}, 0, len(t))
	for _, v := range t {
		args = append(args, ToDBus(v))
	}
	return args
}

// signatureOf asks godbus for the signature of an arbitrary value. godbus panics
// on types it cannot represent; those are reported as "?".
func signatureOf(v interface{}) (sig string) {
	if v == nil {
		return "?"
	}
	defer func() {
		if r := recover(); r != nil {
			sig = "?"
		}
	}()
	return dbus.SignatureOf(v).String()
}
