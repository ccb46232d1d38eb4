package gatt

import (
	"sort"
	"strings"

	bluezgatt "github.com/muka/go-bluetooth/bluez/profile/gatt"
)

// Characteristic capability flags as reported by BlueZ.
const (
	FlagRead                 = bluezgatt.FlagCharacteristicRead
	FlagWrite                = bluezgatt.FlagCharacteristicWrite
	FlagWriteWithoutResponse = bluezgatt.FlagCharacteristicWriteWithoutResponse
	FlagNotify               = bluezgatt.FlagCharacteristicNotify
	FlagIndicate             = bluezgatt.FlagCharacteristicIndicate
)

// Flags is a sorted set of capability flags.
type Flags []string

// NewFlags sorts and deduplicates flags.
func NewFlags(flags ...string) Flags {
	seen := make(map[string]struct{}, len(flags))
	out := make(Flags, 0, len(flags))
	for _, f := range flags {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Has reports whether flag is in the set.
func (f Flags) Has(flag string) bool {
	i := sort.SearchStrings(f, flag)
	return i < len(f) && f[i] == flag
}

// String joins the flags with ", ".
func (f Flags) String() string {
	return strings.Join(f, ", ")
}

func (f Flags) clone() Flags {
	if f == nil {
		return nil
	}
	out := make(Flags, len(f))
	copy(out, f)
	return out
}
