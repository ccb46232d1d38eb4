package gatt

import (
	"sort"

	"github.com/srg/gattdump/internal/bledb"
)

// defaultDeniedUUIDs are characteristics whose peripheral drops the connection
// when they are read. Subscribing to their notifications works.
var defaultDeniedUUIDs = []string{
	"30e69638-3752-4feb-a3aa-3226bcd05ace",
	"2bdcaebe-8746-45df-a841-96b840980fb8",
	"2bdcaebe-8746-45df-a841-96b840980fb7",
}

// DefaultDeniedUUIDs returns a copy of the built-in read deny-list.
func DefaultDeniedUUIDs() []string {
	out := make([]string, len(defaultDeniedUUIDs))
	copy(out, defaultDeniedUUIDs)
	return out
}

// DenyList is an immutable set of characteristic UUIDs that must never be read.
// UUIDs are compared in normalized form, so case and dashes do not matter.
type DenyList struct {
	uuids map[string]struct{}
}

// NewDenyList builds a deny-list. Strings that are not UUIDs are ignored.
func NewDenyList(uuids ...string) DenyList {
	d := DenyList{uuids: make(map[string]struct{}, len(uuids))}
	for _, u := range bledb.NormalizeUUIDs(uuids) {
		d.uuids[u] = struct{}{}
	}
	return d
}

// DefaultDenyList returns the built-in deny-list.
func DefaultDenyList() DenyList {
	return NewDenyList(defaultDeniedUUIDs...)
}

// Contains reports whether uuid is denied.
func (d DenyList) Contains(uuid string) bool {
	n := bledb.NormalizeUUID(uuid)
	if n == "" {
		return false
	}
	_, ok := d.uuids[n]
	return ok
}

// Len returns the number of denied UUIDs.
func (d DenyList) Len() int {
	return len(d.uuids)
}

// UUIDs returns the normalized UUIDs in sorted order.
func (d DenyList) UUIDs() []string {
	out := make([]string, 0, len(d.uuids))
	for u := range d.uuids {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
