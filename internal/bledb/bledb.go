// Package bledb maps Bluetooth SIG assigned numbers to human-readable names
// and normalises the many spellings of a GATT UUID into one canonical form.
package bledb

import "strings"

// sigBaseSuffix is the tail of every UUID derived from the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb, without dashes.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal lookup format (lowercase, no dashes).
// It strips braces and a 0x prefix, and for full 128-bit UUIDs in Bluetooth SIG base format
// extracts the 16-bit short form. Returns "" for input that is not hexadecimal.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if s == "" || !isHex(s) {
		return ""
	}

	if len(s) == 32 && strings.HasSuffix(s, sigBaseSuffix) && strings.HasPrefix(s, "0000") {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings, dropping the ones that do not parse.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := NormalizeUUID(u); n != "" {
			result = append(result, n)
		}
	}
	return result
}

// LookupService returns the assigned name of a GATT service, or "" if unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a GATT characteristic, or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the assigned name of a GATT descriptor, or "" if unknown.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
