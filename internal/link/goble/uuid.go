package goble

import "strings"

// LEGO SPIKE hub GATT layout. The hub exposes one service with two
// characteristics named from the hub's perspective: RX is written by
// the host, TX notifies the host.
const (
	SpikeServiceUUID = "0000FD02-0000-1000-8000-00805F9B34FB"
	SpikeRxCharUUID  = "0000FD02-0001-1000-8000-00805F9B34FB"
	SpikeTxCharUUID  = "0000FD02-0002-1000-8000-00805F9B34FB"
)

// normalizeUUID converts a UUID string to the internal BLE library
// format (lowercase, no dashes). Handles both the dashed standard form
// and already normalized strings.
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// uuidMatches reports whether two UUID strings identify the same
// attribute, tolerating 16-bit shortened forms against their expanded
// 128-bit Bluetooth base UUID equivalent.
func uuidMatches(a, b string) bool {
	na, nb := normalizeUUID(a), normalizeUUID(b)
	if na == nb {
		return true
	}
	return shortForm(na) != "" && shortForm(na) == shortForm(nb)
}

// shortForm extracts the 16-bit alias from a UUID on the Bluetooth
// base ("0000xxxx00001000800000805f9b34fb"), or returns a 4-char UUID
// unchanged. Returns "" when the UUID has no short form.
func shortForm(normalized string) string {
	if len(normalized) == 4 {
		return normalized
	}
	if len(normalized) == 32 &&
		strings.HasPrefix(normalized, "0000") &&
		strings.HasSuffix(normalized, "00001000800000805f9b34fb") {
		return normalized[4:8]
	}
	return ""
}
