// Package hashslot maps keys to cluster hash slots.
package hashslot

import "strings"

// Count is the number of hash slots in a cluster.
const Count = 16384

// Slot returns the hash slot of key. When the key contains a non-empty
// "{tag}", only the tag is hashed so related keys can share a slot.
func Slot(key string) uint16 {
	return crc16(Tag(key)) % Count
}

// Tag returns the part of key that participates in hashing.
func Tag(key string) string {
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	end := strings.IndexByte(key[start+1:], '}')
	if end <= 0 {
		return key
	}
	return key[start+1 : start+1+end]
}

// AllInSingleSlot reports whether every key hashes to the same slot.
// Zero or one key is trivially in a single slot.
func AllInSingleSlot(keys ...string) bool {
	if len(keys) < 2 {
		return true
	}
	first := Slot(keys[0])
	for _, k := range keys[1:] {
		if Slot(k) != first {
			return false
		}
	}
	return true
}
