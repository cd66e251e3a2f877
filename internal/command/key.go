package command

import "github.com/cosmez/redispool-go/internal/hashslot"

// Key is a key name paired with the hash slot it maps to. The slot is fixed
// at construction.
type Key struct {
	name string
	slot uint16
}

// NewKey builds a Key and computes its slot.
func NewKey(name string) Key {
	return Key{name: name, slot: hashslot.Slot(name)}
}

// Keys builds a Key for each name.
func Keys(names ...string) []Key {
	keys := make([]Key, len(names))
	for i, n := range names {
		keys[i] = NewKey(n)
	}
	return keys
}

func (k Key) Name() string { return k.name }
func (k Key) Slot() uint16 { return k.slot }

// String returns the name, which is what goes on the wire.
func (k Key) String() string { return k.name }
