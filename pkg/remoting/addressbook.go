package remoting

import "sync"

// AddressBook owns the set of local addresses the transport listens on
// and the single canonical default address. It is populated exactly once
// during Start and is effectively immutable afterwards; readers after
// that point never contend on the lock.
type AddressBook struct {
	mu    sync.RWMutex
	addrs []Address
	def   Address
}

func NewAddressBook() *AddressBook { return &AddressBook{} }

// Addresses returns a copy of all bound local addresses.
// Empty only before the transport has started.
func (b *AddressBook) Addresses() []Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Address(nil), b.addrs...)
}

// DefaultAddress returns the canonical local address, stable for the
// lifetime of the transport. Zero only before the transport has started.
func (b *AddressBook) DefaultAddress() Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.def
}

// Contains reports whether a is one of the bound local addresses.
func (b *AddressBook) Contains(a Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, la := range b.addrs {
		if la == a {
			return true
		}
	}
	return false
}

// snapshot returns the current address set and default under one lock
// acquisition. The returned slice is the book's own backing array and
// must not be mutated; publish replaces it wholesale.
func (b *AddressBook) snapshot() ([]Address, Address) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addrs, b.def
}

// publish installs the bound address set. Called by the lifecycle during
// Start, before the transport reports itself running.
func (b *AddressBook) publish(addrs []Address, def Address) {
	b.mu.Lock()
	b.addrs = append([]Address(nil), addrs...)
	b.def = def
	b.mu.Unlock()
}

func (b *AddressBook) empty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.addrs) == 0
}
