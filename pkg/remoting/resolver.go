package remoting

import "errors"

// ErrNoLocalAddress is returned when local address resolution is invoked
// before the transport has bound any address. This is a contract
// violation by the caller, not a recoverable runtime condition.
var ErrNoLocalAddress = errors.New("remoting: no local address bound (transport not started)")

// Resolver picks the local address to present as the origin when
// contacting a given remote peer. It is a pure function of the current
// AddressBook state and never returns an address outside the book.
type Resolver struct {
	book *AddressBook
}

func NewResolver(book *AddressBook) *Resolver { return &Resolver{book: book} }

// LocalAddressFor selects the bound address whose protocol matches the
// remote's, falling back to the default address when no scheme-specific
// match exists.
func (r *Resolver) LocalAddressFor(remote Address) (Address, error) {
	addrs, def := r.book.snapshot()
	if len(addrs) == 0 {
		return Address{}, ErrNoLocalAddress
	}
	for _, la := range addrs {
		if la.Protocol == remote.Protocol {
			return la, nil
		}
	}
	return def, nil
}
