// Package remoting is the transport abstraction layer of the actor
// runtime: it decides which remote peers are reachable, which local
// address to present to a given peer, and when a misbehaving or stale
// peer incarnation must be excluded from message exchange.
//
// Key concepts:
//   - Address/PeerIdentity: endpoint identity plus an optional
//     incarnation UID distinguishing successive runs of one node
//   - AddressBook/Resolver: the bound local address set and the rule
//     picking the origin address per remote peer
//   - QuarantineRegistry: permanent per-UID quarantine and expiring
//     UID-agnostic gates, consulted on every send and receive
//   - NetTransport: the lifecycle, dispatch and management wiring over
//     a swappable connection layer (pkg/link)
package remoting
