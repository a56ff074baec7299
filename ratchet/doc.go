// Package ratchet maintains the evolving key schedule of a pqxfer session.
//
// Three nested cadences advance the schedule:
//
//   - a symmetric ratchet every message: the active chain key is run
//     through a one-way derivation producing the message key and the next
//     chain key, and the prior chain key is destroyed immediately;
//
//   - an asymmetric (DH) ratchet every N messages: a fresh X25519 pair is
//     generated, exchanged against the peer's latest ratchet public key,
//     and mixed into the root key, starting new chains;
//
//   - a sparse post-quantum ratchet every M DH steps: an ML-KEM
//     encapsulation against the peer's ratchet KEM key is mixed into the
//     root key, re-keying quantum-resistantly without paying KEM bandwidth
//     on every message.
//
// Data frames flow in one direction per transfer, so the sending side
// drives the ratchet cadences and the receiving side follows the epoch
// markers carried on each frame. A bounded cache of skipped message keys
// absorbs out-of-order delivery inside the flow-control window.
package ratchet
