// Package transfer orchestrates complete file transfers between two
// peers over an untrusted channel.
//
// A transfer runs in phases. The handshake establishes a hybrid
// post-quantum session root; the sender then offers signed file
// metadata, the receiver answers with acceptance and any chunks it
// already holds from an interrupted attempt, and the data phase streams
// encrypted chunks under per-message ratchet keys until the receiver
// finalizes the file and verifies its whole-file digest.
//
// Sender and Receiver each run a single event loop goroutine that owns
// all session state; the channel delivers inbound frames into that loop
// and the public methods communicate with it through the same queue, so
// no session state is shared across goroutines.
package transfer
