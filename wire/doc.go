// Package wire defines the messages exchanged between transfer peers and
// the codecs that seal and open them.
//
// Every message travels inside an Envelope carrying a type tag and the
// transfer identifier. Handshake messages are the only plaintext bodies;
// metadata, acknowledgements, and control messages are sealed under
// root-derived control keys, and chunk payloads under single-use ratchet
// message keys. Decoding is strict: unknown message types, unknown fields,
// duplicate map keys, and oversized inputs are all rejected.
package wire
