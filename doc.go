// Package pqxfer implements a secure, resumable file-transfer protocol
// with hybrid post-quantum key exchange.
//
// A transfer moves a file between two peers over an ordered,
// message-oriented channel. The session is keyed by an ML-KEM-768 plus
// X25519 hybrid handshake, every chunk is sealed under a freshly
// ratcheted ChaCha20-Poly1305 key, and receiver progress is persisted
// so an interrupted transfer resumes from the chunks already on disk.
//
// # Getting Started
//
// The transfer package carries the protocol. Wire each side to a
// connected channel and let the event loop drive the session:
//
//	identity, err := crypto.GenerateIdentity()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	channel := transfer.NewConnChannel(conn)
//	sender, err := transfer.NewSender(channel, "archive.tar", transfer.Config{
//	    Identity: identity,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sender.OnProgress(func(p transfer.Progress) {
//	    fmt.Printf("%d/%d bytes\n", p.TransferredBytes, p.TotalBytes)
//	})
//
//	channel.Start()
//	if err := sender.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := sender.Wait(); err != nil {
//	    log.Fatal(err)
//	}
//
// The receiving side accepts offers through a policy callback and
// stores progress in a storage.Store for crash-safe resume:
//
//	receiver := transfer.NewReceiver(channel, transfer.Config{
//	    Store:       store,
//	    DownloadDir: "downloads",
//	})
//	receiver.OnOffer(func(offer transfer.Offer) bool {
//	    fmt.Printf("accept %s? fingerprint %s\n", offer.FileName, offer.Fingerprint)
//	    return true
//	})
//	receiver.Start()
//
// Subpackages: crypto holds the handshake and identity primitives,
// ratchet the per-chunk key schedule, wire the framing and sealing,
// chunk the file splitting and reassembly, flow the retry window,
// storage the resume records, and transfer the session orchestration.
// The cmd/pqxfer command is a TCP front end over the same API.
package pqxfer
