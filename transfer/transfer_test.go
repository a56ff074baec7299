package transfer

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/pqxfer/crypto"
	"github.com/opd-ai/pqxfer/flow"
	"github.com/opd-ai/pqxfer/storage"
)

// testConfig returns a configuration with timings tightened for tests.
func testConfig(t *testing.T) Config {
	t.Helper()
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	t.Cleanup(identity.Destroy)

	return Config{
		Identity:     identity,
		Store:        storage.NewMemoryStore(),
		DownloadDir:  t.TempDir(),
		ChunkSize:    64 * 1024,
		TickInterval: 20 * time.Millisecond,
		Flow: flow.Config{
			AckTimeout: 300 * time.Millisecond,
			MaxRetries: 3,
		},
	}
}

func writeSourceFile(t *testing.T, n int) (string, []byte) {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func waitBoth(t *testing.T, s *Sender, r *Receiver, timeout time.Duration) (senderErr, receiverErr error) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		senderErr = s.Wait()
		receiverErr = r.Wait()
		close(done)
	}()
	select {
	case <-done:
		return senderErr, receiverErr
	case <-time.After(timeout):
		t.Fatal("transfer did not finish in time")
		return nil, nil
	}
}

func TestTransferEndToEnd(t *testing.T) {
	// 10 MiB at the 64 KiB floor: 160 chunks.
	src, data := writeSourceFile(t, 10*1024*1024)
	cfg := testConfig(t)

	senderSide, receiverSide := NewPipe()
	defer senderSide.Close()

	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()

	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)

	var lastProgress atomic.Uint64
	receiver.OnProgress(func(p Progress) {
		assert.GreaterOrEqual(t, p.ChunksDone, lastProgress.Load(), "progress must not regress")
		lastProgress.Store(p.ChunksDone)
	})

	require.NoError(t, sender.Start())
	senderErr, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)
	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)

	assert.Equal(t, StateCompleted, sender.State())
	assert.Equal(t, StateCompleted, receiver.State())
	assert.Equal(t, uint64(160), lastProgress.Load())

	got, err := os.ReadFile(receiver.Path())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "received file must match the source")

	assert.Equal(t, sender.Fingerprint(), receiver.Fingerprint(), "peers must agree on the session fingerprint")

	assertKeysWiped(t, sender.sess)
	assertKeysWiped(t, receiver.sess)
}

// assertKeysWiped checks that no session key material survives the end
// of a transfer.
func assertKeysWiped(t *testing.T, sess *session) {
	t.Helper()
	require.NotNil(t, sess)
	assert.Nil(t, sess.pending, "handshake state must be cleared")
	assert.Nil(t, sess.engine, "ratchet engine must be destroyed")
	assert.Nil(t, sess.localDH, "ephemeral DH key must be wiped")
	if sess.root != nil {
		assert.True(t, sess.root.Destroyed(), "root key must be wiped")
	}
}

func TestTransferWithCompression(t *testing.T) {
	// Compressible payload exercises the lz4 path end to end.
	data := bytes.Repeat([]byte("compressible chunk content "), 100_000)
	src := filepath.Join(t.TempDir(), "payload.txt")
	require.NoError(t, os.WriteFile(src, data, 0o600))

	cfg := testConfig(t)
	cfg.Compress = true

	senderSide, receiverSide := NewPipe()
	defer senderSide.Close()

	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()
	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)
	require.NoError(t, sender.Start())

	senderErr, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)
	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)

	got, err := os.ReadFile(receiver.Path())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestTransferResumesAfterInterruption(t *testing.T) {
	src, data := writeSourceFile(t, 10*1024*1024)

	cfg := testConfig(t)
	store := cfg.Store
	downloadDir := cfg.DownloadDir

	// First attempt: cut the channel once 50 chunks have landed.
	senderSide, receiverSide := NewPipe()
	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()
	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)

	var cut atomic.Bool
	receiver.OnProgress(func(p Progress) {
		if p.ChunksDone >= 50 && !cut.Swap(true) {
			go senderSide.Close()
		}
	})
	require.NoError(t, sender.Start())

	senderErr, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)
	require.Error(t, senderErr, "interrupted sender must fail")
	require.Error(t, receiverErr, "interrupted receiver must fail")

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	held := records[0].Received.Count()
	require.GreaterOrEqual(t, held, uint64(50), "persisted bitmap must hold the delivered chunks")
	require.False(t, records[0].Completed)

	// Second attempt over a fresh channel and handshake.
	cfg2 := testConfig(t)
	cfg2.Store = store
	cfg2.DownloadDir = downloadDir
	cfg2.Identity = cfg.Identity

	senderSide2, receiverSide2 := NewPipe()
	defer senderSide2.Close()

	receiver2 := NewReceiver(receiverSide2, cfg2)
	resumed := make(chan Offer, 1)
	receiver2.OnOffer(func(o Offer) bool {
		resumed <- o
		return true
	})
	receiver2.Start()

	sender2, err := NewSender(senderSide2, src, cfg2)
	require.NoError(t, err)
	require.NoError(t, sender2.Start())

	senderErr, receiverErr = waitBoth(t, sender2, receiver2, 30*time.Second)
	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)

	offer := <-resumed
	assert.True(t, offer.Resuming, "second attempt must resume")
	assert.Equal(t, held, offer.ChunksHeld)

	got, err := os.ReadFile(receiver2.Path())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "resumed file must match the source")
}

func TestTransferRetriesCorruptedChunk(t *testing.T) {
	src, data := writeSourceFile(t, 3*64*1024)
	cfg := testConfig(t)

	senderSide, receiverSide := NewPipe()
	defer senderSide.Close()

	// Corrupt the first large frame in flight, once.
	var corrupted atomic.Bool
	senderSide.(*pipeEnd).setTransform(func(frame []byte) ([]byte, bool) {
		if len(frame) > 32*1024 && !corrupted.Swap(true) {
			frame[len(frame)/2] ^= 0xFF
		}
		return frame, false
	})

	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()
	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)
	require.NoError(t, sender.Start())

	senderErr, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)
	require.NoError(t, senderErr, "corruption must be healed by retry")
	require.NoError(t, receiverErr)
	assert.True(t, corrupted.Load(), "the corruption hook must have fired")

	got, err := os.ReadFile(receiver.Path())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestTransferFailsWhenRetriesExhaust(t *testing.T) {
	src, _ := writeSourceFile(t, 2*64*1024)
	cfg := testConfig(t)

	senderSide, receiverSide := NewPipe()
	defer senderSide.Close()

	// Swallow every data frame; only small control traffic passes.
	senderSide.(*pipeEnd).setTransform(func(frame []byte) ([]byte, bool) {
		return frame, len(frame) > 32*1024
	})

	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()
	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)
	require.NoError(t, sender.Start())

	senderErr, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)

	var terr *TransferError
	require.ErrorAs(t, senderErr, &terr)
	assert.Equal(t, ReasonPermanentlyStalled, terr.Reason)
	assert.Equal(t, StateFailed, sender.State())

	// The receiver learns of the abandonment through the cancel.
	require.Error(t, receiverErr)
}

func TestTransferRejectedOffer(t *testing.T) {
	src, _ := writeSourceFile(t, 64*1024)
	cfg := testConfig(t)

	senderSide, receiverSide := NewPipe()
	defer senderSide.Close()

	receiver := NewReceiver(receiverSide, cfg)
	receiver.OnOffer(func(Offer) bool { return false })
	receiver.Start()

	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)
	require.NoError(t, sender.Start())

	senderErr, receiverErr := waitBoth(t, sender, receiver, 10*time.Second)

	var terr *TransferError
	require.ErrorAs(t, senderErr, &terr)
	assert.Equal(t, ReasonVerificationRequired, terr.Reason)
	require.Error(t, receiverErr)
}

func TestTransferCancelMidFlight(t *testing.T) {
	src, _ := writeSourceFile(t, 10*1024*1024)
	cfg := testConfig(t)

	senderSide, receiverSide := NewPipe()
	defer senderSide.Close()

	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()
	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)

	var once atomic.Bool
	sender.OnProgress(func(p Progress) {
		if p.ChunksDone >= 10 && !once.Swap(true) {
			go sender.Cancel()
		}
	})
	require.NoError(t, sender.Start())

	senderErr, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)

	var terr *TransferError
	require.ErrorAs(t, senderErr, &terr)
	assert.Equal(t, ReasonCancelled, terr.Reason)
	assert.Equal(t, StateCancelled, sender.State())
	require.Error(t, receiverErr)
}

func TestTransferPauseAndResume(t *testing.T) {
	src, data := writeSourceFile(t, 2*1024*1024)
	cfg := testConfig(t)

	senderSide, receiverSide := NewPipe()
	defer senderSide.Close()

	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()
	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)

	var paused atomic.Bool
	receiver.OnProgress(func(p Progress) {
		if p.ChunksDone >= 5 && !paused.Swap(true) {
			go func() {
				receiver.Pause()
				time.Sleep(100 * time.Millisecond)
				receiver.Resume()
			}()
		}
	})
	require.NoError(t, sender.Start())

	senderErr, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)
	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)

	got, err := os.ReadFile(receiver.Path())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestConcurrentTransfersAreIsolated(t *testing.T) {
	cfg := testConfig(t)
	manager := NewManager(cfg)

	type run struct {
		sender   *Sender
		receiver *Receiver
		data     []byte
	}
	runs := make([]*run, 2)

	for i := range runs {
		src, data := writeSourceFile(t, 2*1024*1024)
		senderSide, receiverSide := NewPipe()
		defer senderSide.Close()

		receiver := manager.Receive(receiverSide)
		sender, err := manager.Send(senderSide, src)
		require.NoError(t, err)
		runs[i] = &run{sender: sender, receiver: receiver, data: data}
	}

	for i, r := range runs {
		senderErr, receiverErr := waitBoth(t, r.sender, r.receiver, 30*time.Second)
		require.NoError(t, senderErr, "transfer %d sender", i)
		require.NoError(t, receiverErr, "transfer %d receiver", i)

		got, err := os.ReadFile(r.receiver.Path())
		require.NoError(t, err)
		assert.True(t, bytes.Equal(r.data, got), "transfer %d content", i)
	}

	assert.NotEqual(t, runs[0].sender.Fingerprint(), runs[1].sender.Fingerprint(),
		"independent sessions must derive independent keys")
	assert.NotEqual(t, runs[0].receiver.Path(), runs[1].receiver.Path(),
		"same-named transfers must land in distinct files")
	assert.Zero(t, manager.Active())
}

func TestReceiverPreservesExistingFile(t *testing.T) {
	src, data := writeSourceFile(t, 256*1024)
	cfg := testConfig(t)

	// A user file already sits at the offered name.
	existing := filepath.Join(cfg.DownloadDir, "payload.bin")
	userContent := []byte("not yours to overwrite")
	require.NoError(t, os.WriteFile(existing, userContent, 0o600))

	senderSide, receiverSide := NewPipe()
	defer senderSide.Close()

	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()
	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)
	require.NoError(t, sender.Start())

	senderErr, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)
	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)

	assert.NotEqual(t, existing, receiver.Path(), "delivery must not claim the occupied name")

	got, err := os.ReadFile(receiver.Path())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	kept, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, userContent, kept, "the pre-existing file must survive untouched")
}

func TestReceiverFailureKeepsPartialFile(t *testing.T) {
	src, _ := writeSourceFile(t, 10*1024*1024)
	cfg := testConfig(t)

	senderSide, receiverSide := NewPipe()
	receiver := NewReceiver(receiverSide, cfg)
	receiver.Start()
	sender, err := NewSender(senderSide, src, cfg)
	require.NoError(t, err)

	var cut atomic.Bool
	receiver.OnProgress(func(p Progress) {
		if p.ChunksDone >= 10 && !cut.Swap(true) {
			go senderSide.Close()
		}
	})
	require.NoError(t, sender.Start())
	_, receiverErr := waitBoth(t, sender, receiver, 30*time.Second)

	var terr *TransferError
	require.ErrorAs(t, receiverErr, &terr, "receiver must report the dropped channel")
	assert.Equal(t, ReasonChannelLost, terr.Reason)
	assert.Equal(t, StateFailed, receiver.State())

	records, err := cfg.Store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, statErr := os.Stat(records[0].FilePath)
	assert.NoError(t, statErr, "partial file must survive for resume")
}

func TestSenderRequiresIdentity(t *testing.T) {
	cfg := testConfig(t)
	cfg.Identity = nil
	senderSide, _ := NewPipe()
	defer senderSide.Close()

	_, err := NewSender(senderSide, "whatever", cfg)
	require.Error(t, err)
}

func TestSenderRejectsMissingFile(t *testing.T) {
	cfg := testConfig(t)
	senderSide, _ := NewPipe()
	defer senderSide.Close()

	sender, err := NewSender(senderSide, filepath.Join(t.TempDir(), "absent"), cfg)
	require.NoError(t, err)
	err = sender.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
