// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package queueworker binds one NFQUEUE queue per worker goroutine and
// drives its receive loop: extract the packet, hash and timestamp it,
// hand it to a policy callback, and return the callback's verdict to
// the kernel. A queue that hits ENOBUFS keeps running (the kernel-side
// buffer filled faster than packets were drained, and the next packet
// may still be salvageable); any other receive error is fatal to the
// worker and it exits, leaving the supervisor to decide whether to
// restart it.
package queueworker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/florianl/go-nfqueue/v2"
	"golang.org/x/sys/unix"

	"grimm.is/devicewall/internal/errors"
	"grimm.is/devicewall/internal/logging"
)

// VerdictType is the disposition a policy callback assigns a packet.
type VerdictType int

const (
	VerdictDrop VerdictType = iota
	VerdictAccept
	VerdictAcceptWithMark
)

// Verdict is the outcome of evaluating one packet: what to do with it,
// and (for VerdictAcceptWithMark) the conntrack mark to attach so the
// kernel can offload the rest of the flow without revisiting userspace.
type Verdict struct {
	Type VerdictType
	Mark uint32
}

// Entry is the metadata and payload handed to a policy callback for
// one queued packet.
type Entry struct {
	PacketID  uint32
	Payload   []byte
	Hash      string // hex SHA-256 of Payload, set only when logging is enabled
	Timestamp time.Time
	HwAddr    net.HardwareAddr
	InDev     uint32
}

// VerdictFunc evaluates one queued packet and returns its disposition.
type VerdictFunc func(entry Entry) Verdict

// Stats are the running counters a worker exposes through Stats().
type Stats struct {
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsAccepted  uint64 `json:"packets_accepted"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	VerdictErrors    uint64 `json:"verdict_errors"`
}

// Worker binds a single NFQUEUE queue and dispatches its packets to a
// VerdictFunc until Stop is called or the receive loop hits a
// non-ENOBUFS error.
type Worker struct {
	queueNum    uint16
	logHashes   bool
	verdictFunc VerdictFunc
	log         *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	stats Stats
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithHashing enables computing and attaching a SHA-256 hash of each
// packet's payload to the Entry passed to the verdict function, for
// callbacks that log packet identity without retaining the payload
// itself.
func WithHashing() Option {
	return func(w *Worker) { w.logHashes = true }
}

// New constructs a Worker bound to queueNum, dispatching to fn.
func New(queueNum uint16, fn VerdictFunc, opts ...Option) *Worker {
	w := &Worker{
		queueNum:    queueNum,
		verdictFunc: fn,
		log:         logging.WithComponent("queueworker").With("queue", queueNum),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsRunning reports whether the worker's receive loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns a snapshot of the worker's running counters.
func (w *Worker) Stats() Stats {
	return Stats{
		PacketsProcessed: atomic.LoadUint64(&w.stats.PacketsProcessed),
		PacketsAccepted:  atomic.LoadUint64(&w.stats.PacketsAccepted),
		PacketsDropped:   atomic.LoadUint64(&w.stats.PacketsDropped),
		VerdictErrors:    atomic.LoadUint64(&w.stats.VerdictErrors),
	}
}

// Run binds the queue and blocks, processing packets until ctx is
// canceled, Stop is called, or the receive loop hits an unrecoverable
// error. It returns nil on a clean shutdown and a KindFatal error
// otherwise.
func (w *Worker) Run(ctx context.Context) error {
	cfg := nfqueue.Config{
		NfQueue:      w.queueNum,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  0xff,
		Copymode:     nfqueue.NfQnlCopyPacket,
		ReadTimeout:  10 * time.Millisecond,
		WriteTimeout: 15 * time.Millisecond,
	}

	nf, err := nfqueue.Open(&cfg)
	if err != nil {
		return errors.Wrap(err, errors.KindFatal, "opening nfqueue handle")
	}
	defer nf.Close()

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.running = true
	w.cancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.cancel = nil
		w.mu.Unlock()
	}()

	fatalErr := make(chan error, 1)

	hook := func(a nfqueue.Attribute) int {
		w.handle(nf, a)
		return 0
	}
	errHook := func(e error) int {
		// go-nfqueue reports ENOBUFS (the kernel-side queue filled faster
		// than packets were drained) through this callback rather than
		// returning it from Register; it is tolerated exactly like a
		// short read would be, and the loop keeps running.
		if errors.Is(e, context.Canceled) || errors.Is(e, unix.ENOBUFS) {
			w.log.Warn("receive queue overrun, continuing", "error", e)
			return 0
		}
		select {
		case fatalErr <- e:
		default:
		}
		return 1
	}

	if err := nf.RegisterWithErrorFunc(runCtx, hook, errHook); err != nil {
		return errors.Wrap(err, errors.KindFatal, "registering nfqueue callback")
	}

	select {
	case <-runCtx.Done():
		return nil
	case err := <-fatalErr:
		return errors.Wrap(err, errors.KindFatal, "nfqueue receive loop failed")
	}
}

// Stop cancels a running worker's receive loop. Safe to call on a
// worker that was never started or has already stopped.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Worker) handle(nf *nfqueue.Nfqueue, a nfqueue.Attribute) {
	atomic.AddUint64(&w.stats.PacketsProcessed, 1)

	if a.PacketID == nil {
		return
	}
	id := *a.PacketID

	entry := Entry{PacketID: id}
	if a.Payload != nil {
		entry.Payload = *a.Payload
	}
	if a.Timestamp != nil {
		entry.Timestamp = *a.Timestamp
	} else {
		entry.Timestamp = time.Now()
	}
	if a.HwAddr != nil {
		entry.HwAddr = *a.HwAddr
	}
	if a.InDev != nil {
		entry.InDev = *a.InDev
	}
	if w.logHashes && entry.Payload != nil {
		sum := sha256.Sum256(entry.Payload)
		entry.Hash = hex.EncodeToString(sum[:])
	}

	verdict := Verdict{Type: VerdictAccept}
	if w.verdictFunc != nil {
		verdict = w.verdictFunc(entry)
	}

	var sendErr error
	switch verdict.Type {
	case VerdictDrop:
		atomic.AddUint64(&w.stats.PacketsDropped, 1)
		sendErr = nf.SetVerdict(id, nfqueue.NfDrop)
	case VerdictAcceptWithMark:
		atomic.AddUint64(&w.stats.PacketsAccepted, 1)
		sendErr = nf.SetVerdictWithMark(id, nfqueue.NfAccept, int(verdict.Mark))
	default:
		atomic.AddUint64(&w.stats.PacketsAccepted, 1)
		sendErr = nf.SetVerdict(id, nfqueue.NfAccept)
	}
	if sendErr != nil {
		atomic.AddUint64(&w.stats.VerdictErrors, 1)
		w.log.WithError(sendErr).Warn("failed to set verdict", "packet_id", id)
	}
}

// DefaultLearningVerdictFunc builds a VerdictFunc around a
// learning-mode check and a packet processor: while learning is
// active, every packet is processed so new rules can be derived from
// observed traffic; a processor error fails open (accept) rather than
// risk cutting off a device on a transient evaluation failure.
func DefaultLearningVerdictFunc(isLearningMode func() bool, processPacket func(entry Entry) (bool, error)) VerdictFunc {
	return func(entry Entry) Verdict {
		if isLearningMode != nil && isLearningMode() {
			_, _ = processPacket(entry)
			return Verdict{Type: VerdictAccept}
		}
		allow, err := processPacket(entry)
		if err != nil {
			return Verdict{Type: VerdictAccept}
		}
		if !allow {
			return Verdict{Type: VerdictDrop}
		}
		return Verdict{Type: VerdictAccept}
	}
}
