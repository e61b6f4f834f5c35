// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logsink is the NFLOG-backed log sidecar: a Reader binds one
// netfilter log group and hands every logged packet to a Writer, which
// serializes it as one CSV row — packet sequence number, payload hash,
// receive timestamp, and the policy/state/verdict triple the kernel
// filter rule encoded into the log prefix when it logged the packet.
package logsink

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/florianl/go-nflog/v2"
	"golang.org/x/sys/unix"

	"grimm.is/devicewall/internal/errors"
	"grimm.is/devicewall/internal/ipaddr"
	"grimm.is/devicewall/internal/logging"
)

// Header is the CSV column header every log file starts with.
const Header = "id,hash,timestamp,policy,state,verdict\n"

// Writer serializes logged packets as CSV rows to an underlying
// io.Writer. Safe for concurrent use, though a Reader only ever calls
// it from its own callback goroutine.
type Writer struct {
	mu      sync.Mutex
	out     io.Writer
	counter uint64
}

// NewWriter returns a Writer whose sequence numbers start at 1,
// matching the original sidecar's packet counter.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, counter: 1}
}

// WriteHeader writes the CSV column header.
func (w *Writer) WriteHeader() error {
	_, err := io.WriteString(w.out, Header)
	return err
}

// WriteEntry writes one logged packet's row: sequence id, hex SHA-256
// of payload, receive timestamp as seconds.microseconds, and prefix
// (the kernel filter's "policy,state,verdict" log prefix) verbatim.
func (w *Writer) WriteEntry(payload []byte, ts time.Time, prefix string) error {
	id := atomic.AddUint64(&w.counter, 1) - 1

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "%d,%s,%d.%06d,%s\n",
		id, ipaddr.HashHex(payload), ts.Unix(), ts.Nanosecond()/1000, prefix)
	return err
}

// Reader binds one NFLOG group and drives its receive loop, handing
// every logged packet to a Writer until Stop is called or the receive
// loop hits an unrecoverable error.
type Reader struct {
	group uint16
	log   *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewReader constructs a Reader bound to the given NFLOG group.
func NewReader(group uint16) *Reader {
	return &Reader{
		group: group,
		log:   logging.WithComponent("logsink").With("group", group),
	}
}

// IsRunning reports whether the reader's receive loop is active.
func (r *Reader) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run binds the log group and blocks, writing every logged packet to w
// until ctx is canceled, Stop is called, or the receive loop hits an
// unrecoverable error. It returns nil on a clean shutdown and a
// KindFatal error otherwise.
func (r *Reader) Run(ctx context.Context, w *Writer) error {
	cfg := nflog.Config{
		Group:       r.group,
		Copymode:    nflog.NfUlnlCopyPacket,
		ReadTimeout: 10 * time.Millisecond,
	}

	nf, err := nflog.Open(&cfg)
	if err != nil {
		return errors.Wrap(err, errors.KindFatal, "opening nflog handle")
	}
	defer nf.Close()

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
	}()

	fatalErr := make(chan error, 1)

	hook := func(a nflog.Attribute) int {
		r.handle(w, a)
		return 0
	}
	errHook := func(e error) int {
		// Lost log messages under load (ENOBUFS) are tolerated exactly
		// like a queueworker's lost packets are: the sidecar just misses
		// some rows rather than stopping.
		if errors.Is(e, context.Canceled) || errors.Is(e, unix.ENOBUFS) {
			return 0
		}
		select {
		case fatalErr <- e:
		default:
		}
		return 1
	}

	if err := nf.RegisterWithErrorFunc(runCtx, hook, errHook); err != nil {
		return errors.Wrap(err, errors.KindFatal, "registering nflog callback")
	}

	select {
	case <-runCtx.Done():
		return nil
	case err := <-fatalErr:
		return errors.Wrap(err, errors.KindFatal, "nflog receive loop failed")
	}
}

// Stop cancels a running reader's receive loop. Safe to call on a
// reader that was never started or has already stopped.
func (r *Reader) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Reader) handle(w *Writer, a nflog.Attribute) {
	var payload []byte
	if a.Payload != nil {
		payload = *a.Payload
	}
	ts := time.Now()
	if a.Timestamp != nil {
		ts = *a.Timestamp
	}
	var prefix string
	if a.Prefix != nil {
		prefix = *a.Prefix
	}
	if err := w.WriteEntry(payload, ts, prefix); err != nil {
		r.log.WithError(err).Warn("failed to write log entry")
	}
}
