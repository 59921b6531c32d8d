package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/eventsink"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/tlspolicy"
)

const readScratchSize = 4096

// ErrSessionNotFound is returned by Send when no session is registered
// under the given id.
var ErrSessionNotFound = errors.New("session not found")

// entry holds one named session's connection and reader-task lifecycle.
// active is set true by Add and false by Remove, by a replacing Add, or
// when the reader task observes a terminal read.
type entry struct {
	conn   rawConn
	framer framer
	active atomic.Bool

	writeMu sync.Mutex
}

// Registry holds every named session this process maintains. Writers
// (Add, Remove) hold the lock only long enough to mutate the map;
// Send holds the read lock only long enough to look up the entry and
// then serializes the write on the entry's own writeMu, so no registry
// lock is held across network I/O.
type Registry struct {
	Logger *log.Logger
	Sink   eventsink.Sink

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewRegistry constructs an empty session registry. logger and sink may
// be nil; a default stderr logger and a LogSink wrapping it are used.
func NewRegistry(logger *log.Logger, sink eventsink.Sink) *Registry {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if sink == nil {
		sink = eventsink.NewLogSink(logger)
	}
	return &Registry{Logger: logger, Sink: sink, sessions: make(map[string]*entry)}
}

// Add dials serverSocket, registers the resulting connection under id,
// and starts its reader task immediately. There is no reconnect logic;
// a dial failure leaves no entry behind.
func (r *Registry) Add(ctx context.Context, id, serverSocket, tlsPolicyToken, fingerprint string) error {
	spec, err := parseTransport(serverSocket)
	if err != nil {
		return apierr.Wrap(apierr.CodeTCPAddFailed, err)
	}
	if strings.TrimSpace(tlsPolicyToken) != "" {
		spec.policy = tlspolicy.Parse(tlsPolicyToken)
	}
	if fingerprint != "" {
		spec.fingerprint = fingerprint
	}

	conn, err := dial(ctx, spec)
	if err != nil {
		return apierr.Wrap(apierr.CodeTCPAddFailed, err)
	}

	e := &entry{conn: conn}
	e.active.Store(true)

	r.mu.Lock()
	if old, ok := r.sessions[id]; ok {
		old.active.Store(false)
		_ = old.conn.Close()
	}
	r.sessions[id] = e
	r.mu.Unlock()

	go r.runReader(id, e)
	return nil
}

// runReader is the per-session reader task: read a scratch chunk, emit
// it as a raw-chunk event for legacy consumers, feed it to the framer,
// and emit each complete frame it yields; every event carries its own
// copy of the bytes under "payload". It ends at the first read error,
// clean EOF included (Remove and a replacing Add close the connection,
// which makes the next read fail), logging the terminal condition.
func (r *Registry) runReader(id string, e *entry) {
	buf := make([]byte, readScratchSize)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.Sink.Emit("session_raw_chunk", map[string]any{"session_id": id, "bytes": len(chunk), "payload": chunk})

			for _, payload := range e.framer.feed(chunk) {
				r.Sink.Emit("session_frame", map[string]any{"session_id": id, "bytes": len(payload), "payload": payload})
			}
		}
		if err != nil {
			e.active.Store(false)
			if errors.Is(err, io.EOF) {
				r.Logger.Printf("session %s closed (eof)", id)
			} else {
				r.Logger.Printf("session %s reader terminated: %v", id, err)
			}
			return
		}
	}
}

// Send writes payload verbatim to id's writer half. Framing is the
// caller's responsibility; Send does not call encodeFrame itself so
// callers that want arbitrary unframed bytes (test harnesses) can still
// use it.
func (r *Registry) Send(id string, payload []byte) error {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return apierr.Wrap(apierr.CodeTCPSendFailed, fmt.Errorf("%w: %s", ErrSessionNotFound, id))
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, err := e.conn.Write(payload); err != nil {
		return apierr.Wrap(apierr.CodeTCPSendFailed, err)
	}
	return nil
}

// SendFramed is a convenience wrapper that length-prefixes payload
// before writing it.
func (r *Registry) SendFramed(id string, payload []byte) error {
	return r.Send(id, encodeFrame(payload))
}

// Remove drops id's entry, closing its connection. The reader task ends
// at its next failed read; there is no programmatic cancel. Remove on
// an unknown id is a no-op, matching uninstall's idempotence elsewhere
// in the core.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.active.Store(false)
	_ = e.conn.Close()
}

// IsActive reports whether id names a session whose reader task has not
// yet observed a terminal read.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	return ok && e.active.Load()
}
