/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package streamrelay

import (
	"io"
	"sync"
)

// chunkQueue is a bounded, drop-oldest byte-chunk buffer that also
// implements io.Reader, so it can be handed to http.NewRequest as a
// streaming request body (spec §4.9: "implementation must use a streaming
// body, not buffered").
//
// Grounded on internal/harbor/server.go's two-goroutine io.Copy pump, with
// the direction inverted: harbor pumps bytes off a hijacked socket into a
// decoder; this pumps host-submitted chunks into an outbound HTTP PUT.
type chunkQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	chunks   [][]byte
	depth    int
	closed   bool
	aborted  bool

	current []byte // the chunk currently being drained by Read
}

func newChunkQueue(depth int) *chunkQueue {
	q := &chunkQueue{depth: depth}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// push enqueues raw, dropping the oldest queued chunk if the queue is at
// capacity (spec §4.9: "on overflow the oldest chunks are dropped"). It
// reports whether a drop occurred so the caller can log a warning.
func (q *chunkQueue) push(raw []byte) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.chunks) >= q.depth {
		q.chunks = q.chunks[1:]
		dropped = true
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	q.chunks = append(q.chunks, cp)
	q.notEmpty.Signal()
	return dropped
}

// Read implements io.Reader, blocking until a chunk is available, the
// queue is closed (clean EOF), or aborted (read error, for a downstream
// write failure that must not be mistaken for a clean stop).
func (q *chunkQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	for len(q.current) == 0 {
		if q.aborted {
			q.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if len(q.chunks) > 0 {
			q.current = q.chunks[0]
			q.chunks = q.chunks[1:]
			break
		}
		if q.closed {
			q.mu.Unlock()
			return 0, io.EOF
		}
		q.notEmpty.Wait()
	}
	n := copy(p, q.current)
	q.current = q.current[n:]
	q.mu.Unlock()
	return n, nil
}

// closeClean signals orderly end-of-stream: Read drains whatever remains
// queued, then returns io.EOF (spec §4.9: "drain the queue on orderly
// stop").
func (q *chunkQueue) closeClean() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// abort signals an error termination: Read returns immediately without
// draining (spec §4.9: "abort on error").
func (q *chunkQueue) abort() {
	q.mu.Lock()
	q.aborted = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}
