// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package registry implements the reply registry: one concurrent map,
// keyed by request id, whose entries track both when a request last
// received bytes ("partial") and its reply once fully decoded
// ("completed"). It is the single point of synchronization
// between the connection engine's receive loop (running on whatever
// goroutine is reading the socket) and the goroutines waiting on their own
// request's reply.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/mongowire/driver/wire"
)

// Registry holds the partial and completed reply state for one connection.
// All exported methods are safe for concurrent use; the zero value is not
// usable, use New.
type Registry struct {
	mu      sync.Mutex
	entries map[int32]*entry
}

type entry struct {
	mu        sync.Mutex
	partialAt time.Time
	reply     wire.Message
	hasReply  bool
	terminal  bool
	done      chan struct{} // closed exactly once, on Publish or Drop
	updated   chan struct{} // closed and replaced on every MarkPartial
}

func newEntry() *entry {
	return &entry{done: make(chan struct{}), updated: make(chan struct{})}
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[int32]*entry)}
}

// Register creates bookkeeping for requestID, a precondition for Wait or
// Take to observe anything for it. It is a no-op if the id is already
// registered (ids are only reused after a prior entry terminates).
func (r *Registry) Register(requestID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[requestID]; !ok {
		r.entries[requestID] = newEntry()
	}
}

// MarkPartial records that at least one byte of requestID's reply has been
// seen as of now, resetting the idle deadline a Wait call applies.
func (r *Registry) MarkPartial(requestID int32, now time.Time) {
	r.mu.Lock()
	e, ok := r.entries[requestID]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.partialAt = now
	old := e.updated
	e.updated = make(chan struct{})
	e.mu.Unlock()
	close(old)
}

// Publish moves requestID from partial to completed and wakes any waiter.
// It reports false if requestID was not registered (e.g. it already timed
// out or the connection reset), in which case the reply is discarded.
func (r *Registry) Publish(requestID int32, reply wire.Message) bool {
	r.mu.Lock()
	e, ok := r.entries[requestID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal {
		return false
	}
	e.reply = reply
	e.hasReply = true
	e.terminal = true
	close(e.done)
	return true
}

// Take consumes and returns the completed reply for requestID, if any. If
// a reply is returned, requestID is removed from the registry.
func (r *Registry) Take(requestID int32) (wire.Message, bool) {
	r.mu.Lock()
	e, ok := r.entries[requestID]
	r.mu.Unlock()
	if !ok {
		return wire.Message{}, false
	}

	e.mu.Lock()
	hasReply := e.hasReply
	reply := e.reply
	e.mu.Unlock()
	if !hasReply {
		return wire.Message{}, false
	}

	r.mu.Lock()
	delete(r.entries, requestID)
	r.mu.Unlock()
	return reply, true
}

// Drop removes requestID from both the partial and completed maps,
// releasing any blocked Wait with ErrDropped. Safe to call more than once
// or for an id that was never registered.
func (r *Registry) Drop(requestID int32) {
	r.mu.Lock()
	e, ok := r.entries[requestID]
	delete(r.entries, requestID)
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.terminal {
		e.terminal = true
		close(e.done)
	}
}

// DropAll terminates every currently-registered request. A socket
// disconnect flushes both maps this way so no waiter is left stranded on a
// request the dead connection can never answer.
func (r *Registry) DropAll() {
	r.mu.Lock()
	ids := make([]int32, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Drop(id)
	}
}

// Wait blocks until requestID's reply is published, the request is
// dropped, ctx is cancelled, or the reply timeout elapses. The timeout is
// relative to wait start until the first partial byte arrives, and resets
// relative to the most recent partial arrival after that, so a slow large
// reply survives as long as the socket keeps producing bytes.
//
// Wait blocks on a channel rather than polling: it only wakes when there
// is something to re-evaluate, a partial update, a terminal publish/drop,
// or a computed deadline.
func (r *Registry) Wait(ctx context.Context, requestID int32, replyTimeout time.Duration) (wire.Message, error) {
	r.mu.Lock()
	e, ok := r.entries[requestID]
	r.mu.Unlock()
	if !ok {
		return wire.Message{}, ErrDropped
	}

	start := time.Now()

	for {
		e.mu.Lock()
		partialAt := e.partialAt
		doneCh := e.done
		updatedCh := e.updated
		e.mu.Unlock()

		var deadline time.Time
		if partialAt.IsZero() {
			deadline = start.Add(replyTimeout)
		} else {
			deadline = partialAt.Add(replyTimeout)
		}

		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-doneCh:
			timer.Stop()
			e.mu.Lock()
			reply, hasReply := e.reply, e.hasReply
			e.mu.Unlock()
			r.mu.Lock()
			delete(r.entries, requestID)
			r.mu.Unlock()
			if !hasReply {
				return wire.Message{}, ErrDropped
			}
			return reply, nil
		case <-ctx.Done():
			timer.Stop()
			r.Drop(requestID)
			return wire.Message{}, ctx.Err()
		case <-updatedCh:
			timer.Stop()
			continue
		case <-timer.C:
			e.mu.Lock()
			unchanged := e.partialAt.Equal(partialAt)
			e.mu.Unlock()
			if !unchanged {
				continue
			}
			r.Drop(requestID)
			return wire.Message{}, ErrTimeout
		}
	}
}

// Len reports the number of registered entries, including published
// replies not yet taken by Take or Wait. Intended for diagnostics and
// tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
