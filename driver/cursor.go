// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"fmt"

	"github.com/mongowire/driver/bsoncore"
)

// Cursor iterates a server-side result set. It exclusively owns the
// server-side cursor id: iterating to exhaustion observes the server close
// it (id becomes 0), and Close on a live cursor emits killCursors so the
// server doesn't hold the cursor until its idle timeout.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	coll      *Collection
	ns        Namespace
	id        int64
	batch     []bsoncore.Document
	pos       int
	batchSize int32
	err       error
	closed    bool
}

// newCursor builds a Cursor from a cursor-bearing reply document
// ({cursor: {id, ns, firstBatch}}). A reply without a cursor subdocument is
// a protocol-level surprise and is reported as an error.
func newCursor(coll *Collection, reply bsoncore.Document, batchSize int32) (*Cursor, error) {
	sub, ok := reply.Lookup("cursor").DocumentOK()
	if !ok {
		return nil, fmt.Errorf("driver: reply carried no cursor document")
	}

	id, ok := sub.Lookup("id").Int64OK()
	if !ok {
		return nil, fmt.Errorf("driver: cursor document missing id")
	}

	ns := coll.Namespace()
	if nsStr, ok := sub.Lookup("ns").StringValueOK(); ok {
		if parsed, err := ParseNamespace(nsStr); err == nil {
			ns = parsed
		}
	}

	batch, err := cursorBatch(sub, "firstBatch")
	if err != nil {
		return nil, err
	}

	return &Cursor{coll: coll, ns: ns, id: id, batch: batch, batchSize: batchSize}, nil
}

// ID returns the server-side cursor id; 0 means the server has exhausted
// and closed the cursor.
func (c *Cursor) ID() int64 { return c.id }

// Next advances to the next document, fetching another batch with getMore
// when the current one is exhausted and the server still holds the cursor.
// It returns false at the true end of the result set or on error; Err
// distinguishes the two.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil || c.closed {
		return false
	}

	if c.pos < len(c.batch) {
		c.pos++
		return true
	}

	for c.id != 0 {
		if err := c.getMore(ctx); err != nil {
			c.err = err
			return false
		}
		if len(c.batch) > 0 {
			c.pos = 1
			return true
		}
	}
	return false
}

// Current returns the document Next advanced to. It is only valid after a
// Next call that returned true, and only until the following Next call.
func (c *Cursor) Current() bsoncore.Document {
	if c.pos == 0 || c.pos > len(c.batch) {
		return nil
	}
	return c.batch[c.pos-1]
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error { return c.err }

// All drains the cursor into a slice and closes it.
func (c *Cursor) All(ctx context.Context) ([]bsoncore.Document, error) {
	defer c.Close(ctx)
	var out []bsoncore.Document
	for c.Next(ctx) {
		out = append(out, c.Current())
	}
	return out, c.err
}

func (c *Cursor) getMore(ctx context.Context) error {
	elems := bsoncore.AppendInt64Element(nil, "getMore", c.id)
	elems = bsoncore.AppendStringElement(elems, "collection", c.ns.Collection)
	if hint := c.batchSizeHint(); hint > 0 {
		elems = bsoncore.AppendInt32Element(elems, "batchSize", hint)
	}

	reply, _, err := c.coll.db.client.runCommand(ctx, c.ns.DB, "getMore", elems, nil, c.coll.readPref, c.coll.db.readPref, 0)
	if err != nil {
		return err
	}

	sub, ok := reply.Lookup("cursor").DocumentOK()
	if !ok {
		return fmt.Errorf("driver: getMore reply carried no cursor document")
	}
	id, ok := sub.Lookup("id").Int64OK()
	if !ok {
		return fmt.Errorf("driver: getMore cursor document missing id")
	}
	batch, err := cursorBatch(sub, "nextBatch")
	if err != nil {
		return err
	}

	c.id = id
	c.batch = batch
	c.pos = 0
	return nil
}

// batchSizeHint is the batch size sent with getMore: the configured one if
// the caller supplied it, otherwise the size of the batch the server last
// chose.
func (c *Cursor) batchSizeHint() int32 {
	if c.batchSize > 0 {
		return c.batchSize
	}
	return int32(len(c.batch))
}

// Close releases the cursor. If the server still holds it (id != 0), a
// killCursors command is sent with the moreToCome flag so no reply is
// waited for; transport errors during disposal are swallowed, since Close
// commonly runs on cleanup paths that must not fail.
func (c *Cursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.id == 0 {
		return nil
	}

	elems := bsoncore.AppendStringElement(nil, "killCursors", c.ns.Collection)
	arrIdx, arr := bsoncore.AppendArrayElementStart(nil, "cursors")
	arr = bsoncore.AppendInt64Element(arr, "0", c.id)
	arr, _ = bsoncore.AppendArrayEnd(arr, arrIdx)
	elems = append(elems, arr...)
	elems = bsoncore.AppendStringElement(elems, "$db", c.ns.DB)

	_ = c.coll.db.client.conn.SendFireAndForget(ctx, bsoncore.BuildDocument(nil, elems), nil)
	c.id = 0
	return nil
}

func cursorBatch(cursorDoc bsoncore.Document, field string) ([]bsoncore.Document, error) {
	arr, ok := cursorDoc.Lookup(field).ArrayOK()
	if !ok {
		return nil, nil
	}
	vals, err := arr.Values()
	if err != nil {
		return nil, fmt.Errorf("driver: malformed %s array: %w", field, err)
	}
	out := make([]bsoncore.Document, 0, len(vals))
	for _, v := range vals {
		doc, ok := v.DocumentOK()
		if !ok {
			return nil, fmt.Errorf("driver: %s entry is not a document", field)
		}
		out = append(out, doc)
	}
	return out, nil
}
