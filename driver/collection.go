// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"

	"github.com/mongowire/driver/bsoncore"
	"github.com/mongowire/driver/options"
	"github.com/mongowire/driver/wire"
)

// ErrNoDocuments is returned by FindOne when the filter matched nothing.
var ErrNoDocuments = errors.New("driver: no documents in result")

// ErrDocumentTooLarge is returned when a single document exceeds what fits
// in one wire message on this connection.
var ErrDocumentTooLarge = errors.New("driver: an inserted document is too large")

// reservedCommandBufferBytes is the per-message overhead budget held back
// from maxMessageSizeBytes when packing insert batches: header, flag word,
// section framing, and the command body itself.
const reservedCommandBufferBytes = 16 * 10 * 10 * 10

// Collection is a handle on one collection. Its read preference override
// resolves collection, then database, then client.
type Collection struct {
	db       *Database
	name     string
	readPref ReadPreference
}

// Name returns the collection name.
func (coll *Collection) Name() string { return coll.name }

// Namespace returns the "db.collection" namespace this handle addresses.
func (coll *Collection) Namespace() Namespace {
	return Namespace{DB: coll.db.name, Collection: coll.name}
}

// WithReadPreference returns a copy of the handle whose commands use mode
// instead of the inherited preference.
func (coll *Collection) WithReadPreference(mode ReadPreference) *Collection {
	out := *coll
	out.readPref = mode
	return &out
}

// InsertOne inserts a single document. The server assigns an _id when the
// document doesn't carry one.
func (coll *Collection) InsertOne(ctx context.Context, doc bsoncore.Document) error {
	_, err := coll.InsertMany(ctx, []bsoncore.Document{doc}, nil)
	return err
}

// InsertMany inserts docs, splitting them into as many wire messages as the
// connection's negotiated maxWriteBatchSize and maxMessageSizeBytes
// require. The command body carries insert/ordered; the documents
// themselves ride in a single type-1 section named "documents". The
// returned count sums the per-batch "n" replies. With ordered=true
// (the default) the first failing batch stops the operation.
func (coll *Collection) InsertMany(ctx context.Context, docs []bsoncore.Document, builder *options.InsertManyOptionsBuilder) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	opts := options.InsertManyOptions{}
	if builder != nil {
		for _, set := range builder.OptionsSetters() {
			if err := set(&opts); err != nil {
				return 0, err
			}
		}
	}
	ordered := true
	if opts.Ordered != nil {
		ordered = *opts.Ordered
	}

	// Force the handshake now so the batch limits below are the server's
	// negotiated ones rather than connect-time defaults.
	if err := coll.db.client.conn.Connect(ctx); err != nil {
		return 0, err
	}
	desc := coll.db.client.conn.Description()
	maxBatch := int(desc.MaxWriteBatchSize)
	maxBytes := int(desc.MaxMessageSizeBytes) - reservedCommandBufferBytes

	var total int64
	var firstErr error
	i := 0
	for i < len(docs) {
		var batch []bsoncore.Document
		size := 0
		for i < len(docs) && len(batch) < maxBatch {
			doc := docs[i]
			if len(doc) > maxBytes {
				return total, ErrDocumentTooLarge
			}
			if len(batch) > 0 && size+len(doc) > maxBytes {
				break
			}
			batch = append(batch, doc)
			size += len(doc)
			i++
		}

		elems := bsoncore.AppendStringElement(nil, "insert", coll.name)
		elems = bsoncore.AppendBooleanElement(elems, "ordered", ordered)
		sections := []wire.Section1{{Identifier: "documents", Documents: batch}}

		reply, res, err := coll.db.client.runCommand(ctx, coll.db.name, "insert", elems, sections, coll.readPref, coll.db.readPref, 0)
		if err != nil {
			var we *WriteError
			if !errors.As(err, &we) {
				return total, err
			}
			// A reply carrying a write error still reports how many
			// documents of the batch were applied.
			if n, ok := reply.Lookup("n").AsInt64OK(); ok {
				total += n
			}
			if ordered {
				return total, err
			}
			// Unordered write errors don't stop later batches; the first
			// one still surfaces after the remaining documents are sent.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += res.N
	}
	return total, firstErr
}

// Find runs a find command with the given filter and returns a Cursor over
// the result set. A nil filter matches everything.
func (coll *Collection) Find(ctx context.Context, filter bsoncore.Document, builder *options.FindOptionsBuilder) (*Cursor, error) {
	opts := options.FindOptions{}
	if builder != nil {
		for _, set := range builder.OptionsSetters() {
			if err := set(&opts); err != nil {
				return nil, err
			}
		}
	}

	elems := bsoncore.AppendStringElement(nil, "find", coll.name)
	elems = bsoncore.AppendDocumentElement(elems, "filter", filterOrEmpty(filter))
	if opts.Limit != nil {
		elems = bsoncore.AppendInt64Element(elems, "limit", *opts.Limit)
	}
	var batchSize int32
	if opts.BatchSize != nil {
		batchSize = *opts.BatchSize
		elems = bsoncore.AppendInt32Element(elems, "batchSize", batchSize)
	}

	reply, _, err := coll.db.client.runCommand(ctx, coll.db.name, "find", elems, nil, coll.readPref, coll.db.readPref, 0)
	if err != nil {
		return nil, err
	}
	return newCursor(coll, reply, batchSize)
}

// FindOne runs a find with limit 1 and singleBatch set, so the server
// closes its cursor immediately, and returns the matched document or
// ErrNoDocuments.
func (coll *Collection) FindOne(ctx context.Context, filter bsoncore.Document) (bsoncore.Document, error) {
	elems := bsoncore.AppendStringElement(nil, "find", coll.name)
	elems = bsoncore.AppendDocumentElement(elems, "filter", filterOrEmpty(filter))
	elems = bsoncore.AppendInt64Element(elems, "limit", 1)
	elems = bsoncore.AppendBooleanElement(elems, "singleBatch", true)

	reply, _, err := coll.db.client.runCommand(ctx, coll.db.name, "find", elems, nil, coll.readPref, coll.db.readPref, 0)
	if err != nil {
		return nil, err
	}
	cur, err := newCursor(coll, reply, 0)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	if len(cur.batch) == 0 {
		return nil, ErrNoDocuments
	}
	return cur.batch[0], nil
}

// Drop removes the collection. NamespaceNotFound from the server is
// treated as success, so dropping a collection that never existed is not
// an error.
func (coll *Collection) Drop(ctx context.Context) error {
	elems := bsoncore.AppendStringElement(nil, "drop", coll.name)
	_, _, err := coll.db.client.runCommand(ctx, coll.db.name, "drop", elems, nil, coll.readPref, coll.db.readPref, NamespaceNotFound)
	return err
}

func filterOrEmpty(filter bsoncore.Document) bsoncore.Document {
	if len(filter) == 0 {
		return bsoncore.EmptyDocument()
	}
	return filter
}
