// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"strconv"

	"github.com/mongowire/driver/bsoncore"
	"github.com/mongowire/driver/wire"
)

// handshake runs the hello command and records the fields of its reply this
// core cares about: wire version range, batch and message size limits, and
// the compressor negotiated against this
// connection's configured preference list. It assumes connMu is already
// held by dialLocked.
func (c *Connection) handshake(ctx context.Context) error {
	elems := bsoncore.AppendInt32Element(nil, "hello", 1)
	if len(c.cfg.compressorIDs) > 0 {
		arrIdx, arr := bsoncore.AppendArrayElementStart(nil, "compression")
		for i, id := range c.cfg.compressorIDs {
			arr = bsoncore.AppendStringElement(arr, strconv.Itoa(i), id.Name())
		}
		arr, _ = bsoncore.AppendArrayEnd(arr, arrIdx)
		elems = append(elems, arr...)
	}
	if c.cfg.appName != "" {
		app := bsoncore.BuildDocument(nil, bsoncore.AppendStringElement(nil, "name", c.cfg.appName))
		client := bsoncore.BuildDocument(nil, bsoncore.AppendDocumentElement(nil, "application", app))
		elems = bsoncore.AppendDocumentElement(elems, "client", client)
	}
	elems = bsoncore.AppendStringElement(elems, "$db", "admin")

	reply, err := c.sendAndAwaitLocked(ctx, bsoncore.BuildDocument(nil, elems), nil)
	if err != nil {
		return err
	}

	desc := Description{
		MaxWriteBatchSize:   defaultMaxWriteBatchSize,
		MaxMessageSizeBytes: defaultMaxMessageSizeBytes,
	}
	if v, ok := reply.Body.Lookup("minWireVersion").AsInt64OK(); ok {
		desc.MinWireVersion = int32(v)
	}
	if v, ok := reply.Body.Lookup("maxWireVersion").AsInt64OK(); ok {
		desc.MaxWireVersion = int32(v)
	}
	if v, ok := reply.Body.Lookup("maxWriteBatchSize").AsInt64OK(); ok && v > 0 {
		desc.MaxWriteBatchSize = int32(v)
	}
	if v, ok := reply.Body.Lookup("maxMessageSizeBytes").AsInt64OK(); ok && v > 0 {
		desc.MaxMessageSizeBytes = int32(v)
	}
	if arr, ok := reply.Body.Lookup("compression").ArrayOK(); ok {
		vals, _ := arr.Values()
		for _, v := range vals {
			if s, ok := v.StringValueOK(); ok {
				desc.Compression = append(desc.Compression, s)
			}
		}
	}

	c.desc = desc
	c.compressorSend = negotiateCompressor(c.cfg.compressorIDs, desc.Compression)
	return nil
}

// negotiateCompressor returns the first of the client's preferred
// compressors that the server also advertised, or nil if none match.
func negotiateCompressor(preferred []wire.CompressorID, serverNames []string) *wire.CompressorID {
	for _, id := range preferred {
		for _, name := range serverNames {
			if id.Name() == name {
				chosen := id
				return &chosen
			}
		}
	}
	return nil
}
