// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mongowire/driver/auth"
	"github.com/mongowire/driver/bsoncore"
	"github.com/mongowire/driver/internal/logger"
	"github.com/mongowire/driver/options"
	"github.com/mongowire/driver/topology"
	"github.com/mongowire/driver/wire"
)

// Client is the top of the facade hierarchy. It owns one connection to one
// endpoint and the client-wide default read preference. Database and
// Collection handles derived from it share the connection.
type Client struct {
	conn     Connection
	readPref ReadPreference
	logger   *logger.Logger

	// opID tags log events for one logical operation, since the wire
	// request ids a single operation uses (one per batch, one per getMore)
	// are assigned below this layer.
	opID int32
}

// Connect builds a Client for addr ("host:port") from opts. The connection
// is established lazily on the first operation.
func Connect(addr string, builder *options.ClientOptionsBuilder) (*Client, error) {
	opts := options.ClientOptions{}
	if builder != nil {
		for _, set := range builder.OptionsSetters() {
			if err := set(&opts); err != nil {
				return nil, err
			}
		}
	}

	var topoOpts []topology.Option
	if opts.ConnectTimeout != nil {
		topoOpts = append(topoOpts, topology.WithConnectionTimeout(*opts.ConnectTimeout))
	}
	if opts.ReplyTimeout != nil {
		topoOpts = append(topoOpts, topology.WithReplyTimeout(*opts.ReplyTimeout))
	}
	if opts.TLS != nil {
		topoOpts = append(topoOpts, topology.WithTLS(opts.TLS.CertificatePEM, opts.TLS.PrivateKeyPEM, opts.TLS.PrivateKeyPassword))
		if opts.TLS.InsecureSkipVerify {
			topoOpts = append(topoOpts, topology.WithInsecureSkipVerify())
		}
	}
	if len(opts.Compressors) > 0 {
		topoOpts = append(topoOpts, topology.WithCompressors(opts.Compressors...))
	}
	if opts.MaxOutstandingRequests != nil {
		topoOpts = append(topoOpts, topology.WithMaxOutstandingRequests(*opts.MaxOutstandingRequests))
	}
	if opts.AppName != nil {
		topoOpts = append(topoOpts, topology.WithAppName(*opts.AppName))
	}
	if opts.Logger != nil {
		topoOpts = append(topoOpts, topology.WithLogger(opts.Logger))
	}

	readPref := ReadPreferenceInherit
	if opts.ReadPreference != nil {
		rp, err := parseReadPreference(*opts.ReadPreference)
		if err != nil {
			return nil, err
		}
		readPref = rp
	}

	if opts.Auth != nil {
		mech := auth.Mechanism(opts.Auth.AuthMechanism)
		switch mech {
		case auth.MechanismNone, auth.MechanismSCRAMSHA1, auth.MechanismSCRAMSHA256:
		default:
			return nil, fmt.Errorf("driver: unsupported auth mechanism %q", opts.Auth.AuthMechanism)
		}
		topoOpts = append(topoOpts, topology.WithAuth(mech, opts.Auth.AuthSource, opts.Auth.Username, opts.Auth.Password))
	}

	return &Client{
		conn:     topology.New(addr, topoOpts...),
		readPref: readPref,
		logger:   opts.Logger,
	}, nil
}

// NewClientWithConnection wraps an existing connection, used by tests and
// by callers that manage topology.Connection construction themselves.
func NewClientWithConnection(conn Connection, readPref ReadPreference, log *logger.Logger) *Client {
	return &Client{conn: conn, readPref: readPref, logger: log}
}

// Database returns a handle on the named database, inheriting the client's
// read preference unless overridden on the handle.
func (c *Client) Database(name string) *Database {
	return &Database{client: c, name: name, readPref: ReadPreferenceInherit}
}

// Disconnect closes the underlying connection. In-flight operations fail
// with a connection error.
func (c *Client) Disconnect() error {
	return c.conn.Close()
}

func (c *Client) nextOpID() int32 {
	return atomic.AddInt32(&c.opID, 1)
}

// runCommand assembles the command envelope (caller-supplied elements plus
// $db and, when non-primary, $readPreference), sends it, and interprets the
// reply's type-0 document. ignorableCode converts a matching server error
// into a zero-count success.
func (c *Client) runCommand(
	ctx context.Context,
	db string,
	name string,
	elems []byte,
	sections1 []wire.Section1,
	collPref, dbPref ReadPreference,
	ignorableCode int32,
) (bsoncore.Document, *CommandResult, error) {
	elems = bsoncore.AppendStringElement(elems, "$db", db)
	elems = appendReadPreference(elems, collPref, dbPref, c.readPref)
	body := bsoncore.BuildDocument(nil, elems)

	opID := c.nextOpID()
	start := time.Now()
	c.logCommandStarted(opID, name, body)

	msg, err := c.conn.SendAndAwait(ctx, body, sections1)
	if err != nil {
		c.logCommandFailed(opID, name, start, err)
		return nil, nil, err
	}

	res, err := interpretReply(msg.Body, ignorableCode)
	if err != nil {
		c.logCommandFailed(opID, name, start, err)
		return msg.Body, nil, err
	}
	c.logCommandSucceeded(opID, name, start, msg.Body)
	return msg.Body, res, nil
}

func (c *Client) logCommandStarted(opID int32, name string, body bsoncore.Document) {
	if c.logger == nil || !c.logger.Is(logger.LevelDebug, logger.ComponentCommand) {
		return
	}
	c.logger.Print(logger.LevelDebug, &logger.CommandStartedMessage{RequestID: opID, Name: name, Command: body})
}

func (c *Client) logCommandSucceeded(opID int32, name string, start time.Time, reply bsoncore.Document) {
	if c.logger == nil || !c.logger.Is(logger.LevelDebug, logger.ComponentCommand) {
		return
	}
	c.logger.Print(logger.LevelDebug, &logger.CommandSucceededMessage{
		RequestID: opID, Name: name, DurationMS: time.Since(start).Milliseconds(), Reply: reply,
	})
}

func (c *Client) logCommandFailed(opID int32, name string, start time.Time, err error) {
	if c.logger == nil || !c.logger.Is(logger.LevelDebug, logger.ComponentCommand) {
		return
	}
	c.logger.Print(logger.LevelDebug, &logger.CommandFailedMessage{
		RequestID: opID, Name: name, DurationMS: time.Since(start).Milliseconds(), Failure: err.Error(),
	})
}
