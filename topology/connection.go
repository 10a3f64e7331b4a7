// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements the connection engine: it owns the one
// socket to one {host, port} endpoint, serializes writes, feeds received
// bytes through the wire package's framing codec, and publishes completed
// replies into the reply registry. It also drives the reconnect sequence
// (dial, optional TLS, hello handshake, optional authentication).
package topology

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mongowire/driver/auth"
	"github.com/mongowire/driver/bsoncore"
	"github.com/mongowire/driver/internal"
	"github.com/mongowire/driver/internal/logger"
	"github.com/mongowire/driver/wire"
	"github.com/mongowire/driver/wire/registry"
)

// Description holds the subset of the hello reply this engine tracks, used
// to bound subsequent batching.
type Description struct {
	MinWireVersion      int32
	MaxWireVersion      int32
	MaxWriteBatchSize   int32
	MaxMessageSizeBytes int32
	Compression         []string
}

const (
	defaultMaxWriteBatchSize   = 1000
	defaultMaxMessageSizeBytes = 32 * 1024 * 1024
	initialReadBufferSize      = 4096
)

// Connection owns a single socket to a single mongod endpoint. It is safe
// for concurrent use by multiple caller goroutines; the receive path runs
// on its own internally-managed goroutine.
type Connection struct {
	addr string
	cfg  *config

	connMu    sync.Mutex // connection-lock: socket ownership, send serialization, state, settings
	conn      net.Conn
	state     State
	desc      Description
	compressorSend *wire.CompressorID
	compressors    map[wire.CompressorID]wire.Compressor

	bufMu sync.Mutex // buffer-lock
	buf   []byte

	reg       *registry.Registry
	admission *semaphore.Weighted
	requestID int32 // incremented atomically per send
}

// New constructs a Connection for addr ("host:port"). No network activity
// happens until the first Connect/Execute/SendAndAwait/SendFireAndForget
// call.
func New(addr string, opts ...Option) *Connection {
	cfg := newConfig(opts...)

	compressors := map[wire.CompressorID]wire.Compressor{
		wire.CompressorSnappy: wire.SnappyCompressor{},
		wire.CompressorZstd:   &wire.ZstdCompressor{},
	}

	return &Connection{
		addr:        addr,
		cfg:         cfg,
		reg:         registry.New(),
		admission:   semaphore.NewWeighted(cfg.maxOutstandingRequests),
		compressors: compressors,
	}
}

// Addr returns the endpoint this Connection talks to.
func (c *Connection) Addr() string { return c.addr }

// Description returns the most recently negotiated server description.
// The zero value is returned before the first successful handshake.
func (c *Connection) Description() Description {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.desc
}

// State reports the connection's current position in the Disconnected ->
// Connecting -> Connected state machine.
func (c *Connection) State() State {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.state
}

func (c *Connection) nextRequestID() int32 {
	return atomic.AddInt32(&c.requestID, 1)
}

// ensureConnected dials, optionally upgrades to TLS, runs the hello
// handshake, and authenticates, but only if not already connected. The
// engine reconnects lazily at the next request rather than retrying
// autonomously mid-request.
func (c *Connection) ensureConnected(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.state == Connected {
		return nil
	}

	c.state = Connecting
	if err := c.dialLocked(ctx); err != nil {
		c.state = Disconnected
		return err
	}

	c.state = Connected
	c.logConnection("connected")
	return nil
}

func (c *Connection) dialLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.connectionTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return newConnectionError(c.addr, "failed to dial", err)
	}

	if c.cfg.secure {
		tlsCfg, err := buildTLSConfig(c.cfg.tls)
		if err != nil {
			nc.Close()
			return newConnectionError(c.addr, "failed to build TLS config", err)
		}
		tlsCfg = tlsCfg.Clone()
		tlsCfg.ServerName = sniHost(c.addr)

		tlsConn, err := tlsHandshake(dialCtx, nc, tlsCfg)
		if err != nil {
			nc.Close()
			return newConnectionError(c.addr, "TLS handshake failed", err)
		}
		nc = tlsConn
	}

	c.conn = nc
	c.buf = c.buf[:0]
	c.reg.DropAll()

	go c.readLoop(nc)

	if err := c.handshake(ctx); err != nil {
		c.closeLocked()
		return err
	}

	if c.cfg.authMechanism != authNone {
		if err := auth.Authenticate(ctx, dialExecutor{c}, c.cfg.authMechanism, c.cfg.authDatabase, c.cfg.username, c.cfg.password); err != nil {
			c.closeLocked()
			return newConnectionError(c.addr, "authentication failed", err)
		}
	}

	return nil
}

// tlsHandshake performs the TLS client handshake over nc, bounded by ctx.
// The handshake runs on its own goroutine so a cancelled context can
// abandon it without blocking forever on a stalled peer.
func tlsHandshake(ctx context.Context, nc net.Conn, cfg *tls.Config) (net.Conn, error) {
	client := tls.Client(nc, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- client.HandshakeContext(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
		return client, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect establishes the connection now (dial, TLS, hello handshake,
// authentication) instead of waiting for the first request. It is
// idempotent: an already-connected Connection returns immediately.
func (c *Connection) Connect(ctx context.Context) error {
	return c.ensureConnected(ctx)
}

// Close terminates the underlying socket (if any) and fails every
// outstanding request with ConnectionError.
func (c *Connection) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	c.state = Disconnected
	c.reg.DropAll()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// readLoop is the receive path: it reads whatever bytes the socket makes
// available, on its own goroutine, and feeds them to onReceived. No caller
// goroutine ever touches the socket's read side.
func (c *Connection) readLoop(nc net.Conn) {
	chunk := make([]byte, initialReadBufferSize)
	for {
		n, err := nc.Read(chunk)
		if n > 0 {
			c.onReceived(chunk[:n])
		}
		if err != nil {
			c.connMu.Lock()
			if c.conn == nc {
				c.closeLocked()
			}
			c.connMu.Unlock()
			return
		}
	}
}

// onReceived appends newly received bytes to the buffer and repeatedly
// extracts complete messages: publish on OK, mark-partial on Growing,
// discard-and-stop on anything malformed.
func (c *Connection) onReceived(b []byte) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	c.buf = append(c.buf, b...)

	for {
		fr := c.extractFrame(c.buf)

		switch fr.status {
		case wire.StatusOK:
			c.reg.Publish(fr.message.ResponseTo, fr.message)
			c.buf = c.buf[fr.consumed:]
			if len(c.buf) == 0 {
				return
			}
			continue
		case wire.StatusGrowing:
			if fr.hasHeader {
				c.reg.MarkPartial(fr.header.ResponseTo, time.Now())
			}
			return
		case wire.StatusOpcodeInvalid:
			c.buf = c.buf[:0]
			return
		case wire.StatusDataError, wire.StatusChecksumInvalid:
			if fr.hasHeader {
				c.reg.Drop(fr.header.ResponseTo)
			}
			c.buf = c.buf[:0]
			c.logConnection(wire.NewProtocolError(fr.status, "discarding receive buffer").Error())
			return
		case wire.StatusNoHeader:
			return
		}
	}
}

// recoverFromTimeout discards the buffer when a wait timed out and the
// buffer holds unparseable bytes. OP_MSG has no framing sentinel to
// resynchronize on, so discarding is the only safe recovery. It is a no-op
// if the buffer currently starts a message that is merely still growing
// validly.
func (c *Connection) recoverFromTimeout(requestID int32) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	if len(c.buf) == 0 {
		return
	}
	fr := c.extractFrame(c.buf)
	if fr.status == wire.StatusGrowing || fr.status == wire.StatusNoHeader {
		return
	}
	c.buf = c.buf[:0]
}

func (c *Connection) resolveCompressor(id wire.CompressorID) (wire.Compressor, bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	comp, ok := c.compressors[id]
	return comp, ok
}

// writeLocked serializes a fully-framed wire message onto the socket,
// compressing it first if a compressor was negotiated and the command
// allows compression.
func (c *Connection) writeLocked(ctx context.Context, framed []byte, compressible bool) error {
	if c.conn == nil {
		return newConnectionError(c.addr, "not connected", nil)
	}

	out := framed
	if compressible && c.compressorSend != nil {
		comp, ok := c.compressors[*c.compressorSend]
		if ok {
			wrapped, err := wire.WrapCompressed(framed, comp)
			if err == nil {
				out = wrapped
			}
		}
	}

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}

	// A blocked Write doesn't observe ctx on its own; the listener closes
	// the socket out from under it if the caller gives up.
	listener := internal.NewCancellationListener()
	nc := c.conn
	go listener.Listen(ctx, func() { nc.Close() })
	_, err := nc.Write(out)
	listener.StopListening()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		c.closeLocked()
		return newConnectionError(c.addr, "failed to write", err)
	}
	return nil
}

// Execute sends a single type-0-only command (no type-1 sections) and
// waits for its reply's type-0 document, for callers like the hello
// handshake and the authenticator that never batch documents.
func (c *Connection) Execute(ctx context.Context, body bsoncore.Document) (bsoncore.Document, error) {
	msg, err := c.SendAndAwait(ctx, body, nil)
	if err != nil {
		return nil, err
	}
	return msg.Body, nil
}

// SendAndAwait frames body plus any type-1 sections, sends it, and blocks
// for the matching reply. This is the primary entry point for the command
// facade and the authenticator.
func (c *Connection) SendAndAwait(ctx context.Context, body bsoncore.Document, sections1 []wire.Section1) (wire.Message, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return wire.Message{}, err
	}

	if err := c.admission.Acquire(ctx, 1); err != nil {
		return wire.Message{}, newConnectionError(c.addr, "admission wait cancelled", err)
	}
	defer c.admission.Release(1)

	requestID := c.nextRequestID()
	compressible := isCompressible(body)

	c.connMu.Lock()
	framed, err := wire.Encode(requestID, 0, body, sections1)
	if err != nil {
		c.connMu.Unlock()
		return wire.Message{}, err
	}
	c.reg.Register(requestID)
	err = c.writeLocked(ctx, framed, compressible)
	c.connMu.Unlock()
	if err != nil {
		c.reg.Drop(requestID)
		return wire.Message{}, err
	}

	msg, err := c.reg.Wait(ctx, requestID, c.cfg.replyTimeout)
	if err != nil {
		c.recoverFromTimeout(requestID)
		return wire.Message{}, newConnectionError(c.addr, "reply wait failed", err)
	}
	return msg, nil
}

// sendAndAwaitLocked is SendAndAwait's counterpart for use during dialLocked
// (handshake and authentication), where connMu is already held by the
// caller and must stay held: no other request can be admitted until the
// connection finishes establishing anyway, so there is no multiplexing to
// preserve here, unlike the steady-state SendAndAwait above which releases
// connMu before waiting so other requests can be written concurrently.
func (c *Connection) sendAndAwaitLocked(ctx context.Context, body bsoncore.Document, sections1 []wire.Section1) (wire.Message, error) {
	requestID := c.nextRequestID()
	compressible := isCompressible(body)

	framed, err := wire.Encode(requestID, 0, body, sections1)
	if err != nil {
		return wire.Message{}, err
	}
	c.reg.Register(requestID)
	if err := c.writeLocked(ctx, framed, compressible); err != nil {
		c.reg.Drop(requestID)
		return wire.Message{}, err
	}

	msg, err := c.reg.Wait(ctx, requestID, c.cfg.replyTimeout)
	if err != nil {
		c.recoverFromTimeout(requestID)
		return wire.Message{}, newConnectionError(c.addr, "reply wait failed", err)
	}
	return msg, nil
}

// dialExecutor adapts a Connection already mid-dial (connMu held) to
// auth.Executor, so Authenticate's saslStart/saslContinue round-trips reuse
// the same locked send path as the hello handshake.
type dialExecutor struct{ c *Connection }

func (e dialExecutor) Execute(ctx context.Context, body bsoncore.Document) (bsoncore.Document, error) {
	msg, err := e.c.sendAndAwaitLocked(ctx, body, nil)
	if err != nil {
		return nil, err
	}
	return msg.Body, nil
}

// SendFireAndForget sends body with the moreToCome flag set: the server
// will not reply, and this call does not wait. Used for killCursors on
// abandoned cursors.
func (c *Connection) SendFireAndForget(ctx context.Context, body bsoncore.Document, sections1 []wire.Section1) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	requestID := c.nextRequestID()
	compressible := isCompressible(body)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	framed, err := wire.Encode(requestID, wire.FlagMoreToCome, body, sections1)
	if err != nil {
		return err
	}
	return c.writeLocked(ctx, framed, compressible)
}

func isCompressible(body bsoncore.Document) bool {
	elems, err := body.Elements()
	if err != nil || len(elems) == 0 {
		return true
	}
	switch elems[0].Key() {
	case "hello", "saslStart", "saslContinue", "isMaster":
		return false
	default:
		return true
	}
}

func (c *Connection) logConnection(event string) {
	if c.cfg.logger == nil {
		return
	}
	c.cfg.logger.Print(logger.LevelDebug, &logger.ConnectionMessage{
		Addr:  c.addr,
		Event: event,
	})
}

