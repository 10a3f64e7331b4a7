// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mongowire/driver/auth"
	"github.com/mongowire/driver/bsoncore"
	"github.com/mongowire/driver/wire"
)

// serverConn wraps the server side of one accepted connection, reading
// whole request messages (transparently unwrapping OP_COMPRESSED) and
// writing framed replies.
type serverConn struct {
	c             net.Conn
	buf           []byte
	sawCompressed int32
}

func (sc *serverConn) read() (wire.Message, error) {
	chunk := make([]byte, 4096)
	for {
		if opcode, ok := wire.PeekOpCode(sc.buf); ok {
			if length, lok := wire.PeekMessageLength(sc.buf); lok && int(length) <= len(sc.buf) {
				raw := sc.buf[:length]
				sc.buf = sc.buf[length:]

				if opcode == wire.OpCompressed {
					atomic.StoreInt32(&sc.sawCompressed, 1)
					inner, err := wire.UnwrapCompressed(raw, func(id wire.CompressorID) (wire.Compressor, bool) {
						switch id {
						case wire.CompressorSnappy:
							return wire.SnappyCompressor{}, true
						case wire.CompressorZstd:
							return &wire.ZstdCompressor{}, true
						}
						return nil, false
					})
					if err != nil {
						return wire.Message{}, err
					}
					raw = inner
				}
				if res := wire.Validate(raw); res.Status != wire.StatusOK {
					return wire.Message{}, errors.New("server received malformed message")
				}
				return wire.Decode(raw)
			}
		}

		n, err := sc.c.Read(chunk)
		if err != nil {
			return wire.Message{}, err
		}
		sc.buf = append(sc.buf, chunk[:n]...)
	}
}

// encodeReply frames a server reply to responseTo. The codec always stamps
// responseTo=0 for client-originated messages, so the header field is
// patched afterwards.
func encodeReply(t *testing.T, responseTo int32, elems []byte) []byte {
	t.Helper()
	buf, err := wire.Encode(1000+responseTo, 0, bsoncore.BuildDocument(nil, elems), nil)
	if err != nil {
		t.Fatalf("encoding reply: %v", err)
	}
	binary.LittleEndian.PutUint32(buf[8:12], uint32(responseTo))
	return buf
}

func (sc *serverConn) reply(t *testing.T, responseTo int32, elems []byte) {
	t.Helper()
	if _, err := sc.c.Write(encodeReply(t, responseTo, elems)); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func okElems() []byte {
	return bsoncore.AppendDoubleElement(nil, "ok", 1)
}

func helloElems(extra []byte) []byte {
	elems := okElems()
	elems = bsoncore.AppendInt32Element(elems, "minWireVersion", 0)
	elems = bsoncore.AppendInt32Element(elems, "maxWireVersion", 21)
	elems = bsoncore.AppendInt32Element(elems, "maxWriteBatchSize", 100000)
	elems = bsoncore.AppendInt32Element(elems, "maxMessageSizeBytes", 48000000)
	return append(elems, extra...)
}

func commandName(t *testing.T, body bsoncore.Document) string {
	t.Helper()
	elems, err := body.Elements()
	if err != nil || len(elems) == 0 {
		t.Fatalf("command has no elements: %v", err)
	}
	return elems[0].Key()
}

// startServer runs handle on the first accepted connection in its own
// goroutine and returns the address to dial.
func startServer(t *testing.T, handle func(sc *serverConn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(&serverConn{c: conn})
	}()
	return ln.Addr().String()
}

// answerHello reads one message, requires it to be hello against admin, and
// answers it.
func answerHello(t *testing.T, sc *serverConn, extra []byte) {
	t.Helper()
	msg, err := sc.read()
	if err != nil {
		t.Errorf("server read: %v", err)
		return
	}
	if name := commandName(t, msg.Body); name != "hello" {
		t.Errorf("first command: got %q, want hello", name)
	}
	if db, _ := msg.Body.Lookup("$db").StringValueOK(); db != "admin" {
		t.Errorf("hello $db: got %q, want admin", db)
	}
	sc.reply(t, msg.RequestID, helloElems(extra))
}

func TestConnectRunsHandshake(t *testing.T) {
	addr := startServer(t, func(sc *serverConn) {
		answerHello(t, sc, nil)
	})

	c := New(addr)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.State(); got != Connected {
		t.Fatalf("State: got %v, want Connected", got)
	}

	desc := c.Description()
	if desc.MaxWireVersion != 21 {
		t.Errorf("MaxWireVersion: got %d, want 21", desc.MaxWireVersion)
	}
	if desc.MaxWriteBatchSize != 100000 {
		t.Errorf("MaxWriteBatchSize: got %d, want 100000", desc.MaxWriteBatchSize)
	}
	if desc.MaxMessageSizeBytes != 48000000 {
		t.Errorf("MaxMessageSizeBytes: got %d, want 48000000", desc.MaxMessageSizeBytes)
	}
}

func TestHandshakeDefaultsWhenFieldsAbsent(t *testing.T) {
	addr := startServer(t, func(sc *serverConn) {
		msg, err := sc.read()
		if err != nil {
			return
		}
		sc.reply(t, msg.RequestID, okElems())
	})

	c := New(addr)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	desc := c.Description()
	if desc.MaxWriteBatchSize != defaultMaxWriteBatchSize {
		t.Errorf("MaxWriteBatchSize: got %d, want %d", desc.MaxWriteBatchSize, defaultMaxWriteBatchSize)
	}
	if desc.MaxMessageSizeBytes != defaultMaxMessageSizeBytes {
		t.Errorf("MaxMessageSizeBytes: got %d, want %d", desc.MaxMessageSizeBytes, defaultMaxMessageSizeBytes)
	}
}

func TestSendAndAwaitRoundTrip(t *testing.T) {
	addr := startServer(t, func(sc *serverConn) {
		answerHello(t, sc, nil)
		msg, err := sc.read()
		if err != nil {
			return
		}
		elems := okElems()
		elems = bsoncore.AppendInt32Element(elems, "n", 5)
		sc.reply(t, msg.RequestID, elems)
	})

	c := New(addr)
	defer c.Close()

	body := bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "ping", 1))
	reply, err := c.SendAndAwait(context.Background(), body, nil)
	if err != nil {
		t.Fatalf("SendAndAwait: %v", err)
	}
	if n, _ := reply.Body.Lookup("n").AsInt64OK(); n != 5 {
		t.Fatalf("reply n: got %d, want 5", n)
	}
}

// TestConcurrentRequestsOutOfOrderReplies holds both requests until they
// have arrived, then answers them in reverse, so each waiter's reply can
// only be correct if matching is by responseTo rather than arrival order.
func TestConcurrentRequestsOutOfOrderReplies(t *testing.T) {
	addr := startServer(t, func(sc *serverConn) {
		answerHello(t, sc, nil)

		msgs := make([]wire.Message, 0, 2)
		for len(msgs) < 2 {
			msg, err := sc.read()
			if err != nil {
				return
			}
			msgs = append(msgs, msg)
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			v, _ := msgs[i].Body.Lookup("ping").Int32OK()
			elems := okElems()
			elems = bsoncore.AppendInt32Element(elems, "echo", v)
			sc.reply(t, msgs[i].RequestID, elems)
		}
	})

	c := New(addr)
	defer c.Close()

	var wg sync.WaitGroup
	for i := int32(1); i <= 2; i++ {
		wg.Add(1)
		go func(i int32) {
			defer wg.Done()
			body := bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "ping", i))
			reply, err := c.SendAndAwait(context.Background(), body, nil)
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			if echo, _ := reply.Body.Lookup("echo").Int32OK(); echo != i {
				t.Errorf("request %d received reply meant for %d", i, echo)
			}
		}(i)
	}
	wg.Wait()
}

func TestReplyTimeoutOnSilentServer(t *testing.T) {
	addr := startServer(t, func(sc *serverConn) {
		answerHello(t, sc, nil)
		// Swallow the next request and never answer.
		sc.read()
		time.Sleep(time.Second)
	})

	c := New(addr, WithReplyTimeout(100*time.Millisecond))
	defer c.Close()

	body := bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "find", 1))
	start := time.Now()
	_, err := c.SendAndAwait(context.Background(), body, nil)
	if err == nil {
		t.Fatal("SendAndAwait succeeded against a silent server")
	}
	var connErr ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error type: got %T, want ConnectionError", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("failed after %v, before the reply timeout", elapsed)
	}
	if c.reg.Len() != 0 {
		t.Fatalf("registry still holds %d entries after timeout", c.reg.Len())
	}
}

// TestChunkedReplyExtendsTimeout writes one reply in chunks whose total
// transfer time exceeds the reply timeout while every inter-chunk gap
// stays under it.
func TestChunkedReplyExtendsTimeout(t *testing.T) {
	const timeout = 100 * time.Millisecond

	addr := startServer(t, func(sc *serverConn) {
		answerHello(t, sc, nil)
		msg, err := sc.read()
		if err != nil {
			return
		}

		elems := okElems()
		elems = bsoncore.AppendStringElement(elems, "padding", string(make([]byte, 256)))
		buf := encodeReply(t, msg.RequestID, elems)

		// Three chunks 60ms apart: 180ms total, every gap under 100ms.
		third := len(buf) / 3
		for _, part := range [][]byte{buf[:third], buf[third : 2*third], buf[2*third:]} {
			time.Sleep(60 * time.Millisecond)
			if _, err := sc.c.Write(part); err != nil {
				return
			}
		}
	})

	c := New(addr, WithReplyTimeout(timeout))
	defer c.Close()

	body := bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "find", 1))
	start := time.Now()
	reply, err := c.SendAndAwait(context.Background(), body, nil)
	if err != nil {
		t.Fatalf("SendAndAwait: %v (after %v)", err, time.Since(start))
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("reply arrived after %v; the chunk schedule should take at least 150ms", elapsed)
	}
	if ok, _ := reply.Body.Lookup("ok").DoubleOK(); ok != 1 {
		t.Fatalf("reply ok: got %v, want 1", ok)
	}
}

func TestFireAndForgetSetsMoreToCome(t *testing.T) {
	flagsCh := make(chan uint32, 1)
	addr := startServer(t, func(sc *serverConn) {
		answerHello(t, sc, nil)
		msg, err := sc.read()
		if err != nil {
			return
		}
		flagsCh <- msg.Flags
	})

	c := New(addr)
	defer c.Close()

	body := bsoncore.BuildDocument(nil, bsoncore.AppendStringElement(nil, "killCursors", "widgets"))
	if err := c.SendFireAndForget(context.Background(), body, nil); err != nil {
		t.Fatalf("SendFireAndForget: %v", err)
	}

	select {
	case flags := <-flagsCh:
		if flags&wire.FlagMoreToCome == 0 {
			t.Fatalf("flags %#x: moreToCome not set", flags)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the fire-and-forget message")
	}
}

func TestCompressionNegotiation(t *testing.T) {
	var sawCompressed *int32
	ready := make(chan struct{})
	addr := startServer(t, func(sc *serverConn) {
		sawCompressed = &sc.sawCompressed
		close(ready)

		compression := bsoncore.AppendStringElement(nil, "0", "snappy")
		arrIdx, arr := bsoncore.AppendArrayElementStart(nil, "compression")
		arr = append(arr, compression...)
		arr, _ = bsoncore.AppendArrayEnd(arr, arrIdx)
		answerHello(t, sc, arr)

		msg, err := sc.read()
		if err != nil {
			return
		}
		sc.reply(t, msg.RequestID, okElems())
	})

	c := New(addr, WithCompressors("snappy"))
	defer c.Close()

	body := bsoncore.BuildDocument(nil, bsoncore.AppendStringElement(nil, "find", "widgets"))
	if _, err := c.SendAndAwait(context.Background(), body, nil); err != nil {
		t.Fatalf("SendAndAwait: %v", err)
	}

	<-ready
	if atomic.LoadInt32(sawCompressed) == 0 {
		t.Fatal("negotiated snappy but the find command arrived uncompressed")
	}
}

func TestAuthenticationFailureSurfacesServerCode(t *testing.T) {
	addr := startServer(t, func(sc *serverConn) {
		answerHello(t, sc, nil)
		msg, err := sc.read()
		if err != nil {
			return
		}
		if name := commandName(t, msg.Body); name != "saslStart" {
			t.Errorf("post-handshake command: got %q, want saslStart", name)
		}
		elems := bsoncore.AppendDoubleElement(nil, "ok", 0)
		elems = bsoncore.AppendInt32Element(elems, "code", 18)
		elems = bsoncore.AppendStringElement(elems, "errmsg", "Authentication failed.")
		sc.reply(t, msg.RequestID, elems)
	})

	c := New(addr, WithAuth(auth.MechanismSCRAMSHA256, "admin", "alice", "wrong"))
	defer c.Close()

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect succeeded with rejected credentials")
	}
	var authErr *auth.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error chain: got %v, want AuthenticationError", err)
	}
	if authErr.Code != 18 {
		t.Fatalf("code: got %d, want 18", authErr.Code)
	}
	if c.State() != Disconnected {
		t.Fatalf("State: got %v, want Disconnected after auth failure", c.State())
	}
}

func TestOnReceivedDiscardsInvalidOpcode(t *testing.T) {
	c := New("unused:27017")

	buf, err := wire.Encode(1, 0, bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, "ping", 1)), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	binary.LittleEndian.PutUint32(buf[12:16], 2004)

	c.onReceived(buf)
	if len(c.buf) != 0 {
		t.Fatalf("buffer holds %d bytes after invalid opcode, want 0", len(c.buf))
	}
}

func TestOnReceivedDropsRequestOnDataError(t *testing.T) {
	c := New("unused:27017")
	c.reg.Register(42)

	buf := encodeReply(t, 42, okElems())
	buf[20] = 0x02 // unknown payload type

	c.onReceived(buf)
	if len(c.buf) != 0 {
		t.Fatalf("buffer holds %d bytes after data error, want 0", len(c.buf))
	}
	if c.reg.Len() != 0 {
		t.Fatalf("registry still holds the dropped request")
	}
}

func TestOnReceivedPublishesBackToBackMessages(t *testing.T) {
	c := New("unused:27017")
	c.reg.Register(1)
	c.reg.Register(2)

	buf := append(encodeReply(t, 1, okElems()), encodeReply(t, 2, okElems())...)
	c.onReceived(buf)

	for _, id := range []int32{1, 2} {
		msg, ok := c.reg.Take(id)
		if !ok {
			t.Fatalf("no published reply for %d", id)
		}
		if msg.ResponseTo != id {
			t.Fatalf("ResponseTo: got %d, want %d", msg.ResponseTo, id)
		}
	}
	if len(c.buf) != 0 {
		t.Fatalf("buffer holds %d leftover bytes, want 0", len(c.buf))
	}
}
