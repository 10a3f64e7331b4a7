// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import "github.com/mongowire/driver/wire"

// frameResult is the outcome of trying to pull one complete message out of
// the receive buffer. It generalizes wire.ValidateResult to also account
// for a possible OP_COMPRESSED wrapper, which this package transparently
// unwraps before handing the inner OP_MSG to the framing codec.
type frameResult struct {
	status   wire.Status
	consumed int32
	header   wire.Header
	hasHeader bool
	message  wire.Message
}

// extractFrame inspects buf and reports whether it holds one complete
// message (OP_MSG, optionally OP_COMPRESSED-wrapped), is merely growing, or
// is malformed. It never mutates buf.
func (c *Connection) extractFrame(buf []byte) frameResult {
	opcode, ok := wire.PeekOpCode(buf)
	if !ok {
		return frameResult{status: wire.StatusNoHeader}
	}

	if opcode != wire.OpCompressed {
		res := wire.Validate(buf)
		fr := frameResult{status: res.Status, consumed: res.Consumed, header: res.Header, hasHeader: res.HeaderOK()}
		if res.Status == wire.StatusOK {
			msg, err := wire.Decode(buf[:res.Consumed])
			if err != nil {
				fr.status = wire.StatusDataError
				return fr
			}
			fr.message = msg
		}
		return fr
	}

	length, ok := wire.PeekMessageLength(buf)
	if !ok {
		return frameResult{status: wire.StatusNoHeader}
	}
	hdr, _ := readHeaderForCompressed(buf)
	if length < 0 {
		return frameResult{status: wire.StatusDataError, header: hdr, hasHeader: true}
	}
	if int(length) > len(buf) {
		return frameResult{status: wire.StatusGrowing, header: hdr, hasHeader: true}
	}

	inner, err := wire.UnwrapCompressed(buf[:length], c.resolveCompressor)
	if err != nil {
		return frameResult{status: wire.StatusDataError, header: hdr, hasHeader: true}
	}

	innerRes := wire.Validate(inner)
	if innerRes.Status != wire.StatusOK {
		return frameResult{status: wire.StatusDataError, header: hdr, hasHeader: true}
	}

	msg, err := wire.Decode(inner)
	if err != nil {
		return frameResult{status: wire.StatusDataError, header: hdr, hasHeader: true}
	}

	return frameResult{status: wire.StatusOK, consumed: length, header: hdr, hasHeader: true, message: msg}
}

func readHeaderForCompressed(buf []byte) (wire.Header, bool) {
	opcode, ok := wire.PeekOpCode(buf)
	if !ok {
		return wire.Header{}, false
	}
	length, _ := wire.PeekMessageLength(buf)
	// RequestID/ResponseTo live at fixed offsets within the standard
	// 16-byte header regardless of opcode; read them directly here since
	// wire.Header's fields beyond OpCode/MessageLength aren't exposed by
	// the Peek helpers.
	if len(buf) < 16 {
		return wire.Header{}, false
	}
	return wire.Header{
		MessageLength: length,
		RequestID:     le32AsInt32(buf[4:8]),
		ResponseTo:    le32AsInt32(buf[8:12]),
		OpCode:        opcode,
	}, true
}

func le32AsInt32(b []byte) int32 {
	return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}
