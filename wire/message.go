// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wire implements the OP_MSG framing codec: encoding outgoing
// messages and validating/decoding incoming ones: a pure, side-effect-free
// codec with no knowledge of sockets, requests, or authentication.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/mongowire/driver/bsoncore"
)

// OpCode identifies the wire protocol message type.
type OpCode int32

// Opcodes this module emits or accepts. Legacy opcodes are declared for
// reference only; Validate reports them as StatusOpcodeInvalid and they
// are never handled.
const (
	OpReply      OpCode = 1
	OpUpdate     OpCode = 2001
	OpInsert     OpCode = 2002
	OpQuery      OpCode = 2004
	OpGetMore    OpCode = 2005
	OpDelete     OpCode = 2006
	OpKillCursor OpCode = 2007
	OpCompressed OpCode = 2012
	OpMsg        OpCode = 2013
)

func (o OpCode) String() string {
	switch o {
	case OpReply:
		return "OP_REPLY"
	case OpCompressed:
		return "OP_COMPRESSED"
	case OpMsg:
		return "OP_MSG"
	default:
		return fmt.Sprintf("opcode(%d)", int32(o))
	}
}

// headerSize is the fixed 16-byte wire protocol message header.
const headerSize = 16

// OP_MSG flag word bits. All other bits are reserved zero.
const (
	FlagChecksumPresent uint32 = 1 << 0
	FlagMoreToCome      uint32 = 1 << 1
	FlagExhaustAllowed  uint32 = 1 << 16
)

// Payload section types.
const (
	PayloadType0 byte = 0x00
	PayloadType1 byte = 0x01
)

// Header is the 16-byte wire protocol message header.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

// Section1 is a payload type 1 section: an identified, ordered sequence of
// BSON documents.
type Section1 struct {
	Identifier string
	Documents  []bsoncore.Document
}

// Message is a fully decoded OP_MSG message: the single mandatory type-0
// document plus zero or more type-1 sections, in the order they appeared
// on the wire. Payload ordering between the two payload kinds is not
// preserved, but document order within a single type-1 section is.
type Message struct {
	RequestID  int32
	ResponseTo int32
	Flags      uint32
	Body       bsoncore.Document
	Sections1  []Section1
}

// MoreToCome reports whether the sender does not expect a reply.
func (m Message) MoreToCome() bool {
	return m.Flags&FlagMoreToCome != 0
}

func readHeader(b []byte) (Header, bool) {
	if len(b) < headerSize {
		return Header{}, false
	}
	return Header{
		MessageLength: int32(binary.LittleEndian.Uint32(b[0:4])),
		RequestID:     int32(binary.LittleEndian.Uint32(b[4:8])),
		ResponseTo:    int32(binary.LittleEndian.Uint32(b[8:12])),
		OpCode:        OpCode(int32(binary.LittleEndian.Uint32(b[12:16]))),
	}, true
}

func appendHeader(dst []byte, h Header) []byte {
	var b [headerSize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.MessageLength))
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(b[12:16], uint32(h.OpCode))
	return append(dst, b[:]...)
}

func crc32c(b []byte) uint32 {
	return crc32.Checksum(b, crc32.MakeTable(crc32.Castagnoli))
}
