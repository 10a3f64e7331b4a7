// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import "fmt"

// CompressorID identifies a negotiated wire compressor, matching the ids
// MongoDB assigns in the "compression" handshake field.
type CompressorID byte

// Compressor ids this module knows how to negotiate.
const (
	CompressorNoop   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZstd   CompressorID = 3
)

// Name returns the handshake string for id, or "" if unrecognized.
func (id CompressorID) Name() string {
	switch id {
	case CompressorSnappy:
		return "snappy"
	case CompressorZstd:
		return "zstd"
	default:
		return ""
	}
}

// CompressorByName resolves a handshake compressor name back to its id.
func CompressorByName(name string) (CompressorID, bool) {
	switch name {
	case "snappy":
		return CompressorSnappy, true
	case "zstd":
		return CompressorZstd, true
	default:
		return 0, false
	}
}

// Compressor compresses and decompresses the payload bytes that follow an
// OP_COMPRESSED header; it knows nothing about OP_MSG framing.
type Compressor interface {
	ID() CompressorID
	Compress(dst, src []byte) ([]byte, error)
	Decompress(dst, src []byte) ([]byte, error)
}

// WrapCompressed frames an already-encoded OP_MSG message (as produced by
// Encode) inside an OP_COMPRESSED envelope. The
// original header's RequestID/ResponseTo are preserved; the original
// opcode is always OpMsg since this module never compresses anything else.
func WrapCompressed(msg []byte, c Compressor) ([]byte, error) {
	hdr, ok := readHeader(msg)
	if !ok {
		return nil, fmt.Errorf("wire: message too short to compress")
	}
	uncompressed := msg[headerSize:]

	compressed, err := c.Compress(nil, uncompressed)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, headerSize+9+len(compressed))
	dst = appendHeader(dst, Header{RequestID: hdr.RequestID, ResponseTo: hdr.ResponseTo, OpCode: OpCompressed})
	dst = appendu32(dst, uint32(hdr.OpCode))
	dst = appendu32(dst, uint32(len(uncompressed)))
	dst = append(dst, byte(c.ID()))
	dst = append(dst, compressed...)
	putu32(dst[0:4], uint32(len(dst)))
	return dst, nil
}

// UnwrapCompressed reconstructs the original wire message (with its
// original header and opcode) from a complete OP_COMPRESSED buffer,
// resolving the compressor used by id via resolve.
func UnwrapCompressed(msg []byte, resolve func(CompressorID) (Compressor, bool)) ([]byte, error) {
	hdr, ok := readHeader(msg)
	if !ok || hdr.OpCode != OpCompressed {
		return nil, fmt.Errorf("wire: not an OP_COMPRESSED message")
	}
	if len(msg) < headerSize+9 {
		return nil, fmt.Errorf("wire: OP_COMPRESSED message too short")
	}

	originalOpcode := OpCode(le32(msg[headerSize : headerSize+4]))
	uncompressedSize := le32(msg[headerSize+4 : headerSize+8])
	compressorID := CompressorID(msg[headerSize+8])
	payload := msg[headerSize+9:]

	c, ok := resolve(compressorID)
	if !ok {
		return nil, fmt.Errorf("wire: unknown compressor id %d", compressorID)
	}

	uncompressed, err := c.Decompress(make([]byte, 0, uncompressedSize), payload)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, headerSize+len(uncompressed))
	dst = appendHeader(dst, Header{RequestID: hdr.RequestID, ResponseTo: hdr.ResponseTo, OpCode: originalOpcode})
	dst = append(dst, uncompressed...)
	putu32(dst[0:4], uint32(len(dst)))
	return dst, nil
}

// PeekOpCode reads just enough of buf to report the message's opcode,
// returning false if fewer than a header's worth of bytes are available.
func PeekOpCode(buf []byte) (OpCode, bool) {
	hdr, ok := readHeader(buf)
	if !ok {
		return 0, false
	}
	return hdr.OpCode, true
}

// PeekMessageLength reports the MessageLength field of buf's header.
func PeekMessageLength(buf []byte) (int32, bool) {
	hdr, ok := readHeader(buf)
	if !ok {
		return 0, false
	}
	return hdr.MessageLength, true
}
