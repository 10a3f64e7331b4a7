// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Compressor using klauspost/compress's pure-Go
// zstd codec, the modern, higher-ratio compressor MongoDB 4.2+ negotiates.
// The encoder/decoder pair is built lazily and reused; zstd.Encoder and
// zstd.Decoder are both safe for concurrent use via EncodeAll/DecodeAll.
type ZstdCompressor struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

// ID implements Compressor.
func (z *ZstdCompressor) ID() CompressorID { return CompressorZstd }

func (z *ZstdCompressor) init() {
	z.enc, z.err = zstd.NewWriter(nil)
	if z.err != nil {
		return
	}
	z.dec, z.err = zstd.NewReader(nil)
}

// Compress implements Compressor.
func (z *ZstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	z.once.Do(z.init)
	if z.err != nil {
		return nil, z.err
	}
	return z.enc.EncodeAll(src, dst), nil
}

// Decompress implements Compressor.
func (z *ZstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	z.once.Do(z.init)
	if z.err != nil {
		return nil, z.err
	}
	return z.dec.DecodeAll(src, dst)
}
