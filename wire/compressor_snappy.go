// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import "github.com/golang/snappy"

// SnappyCompressor implements Compressor using Google's block-format
// Snappy, the oldest of the three compressors MongoDB servers negotiate.
type SnappyCompressor struct{}

// ID implements Compressor.
func (SnappyCompressor) ID() CompressorID { return CompressorSnappy }

// Compress implements Compressor.
func (SnappyCompressor) Compress(dst, src []byte) ([]byte, error) {
	return snappy.Encode(dst, src), nil
}

// Decompress implements Compressor.
func (SnappyCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return snappy.Decode(dst, src)
}
