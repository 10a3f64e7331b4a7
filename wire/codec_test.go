// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import (
	"encoding/binary"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"

	"github.com/mongowire/driver/bsoncore"
)

// minDoc is the smallest legal BSON document: length 5, no elements.
var minDoc = bsoncore.Document{0x05, 0x00, 0x00, 0x00, 0x00}

func testDoc(t *testing.T, key string, val int32) bsoncore.Document {
	t.Helper()
	return bsoncore.BuildDocument(nil, bsoncore.AppendInt32Element(nil, key, val))
}

func TestEncodeValidateDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name      string
		body      bsoncore.Document
		sections1 []Section1
		flags     uint32
	}{
		{name: "type-0 only", body: testDoc(t, "ping", 1)},
		{name: "minimum document", body: minDoc},
		{
			name: "one type-1 section",
			body: testDoc(t, "insert", 1),
			sections1: []Section1{
				{Identifier: "documents", Documents: []bsoncore.Document{testDoc(t, "a", 1), testDoc(t, "b", 2)}},
			},
		},
		{
			name: "type-1 section with zero documents",
			body: testDoc(t, "insert", 1),
			sections1: []Section1{
				{Identifier: "documents", Documents: nil},
			},
		},
		{
			name: "two type-1 sections",
			body: testDoc(t, "update", 1),
			sections1: []Section1{
				{Identifier: "updates", Documents: []bsoncore.Document{testDoc(t, "q", 1)}},
				{Identifier: "documents", Documents: []bsoncore.Document{minDoc}},
			},
		},
		{
			name:  "checksum present",
			body:  testDoc(t, "ping", 1),
			flags: FlagChecksumPresent,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(7, tc.flags, tc.body, tc.sections1)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}

			res := Validate(buf)
			if res.Status != StatusOK {
				t.Fatalf("Validate status: got %v, want OK\n%s", res.Status, spew.Sdump(buf))
			}
			if int(res.Consumed) != len(buf) {
				t.Fatalf("Consumed: got %d, want %d", res.Consumed, len(buf))
			}
			if res.Header.RequestID != 7 {
				t.Errorf("RequestID: got %d, want 7", res.Header.RequestID)
			}

			msg, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if diff := cmp.Diff(tc.body, msg.Body); diff != "" {
				t.Errorf("type-0 document mismatch (-want +got):\n%s", diff)
			}
			wantSections := tc.sections1
			if diff := cmp.Diff(wantSections, msg.Sections1, cmp.Comparer(section1Equal)); diff != "" {
				t.Errorf("type-1 sections mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// section1Equal treats a nil and an empty document list as the same
// section, since Decode builds the slice lazily.
func section1Equal(a, b Section1) bool {
	if a.Identifier != b.Identifier || len(a.Documents) != len(b.Documents) {
		return false
	}
	for i := range a.Documents {
		if diff := cmp.Diff(a.Documents[i], b.Documents[i]); diff != "" {
			return false
		}
	}
	return true
}

func TestEncodeRequiresBody(t *testing.T) {
	if _, err := Encode(1, 0, nil, nil); err == nil {
		t.Fatal("Encode with no type-0 document succeeded, want error")
	}
}

func TestValidateIncremental(t *testing.T) {
	buf, err := Encode(3, 0, testDoc(t, "ping", 1), nil)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	// Fewer than 16 bytes: no header yet.
	for _, n := range []int{0, 1, 15} {
		if res := Validate(buf[:n]); res.Status != StatusNoHeader {
			t.Errorf("Validate(%d bytes): got %v, want NoHeader", n, res.Status)
		}
	}

	// A header but not the whole message: growing.
	for _, n := range []int{16, len(buf) - 1} {
		res := Validate(buf[:n])
		if res.Status != StatusGrowing {
			t.Errorf("Validate(%d bytes): got %v, want Growing", n, res.Status)
		}
		if !res.HeaderOK() || res.Header.RequestID != 3 {
			t.Errorf("Validate(%d bytes): header not populated", n)
		}
	}
}

func TestValidateRejectsBadMessages(t *testing.T) {
	base := func() []byte {
		buf, err := Encode(5, 0, testDoc(t, "ping", 1), nil)
		if err != nil {
			t.Fatalf("Encode error: %v", err)
		}
		return buf
	}

	t.Run("wrong opcode", func(t *testing.T) {
		buf := base()
		binary.LittleEndian.PutUint32(buf[12:16], 2004)
		if res := Validate(buf); res.Status != StatusOpcodeInvalid {
			t.Fatalf("got %v, want OpcodeInvalid", res.Status)
		}
	})

	t.Run("unknown payload type", func(t *testing.T) {
		buf := base()
		buf[20] = 0x02
		if res := Validate(buf); res.Status != StatusDataError {
			t.Fatalf("got %v, want DataError", res.Status)
		}
	})

	t.Run("document shorter than five bytes", func(t *testing.T) {
		buf := base()
		binary.LittleEndian.PutUint32(buf[21:25], 4)
		if res := Validate(buf); res.Status != StatusDataError {
			t.Fatalf("got %v, want DataError", res.Status)
		}
	})

	t.Run("type-1 section with negative size", func(t *testing.T) {
		buf, err := Encode(5, 0, testDoc(t, "insert", 1), []Section1{
			{Identifier: "documents", Documents: []bsoncore.Document{minDoc}},
		})
		if err != nil {
			t.Fatalf("Encode error: %v", err)
		}
		// The type-1 size field sits right after the type-0 section.
		sizeOff := 16 + 4 + 1 + len(testDoc(t, "insert", 1)) + 1
		binary.LittleEndian.PutUint32(buf[sizeOff:sizeOff+4], 0xFFFFFFFF)
		if res := Validate(buf); res.Status != StatusDataError {
			t.Fatalf("got %v, want DataError", res.Status)
		}
	})

	t.Run("two type-0 sections", func(t *testing.T) {
		doc := testDoc(t, "ping", 1)
		buf, err := Encode(5, 0, doc, nil)
		if err != nil {
			t.Fatalf("Encode error: %v", err)
		}
		buf = append(buf, 0x00)
		buf = append(buf, doc...)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
		if res := Validate(buf); res.Status != StatusDataError {
			t.Fatalf("got %v, want DataError", res.Status)
		}
	})

	t.Run("corrupted checksum", func(t *testing.T) {
		buf, err := Encode(5, FlagChecksumPresent, testDoc(t, "ping", 1), nil)
		if err != nil {
			t.Fatalf("Encode error: %v", err)
		}
		buf[len(buf)-1] ^= 0xFF
		if res := Validate(buf); res.Status != StatusChecksumInvalid {
			t.Fatalf("got %v, want ChecksumInvalid", res.Status)
		}
	})
}

func TestValidateConsumesExactlyOneMessage(t *testing.T) {
	first, err := Encode(1, 0, testDoc(t, "ping", 1), nil)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	second, err := Encode(2, 0, testDoc(t, "hello", 1), nil)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	buf := append(append([]byte{}, first...), second...)
	var ids []int32
	for len(buf) > 0 {
		res := Validate(buf)
		if res.Status != StatusOK {
			t.Fatalf("Validate: got %v, want OK", res.Status)
		}
		msg, err := Decode(buf[:res.Consumed])
		if err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		ids = append(ids, msg.RequestID)
		buf = buf[res.Consumed:]
	}
	if diff := cmp.Diff([]int32{1, 2}, ids); diff != "" {
		t.Errorf("request id order mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateIsSideEffectFree(t *testing.T) {
	buf, err := Encode(9, 0, testDoc(t, "ping", 1), []Section1{
		{Identifier: "documents", Documents: []bsoncore.Document{minDoc}},
	})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	snapshot := append([]byte{}, buf...)

	for i := 0; i < 3; i++ {
		Validate(buf)
	}
	if diff := cmp.Diff(snapshot, buf); diff != "" {
		t.Errorf("Validate mutated its input (-want +got):\n%s", diff)
	}
}

func TestTypeOneSectionMayPrecedeTypeZero(t *testing.T) {
	// Hand-assemble a message whose type-1 section comes first; the codec
	// has to accept either ordering.
	body := testDoc(t, "insert", 1)
	doc := testDoc(t, "a", 1)

	var buf []byte
	buf = appendHeader(buf, Header{RequestID: 11, OpCode: OpMsg})
	buf = appendu32(buf, 0) // flags

	buf = append(buf, PayloadType1)
	sizeIdx := len(buf)
	buf = appendu32(buf, 0)
	buf = append(buf, "documents"...)
	buf = append(buf, 0x00)
	buf = append(buf, doc...)
	putu32(buf[sizeIdx:sizeIdx+4], uint32(len(buf)-sizeIdx))

	buf = append(buf, PayloadType0)
	buf = append(buf, body...)
	putu32(buf[0:4], uint32(len(buf)))

	res := Validate(buf)
	if res.Status != StatusOK {
		t.Fatalf("Validate: got %v, want OK", res.Status)
	}
	msg, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if diff := cmp.Diff(body, msg.Body); diff != "" {
		t.Errorf("type-0 document mismatch (-want +got):\n%s", diff)
	}
	if len(msg.Sections1) != 1 || msg.Sections1[0].Identifier != "documents" {
		t.Errorf("type-1 section not recovered: %+v", msg.Sections1)
	}
}
