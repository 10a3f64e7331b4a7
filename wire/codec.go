// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/mongowire/driver/bsoncore"
)

// Status is the outcome of Validate.
type Status int

// Status values Validate can report.
const (
	// StatusOK means buf starts with a complete, well-formed message.
	StatusOK Status = iota
	// StatusGrowing means the header is present and the opcode is valid,
	// but fewer than MessageLength bytes are buffered.
	StatusGrowing
	// StatusNoHeader means fewer than headerSize bytes are buffered.
	StatusNoHeader
	// StatusOpcodeInvalid means the header is present but the opcode is
	// not OP_MSG.
	StatusOpcodeInvalid
	// StatusDataError means the header is valid and enough bytes are
	// present, but section parsing failed an invariant.
	StatusDataError
	// StatusChecksumInvalid means sections parsed but the trailing CRC32
	// did not match.
	StatusChecksumInvalid
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusGrowing:
		return "Growing"
	case StatusNoHeader:
		return "NoHeader"
	case StatusOpcodeInvalid:
		return "OpcodeInvalid"
	case StatusDataError:
		return "DataError"
	case StatusChecksumInvalid:
		return "ChecksumInvalid"
	default:
		return "unknown"
	}
}

// ValidateResult is the result of a single Validate call.
type ValidateResult struct {
	Status Status
	// Consumed is the number of bytes the complete message occupies.
	// Only meaningful when Status == StatusOK.
	Consumed int32
	// Header is populated whenever at least headerSize bytes were
	// available, regardless of Status, so callers can mark a partial
	// reply or drop a malformed one by ResponseTo.
	Header   Header
	hasHeader bool
}

// HeaderOK reports whether r.Header was populated.
func (r ValidateResult) HeaderOK() bool { return r.hasHeader }

// Validate inspects buf and reports whether it begins with a complete,
// well-formed OP_MSG message, is merely incomplete so far, or is malformed.
// Validate never allocates the decoded document list; call Decode
// separately once Status == StatusOK.
func Validate(buf []byte) ValidateResult {
	hdr, ok := readHeader(buf)
	if !ok {
		return ValidateResult{Status: StatusNoHeader}
	}

	result := ValidateResult{Header: hdr, hasHeader: true}

	if hdr.OpCode != OpMsg {
		result.Status = StatusOpcodeInvalid
		return result
	}

	if hdr.MessageLength < headerSize {
		result.Status = StatusDataError
		return result
	}

	if int(hdr.MessageLength) > len(buf) {
		result.Status = StatusGrowing
		return result
	}

	msg := buf[:hdr.MessageLength]
	if err := validateSections(msg); err != nil {
		if errors.Is(err, errChecksumInvalid) {
			result.Status = StatusChecksumInvalid
		} else {
			result.Status = StatusDataError
		}
		return result
	}

	result.Status = StatusOK
	result.Consumed = hdr.MessageLength
	return result
}

var errChecksumInvalid = errors.New("wire: checksum does not match")

// validateSections walks msg (header through end of message, bounded by
// MessageLength) confirming the section invariants without building the
// result document list: exactly one type-0 section, every document length
// in range, every type-1 section size consistent, checksum matching when
// present.
func validateSections(msg []byte) error {
	if len(msg) < headerSize+4 {
		return fmt.Errorf("wire: message too short for OP_MSG flag word")
	}
	flags := le32(msg[headerSize : headerSize+4])

	checksumPresent := flags&FlagChecksumPresent != 0
	sectionsEnd := len(msg)
	if checksumPresent {
		if sectionsEnd < headerSize+4+4 {
			return fmt.Errorf("wire: message too short for checksum")
		}
		sectionsEnd -= 4
	}

	body := msg[headerSize+4 : sectionsEnd]
	type0Count := 0

	for len(body) > 0 {
		payloadType := body[0]
		body = body[1:]

		switch payloadType {
		case PayloadType0:
			length, ok := peekDocLength(body)
			if !ok {
				return fmt.Errorf("wire: type-0 section has invalid document length")
			}
			if length > len(body) {
				return fmt.Errorf("wire: type-0 document overruns section")
			}
			type0Count++
			body = body[length:]
		case PayloadType1:
			if len(body) < 4 {
				return fmt.Errorf("wire: type-1 section missing size")
			}
			sectionSize := int32(le32(body[:4]))
			if sectionSize < 4 || int(sectionSize) > len(body) {
				return fmt.Errorf("wire: type-1 section declares invalid size %d", sectionSize)
			}
			section := body[4:sectionSize]
			idEnd := indexNull(section)
			if idEnd < 0 {
				return fmt.Errorf("wire: type-1 section identifier is not NUL-terminated")
			}
			docs := section[idEnd+1:]
			for len(docs) > 0 {
				length, ok := peekDocLength(docs)
				if !ok || length > len(docs) {
					return fmt.Errorf("wire: type-1 document has invalid length")
				}
				docs = docs[length:]
			}
			body = body[sectionSize:]
		default:
			return fmt.Errorf("wire: unknown payload type %d", payloadType)
		}
	}

	if type0Count != 1 {
		return fmt.Errorf("wire: expected exactly one type-0 section, found %d", type0Count)
	}

	if checksumPresent {
		want := le32(msg[sectionsEnd : sectionsEnd+4])
		got := crc32c(msg[:sectionsEnd])
		if want != got {
			return errChecksumInvalid
		}
	}

	return nil
}

func peekDocLength(b []byte) (int, bool) {
	if len(b) < 5 {
		return 0, false
	}
	length := int(le32(b[:4]))
	if length < 5 {
		return 0, false
	}
	return length, true
}

func indexNull(b []byte) int {
	for i, c := range b {
		if c == 0x00 {
			return i
		}
	}
	return -1
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Decode extracts the type-0 document and ordered type-1 sections from a
// buffer that Validate has already confirmed is StatusOK. Decode assumes
// msg is exactly one complete, validated message (msg[:consumed]).
func Decode(msg []byte) (Message, error) {
	hdr, ok := readHeader(msg)
	if !ok {
		return Message{}, fmt.Errorf("wire: message too short to decode header")
	}
	flags := le32(msg[headerSize : headerSize+4])
	checksumPresent := flags&FlagChecksumPresent != 0
	sectionsEnd := len(msg)
	if checksumPresent {
		sectionsEnd -= 4
	}

	body := msg[headerSize+4 : sectionsEnd]
	out := Message{RequestID: hdr.RequestID, ResponseTo: hdr.ResponseTo, Flags: flags}

	for len(body) > 0 {
		payloadType := body[0]
		body = body[1:]

		switch payloadType {
		case PayloadType0:
			length, _ := peekDocLength(body)
			out.Body = bsoncore.Document(body[:length])
			body = body[length:]
		case PayloadType1:
			sectionSize := int32(le32(body[:4]))
			section := body[4:sectionSize]
			idEnd := indexNull(section)
			identifier := string(section[:idEnd])
			docs := section[idEnd+1:]

			var parsed []bsoncore.Document
			for len(docs) > 0 {
				length, _ := peekDocLength(docs)
				parsed = append(parsed, bsoncore.Document(docs[:length]))
				docs = docs[length:]
			}
			out.Sections1 = append(out.Sections1, Section1{Identifier: identifier, Documents: parsed})
			body = body[sectionSize:]
		}
	}

	return out, nil
}

// Encode frames an outgoing OP_MSG message: a mandatory type-0 document
// plus an ordered list of type-1 sections. responseTo is always 0 for
// client-originated commands.
func Encode(requestID int32, flags uint32, body bsoncore.Document, sections1 []Section1) ([]byte, error) {
	if len(body) == 0 {
		return nil, errors.New("wire: a type-0 document is required to encode a message")
	}

	dst := make([]byte, 0, headerSize+4+len(body)+64)
	const msgIdx = int32(0)
	dst = appendHeader(dst, Header{RequestID: requestID, ResponseTo: 0, OpCode: OpMsg})
	dst = appendu32(dst, flags)

	dst = append(dst, PayloadType0)
	dst = append(dst, body...)

	for _, sec := range sections1 {
		dst = append(dst, PayloadType1)
		secIdx := int32(len(dst))
		dst = appendu32(dst, 0) // size placeholder
		dst = append(dst, sec.Identifier...)
		dst = append(dst, 0x00)
		for _, doc := range sec.Documents {
			dst = append(dst, doc...)
		}
		sectionSize := int32(len(dst)) - secIdx
		putu32(dst[secIdx:secIdx+4], uint32(sectionSize))
	}

	// The checksum covers the finished header, so the length back-patch
	// has to account for the 4 checksum bytes before the CRC is computed.
	if flags&FlagChecksumPresent != 0 {
		putu32(dst[msgIdx:msgIdx+4], uint32(len(dst))+4)
		dst = appendu32(dst, crc32c(dst))
	} else {
		putu32(dst[msgIdx:msgIdx+4], uint32(len(dst)))
	}
	return dst, nil
}

func appendu32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func putu32(dst []byte, v uint32) {
	dst[0], dst[1], dst[2], dst[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
