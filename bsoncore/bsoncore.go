// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bsoncore is a byte-oriented, allocation-light representation of
// BSON documents. It is the BSON layer the wire and driver packages are
// built against: a Document is just a []byte with a self-declared length
// prefix, and elements are appended rather than built through reflection.
package bsoncore

import (
	"bytes"
	"errors"
	"fmt"
)

// Type is a BSON element type tag, as defined by the BSON specification.
type Type byte

// BSON type tags used by this package.
const (
	TypeDouble          Type = 0x01
	TypeString          Type = 0x02
	TypeEmbeddedDocument Type = 0x03
	TypeArray           Type = 0x04
	TypeBinary          Type = 0x05
	TypeObjectID        Type = 0x07
	TypeBoolean         Type = 0x08
	TypeDateTime        Type = 0x09
	TypeNull            Type = 0x0A
	TypeInt32           Type = 0x10
	TypeTimestamp       Type = 0x11
	TypeInt64           Type = 0x12
)

// ErrMissingNull is returned when a document or array is missing its
// trailing null byte.
var ErrMissingNull = errors.New("bsoncore: document or array is missing trailing null byte")

// InsufficientBytesError is returned when there are not enough bytes
// available to read a complete value.
type InsufficientBytesError struct {
	Source []byte
	Remain []byte
}

func (e InsufficientBytesError) Error() string {
	return "bsoncore: insufficient bytes to read value"
}

// NewInsufficientBytesError constructs an InsufficientBytesError.
func NewInsufficientBytesError(src, remaining []byte) error {
	return InsufficientBytesError{Source: src, Remain: remaining}
}

func lengthError(what string, length, available int) error {
	return fmt.Errorf("bsoncore: %s length %d exceeds available %d bytes", what, length, available)
}

// Document is a raw bytes representation of a BSON document.
type Document []byte

// Element is a raw bytes representation of a single BSON element: a type
// byte, a NUL-terminated key, and a value.
type Element []byte

// Value is a BSON value: a type tag plus its raw encoded bytes.
type Value struct {
	Type Type
	Data []byte
}

// ReadLength reads the leading 4-byte little-endian length prefix from b.
func ReadLength(b []byte) (int32, []byte, bool) {
	if len(b) < 4 {
		return 0, b, false
	}
	return readi32(b), b[4:], true
}

func readi32(b []byte) int32 {
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
}

func readi64(b []byte) int64 {
	return int64(b[0]) | int64(b[1])<<8 | int64(b[2])<<16 | int64(b[3])<<24 |
		int64(b[4])<<32 | int64(b[5])<<40 | int64(b[6])<<48 | int64(b[7])<<56
}

func appendi32(dst []byte, v int32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendi64(dst []byte, v int64) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// AppendDocumentStart reserves space for a document length prefix and
// returns the index of that prefix along with the extended slice. The
// caller must eventually call AppendDocumentEnd with the same index.
func AppendDocumentStart(dst []byte) (int32, []byte) {
	idx := int32(len(dst))
	return idx, append(dst, 0x00, 0x00, 0x00, 0x00)
}

// AppendDocumentEnd writes the trailing null byte and back-patches the
// length prefix reserved at idx.
func AppendDocumentEnd(dst []byte, idx int32) ([]byte, error) {
	if int(idx) < 0 || int(idx)+4 > len(dst) {
		return dst, fmt.Errorf("bsoncore: invalid document start index %d", idx)
	}
	dst = append(dst, 0x00)
	return UpdateLength(dst, idx, int32(len(dst[idx:]))), nil
}

// UpdateLength back-patches a 4-byte little-endian length at idx.
func UpdateLength(dst []byte, idx, length int32) []byte {
	dst[idx] = byte(length)
	dst[idx+1] = byte(length >> 8)
	dst[idx+2] = byte(length >> 16)
	dst[idx+3] = byte(length >> 24)
	return dst
}

// AppendHeader appends a type byte and a NUL-terminated key.
func AppendHeader(dst []byte, t Type, key string) []byte {
	dst = append(dst, byte(t))
	dst = append(dst, key...)
	return append(dst, 0x00)
}

// AppendDoubleElement appends a double-valued element.
func AppendDoubleElement(dst []byte, key string, f float64) []byte {
	dst = AppendHeader(dst, TypeDouble, key)
	return appendi64(dst, int64(doubleBits(f)))
}

// AppendStringElement appends a UTF-8 string-valued element.
func AppendStringElement(dst []byte, key, val string) []byte {
	dst = AppendHeader(dst, TypeString, key)
	dst = appendi32(dst, int32(len(val)+1))
	dst = append(dst, val...)
	return append(dst, 0x00)
}

// AppendDocumentElement appends a pre-built Document as an element value.
func AppendDocumentElement(dst []byte, key string, doc []byte) []byte {
	dst = AppendHeader(dst, TypeEmbeddedDocument, key)
	return append(dst, doc...)
}

// AppendArrayElement appends a pre-built array as an element value.
func AppendArrayElement(dst []byte, key string, arr []byte) []byte {
	dst = AppendHeader(dst, TypeArray, key)
	return append(dst, arr...)
}

// AppendArrayElementStart reserves space for an array length prefix.
func AppendArrayElementStart(dst []byte, key string) (int32, []byte) {
	dst = AppendHeader(dst, TypeArray, key)
	return AppendDocumentStart(dst)
}

// AppendArrayEnd is an alias of AppendDocumentEnd; arrays and documents
// share the same length-prefix-then-null-terminator framing.
func AppendArrayEnd(dst []byte, idx int32) ([]byte, error) {
	return AppendDocumentEnd(dst, idx)
}

// AppendInt32Element appends an int32-valued element.
func AppendInt32Element(dst []byte, key string, i int32) []byte {
	dst = AppendHeader(dst, TypeInt32, key)
	return appendi32(dst, i)
}

// AppendInt64Element appends an int64-valued element.
func AppendInt64Element(dst []byte, key string, i int64) []byte {
	dst = AppendHeader(dst, TypeInt64, key)
	return appendi64(dst, i)
}

// AppendBooleanElement appends a boolean-valued element.
func AppendBooleanElement(dst []byte, key string, b bool) []byte {
	dst = AppendHeader(dst, TypeBoolean, key)
	if b {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}

// AppendNullElement appends a null-valued element.
func AppendNullElement(dst []byte, key string) []byte {
	return AppendHeader(dst, TypeNull, key)
}

// AppendBinaryElement appends a binary-valued (subtype 0x00 generic unless
// otherwise specified) element.
func AppendBinaryElement(dst []byte, key string, subtype byte, data []byte) []byte {
	dst = AppendHeader(dst, TypeBinary, key)
	dst = appendi32(dst, int32(len(data)))
	dst = append(dst, subtype)
	return append(dst, data...)
}

// AppendObjectIDElement appends a 12-byte ObjectID-valued element.
func AppendObjectIDElement(dst []byte, key string, id [12]byte) []byte {
	dst = AppendHeader(dst, TypeObjectID, key)
	return append(dst, id[:]...)
}

// AppendTimestampElement appends a BSON Timestamp-valued element (t, i).
func AppendTimestampElement(dst []byte, key string, t, i uint32) []byte {
	dst = AppendHeader(dst, TypeTimestamp, key)
	dst = appendi32(dst, int32(i))
	return appendi32(dst, int32(t))
}

// BuildDocument wraps a slice of pre-appended elements into a complete
// Document.
func BuildDocument(dst []byte, elements []byte) []byte {
	idx, dst := AppendDocumentStart(dst)
	dst = append(dst, elements...)
	dst, _ = AppendDocumentEnd(dst, idx)
	return dst
}

// EmptyDocument returns the canonical 5-byte empty BSON document.
func EmptyDocument() Document {
	return Document{0x05, 0x00, 0x00, 0x00, 0x00}
}

// ReadElement reads a single element (type byte, key, value) from b,
// returning the element and the remaining bytes.
func ReadElement(b []byte) (Element, []byte, bool) {
	if len(b) < 2 {
		return nil, b, false
	}
	t := Type(b[0])
	keyEnd := bytes.IndexByte(b[1:], 0x00)
	if keyEnd < 0 {
		return nil, b, false
	}
	keyEnd++ // account for the type byte offset

	valStart := keyEnd + 1
	valLen, ok := valueLength(t, b[valStart:])
	if !ok {
		return nil, b, false
	}
	total := valStart + valLen
	if total > len(b) {
		return nil, b, false
	}
	return Element(b[:total]), b[total:], true
}

// valueLength returns the number of bytes the value of type t occupies at
// the head of b, not including the preceding type byte or key.
func valueLength(t Type, b []byte) (int, bool) {
	switch t {
	case TypeDouble, TypeInt64, TypeTimestamp, TypeDateTime:
		return 8, len(b) >= 8
	case TypeInt32:
		return 4, len(b) >= 4
	case TypeBoolean:
		return 1, len(b) >= 1
	case TypeNull:
		return 0, true
	case TypeObjectID:
		return 12, len(b) >= 12
	case TypeString:
		if len(b) < 4 {
			return 0, false
		}
		l := readi32(b)
		if l < 1 || int(4+l) > len(b) {
			return 0, false
		}
		return int(4 + l), true
	case TypeEmbeddedDocument, TypeArray:
		if len(b) < 4 {
			return 0, false
		}
		l := readi32(b)
		if l < 5 || int(l) > len(b) {
			return 0, false
		}
		return int(l), true
	case TypeBinary:
		if len(b) < 5 {
			return 0, false
		}
		l := readi32(b)
		if l < 0 || int(5+l) > len(b) {
			return 0, false
		}
		return int(5 + l), true
	default:
		return 0, false
	}
}

// Key returns the element's key.
func (e Element) Key() string {
	end := bytes.IndexByte(e[1:], 0x00)
	return string(e[1 : 1+end])
}

// Value returns the element's value.
func (e Element) Value() Value {
	keyEnd := bytes.IndexByte(e[1:], 0x00) + 1
	return Value{Type: Type(e[0]), Data: e[keyEnd+1:]}
}

// Validate confirms that d is a structurally well-formed BSON document:
// its self-declared length is at least 5, fits the available bytes, and
// every contained element parses and is itself valid.
func (d Document) Validate() error {
	length, rem, ok := ReadLength(d)
	if !ok {
		return NewInsufficientBytesError(d, rem)
	}
	if length < 5 {
		return fmt.Errorf("bsoncore: document length %d is below the minimum of 5", length)
	}
	if int(length) > len(d) {
		return lengthError("document", int(length), len(d))
	}
	body := d[4 : length-1]
	for len(body) > 0 {
		var elem Element
		elem, body, ok = ReadElement(body)
		if !ok {
			return NewInsufficientBytesError(d, body)
		}
		if err := elem.Value().Validate(); err != nil {
			return err
		}
	}
	if d[length-1] != 0x00 {
		return ErrMissingNull
	}
	return nil
}

// Validate recursively validates embedded documents and arrays; scalar
// values are assumed valid if they were successfully sliced out.
func (v Value) Validate() error {
	switch v.Type {
	case TypeEmbeddedDocument, TypeArray:
		return Document(v.Data).Validate()
	}
	return nil
}

// Elements returns the ordered list of top-level elements in d.
func (d Document) Elements() ([]Element, error) {
	length, rem, ok := ReadLength(d)
	if !ok {
		return nil, NewInsufficientBytesError(d, rem)
	}
	if int(length) > len(d) {
		return nil, lengthError("document", int(length), len(d))
	}
	body := d[4 : length-1]
	var elems []Element
	for len(body) > 0 {
		var elem Element
		elem, body, ok = ReadElement(body)
		if !ok {
			return nil, NewInsufficientBytesError(d, body)
		}
		elems = append(elems, elem)
	}
	return elems, nil
}

// Lookup returns the value for key, or a null-typed zero Value if the key
// is absent or the document is malformed.
func (d Document) Lookup(key string) Value {
	v, err := d.LookupErr(key)
	if err != nil {
		return Value{Type: TypeNull}
	}
	return v
}

// LookupErr returns the value for key, or an error if it is absent or the
// document cannot be parsed.
func (d Document) LookupErr(key string) (Value, error) {
	elems, err := d.Elements()
	if err != nil {
		return Value{}, err
	}
	for _, e := range elems {
		if e.Key() == key {
			return e.Value(), nil
		}
	}
	return Value{}, fmt.Errorf("bsoncore: key %q not found in document", key)
}

// String renders a best-effort, non-canonical debug representation.
func (d Document) String() string {
	elems, err := d.Elements()
	if err != nil {
		return "<malformed>"
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range elems {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%s", e.Key(), e.Value().debugString())
	}
	buf.WriteByte('}')
	return buf.String()
}

func (v Value) debugString() string {
	switch v.Type {
	case TypeString:
		s, _ := v.StringValueOK()
		return fmt.Sprintf("%q", s)
	case TypeInt32:
		i, _ := v.Int32OK()
		return fmt.Sprintf("%d", i)
	case TypeInt64:
		i, _ := v.Int64OK()
		return fmt.Sprintf("%d", i)
	case TypeBoolean:
		b, _ := v.BooleanOK()
		return fmt.Sprintf("%t", b)
	case TypeEmbeddedDocument:
		return Document(v.Data).String()
	case TypeArray:
		return Document(v.Data).String()
	case TypeNull:
		return "null"
	default:
		return fmt.Sprintf("<%d bytes>", len(v.Data))
	}
}

// StringValueOK returns the string value and true if v is a TypeString.
func (v Value) StringValueOK() (string, bool) {
	if v.Type != TypeString || len(v.Data) < 4 {
		return "", false
	}
	l := readi32(v.Data)
	if int(4+l) > len(v.Data) || l < 1 {
		return "", false
	}
	return string(v.Data[4 : 4+l-1]), true
}

// StringValue panics if v is not a string; use StringValueOK to avoid
// panicking.
func (v Value) StringValue() string {
	s, ok := v.StringValueOK()
	if !ok {
		panic("bsoncore: value is not a string")
	}
	return s
}

// Int32OK returns the int32 value and true if v is a TypeInt32.
func (v Value) Int32OK() (int32, bool) {
	if v.Type != TypeInt32 || len(v.Data) < 4 {
		return 0, false
	}
	return readi32(v.Data), true
}

// Int64OK returns the int64 value and true if v is a TypeInt64.
func (v Value) Int64OK() (int64, bool) {
	if v.Type != TypeInt64 || len(v.Data) < 8 {
		return 0, false
	}
	return readi64(v.Data), true
}

// AsInt64OK coerces any numeric BSON type (double, int32, int64) to int64.
func (v Value) AsInt64OK() (int64, bool) {
	switch v.Type {
	case TypeInt64:
		return v.Int64OK()
	case TypeInt32:
		i, ok := v.Int32OK()
		return int64(i), ok
	case TypeDouble:
		f, ok := v.DoubleOK()
		return int64(f), ok
	}
	return 0, false
}

// DoubleOK returns the float64 value and true if v is a TypeDouble.
func (v Value) DoubleOK() (float64, bool) {
	if v.Type != TypeDouble || len(v.Data) < 8 {
		return 0, false
	}
	return doubleFromBits(uint64(readi64(v.Data))), true
}

// BooleanOK returns the bool value and true if v is a TypeBoolean.
func (v Value) BooleanOK() (bool, bool) {
	if v.Type != TypeBoolean || len(v.Data) < 1 {
		return false, false
	}
	return v.Data[0] == 0x01, true
}

// DocumentOK returns the embedded document and true if v is a
// TypeEmbeddedDocument.
func (v Value) DocumentOK() (Document, bool) {
	if v.Type != TypeEmbeddedDocument {
		return nil, false
	}
	return Document(v.Data), true
}

// ArrayOK returns the embedded array (itself document-framed) and true if
// v is a TypeArray.
func (v Value) ArrayOK() (Document, bool) {
	if v.Type != TypeArray {
		return nil, false
	}
	return Document(v.Data), true
}

// Values returns the ordered values of an array-framed document, treating
// each element's key as its positional index.
func (d Document) Values() ([]Value, error) {
	elems, err := d.Elements()
	if err != nil {
		return nil, err
	}
	vals := make([]Value, 0, len(elems))
	for _, e := range elems {
		vals = append(vals, e.Value())
	}
	return vals, nil
}

// ObjectIDOK returns the 12-byte ObjectID and true if v is a TypeObjectID.
func (v Value) ObjectIDOK() ([12]byte, bool) {
	var id [12]byte
	if v.Type != TypeObjectID || len(v.Data) < 12 {
		return id, false
	}
	copy(id[:], v.Data[:12])
	return id, true
}
