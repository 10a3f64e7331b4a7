// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import "github.com/mongowire/driver/bsoncore"

// CommandResult is the interpreted outcome of one command reply.
type CommandResult struct {
	// N is the reply's "n" field when present, e.g. the number of
	// documents an insert applied.
	N int64
	// Ignored is true when the server reported an error whose code matched
	// the caller's ignorable code and the result was converted into a
	// zero-count success.
	Ignored bool
}

// interpretReply examines a reply's type-0 document and either returns an
// interpreted result or a *WriteError. The precedence is: a top-level ok:0
// with code/errmsg, then writeErrors[0], then writeConcernError. A server
// error whose code equals ignorableCode becomes a zero-count success.
func interpretReply(doc bsoncore.Document, ignorableCode int32) (*CommandResult, error) {
	ok := false
	v := doc.Lookup("ok")
	if f, isDouble := v.DoubleOK(); isDouble && f == 1 {
		ok = true
	}
	if i, isInt32 := v.Int32OK(); isInt32 && i == 1 {
		ok = true
	}
	if i, isInt64 := v.Int64OK(); isInt64 && i == 1 {
		ok = true
	}

	if !ok {
		code, msg := topLevelError(doc)
		if code == 0 && msg == "" {
			code, msg = firstWriteError(doc)
		}
		return convertIgnorable(code, msg, ignorableCode)
	}

	// The server reports per-document failures with ok:1, so a successful
	// envelope still has to be checked for writeErrors/writeConcernError.
	if code, msg := firstWriteError(doc); code != 0 || msg != "" {
		return convertIgnorable(code, msg, ignorableCode)
	}

	res := &CommandResult{}
	if n, isOK := doc.Lookup("n").AsInt64OK(); isOK {
		res.N = n
	}
	return res, nil
}

func convertIgnorable(code int32, msg string, ignorableCode int32) (*CommandResult, error) {
	if ignorableCode != 0 && code == ignorableCode {
		return &CommandResult{N: 0, Ignored: true}, nil
	}
	return nil, &WriteError{Code: code, Message: msg}
}

func topLevelError(doc bsoncore.Document) (int32, string) {
	var code int32
	var msg string
	if c, ok := doc.Lookup("code").AsInt64OK(); ok {
		code = int32(c)
	}
	if m, ok := doc.Lookup("errmsg").StringValueOK(); ok {
		msg = m
	}
	return code, msg
}

// firstWriteError digs out writeErrors[0] or, failing that, the
// writeConcernError subdocument.
func firstWriteError(doc bsoncore.Document) (int32, string) {
	if arr, ok := doc.Lookup("writeErrors").ArrayOK(); ok {
		if vals, err := arr.Values(); err == nil && len(vals) > 0 {
			if we, ok := vals[0].DocumentOK(); ok {
				return subdocError(we)
			}
		}
	}
	if wce, ok := doc.Lookup("writeConcernError").DocumentOK(); ok {
		return subdocError(wce)
	}
	return 0, ""
}

func subdocError(doc bsoncore.Document) (int32, string) {
	var code int32
	var msg string
	if c, ok := doc.Lookup("code").AsInt64OK(); ok {
		code = int32(c)
	}
	if m, ok := doc.Lookup("errmsg").StringValueOK(); ok {
		msg = m
	}
	return code, msg
}
