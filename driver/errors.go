// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import "fmt"

// WriteError is raised for a reply's ok:0, a writeErrors[] entry, or a
// writeConcernError. Code is the numeric MongoDB error
// code; an ignorable code passed to an operation converts a matching
// WriteError into a zero-count success instead of propagating it.
type WriteError struct {
	Code    int32
	Message string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("driver: write error %d: %s", e.Code, e.Message)
}

// Server error codes call sites pass symbolically instead of as magic
// numbers. NamespaceNotFound is the usual ignorable code for drop.
const (
	AuthenticationFailed int32 = 18
	NamespaceNotFound    int32 = 26
	CursorNotFound       int32 = 43
)
