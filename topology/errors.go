// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import "fmt"

// ConnectionError is raised for socket failures, connect timeouts, reply
// timeouts with no response, and framing-recovery discards. The engine
// does not retry the originating operation.
type ConnectionError struct {
	Addr    string
	Wrapped error
	message string
}

func (e ConnectionError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("connection(%s): %s: %v", e.Addr, e.message, e.Wrapped)
	}
	return fmt.Sprintf("connection(%s): %s", e.Addr, e.message)
}

// Unwrap exposes the underlying network or registry error for errors.Is/As.
func (e ConnectionError) Unwrap() error { return e.Wrapped }

func newConnectionError(addr, message string, wrapped error) ConnectionError {
	return ConnectionError{Addr: addr, message: message, Wrapped: wrapped}
}

// State is a Connection's position in the Disconnected -> Connecting ->
// Connected state machine.
type State int

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "unknown"
	}
}
