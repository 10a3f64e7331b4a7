// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "github.com/mongowire/driver/bsoncore"

// ComponentMessage is a single structured log event. Serialize returns an
// alternating key/value slice, the shape go-logr/logr-style sinks expect.
type ComponentMessage interface {
	Component() Component
	Message() string
	Serialize() []interface{}
}

// CommandMessageDropped is substituted for whatever message couldn't fit in
// the printer's job buffer, so a burst of traffic loses visibility into the
// drop rather than blocking the caller.
type CommandMessageDropped struct{}

func (CommandMessageDropped) Component() Component     { return ComponentCommand }
func (CommandMessageDropped) Message() string          { return "Command message dropped, buffer full" }
func (CommandMessageDropped) Serialize() []interface{} { return nil }

// CommandStartedMessage logs a command about to be sent.
type CommandStartedMessage struct {
	RequestID int32
	Name      string
	Command   bsoncore.Document
}

func (m *CommandStartedMessage) Component() Component { return ComponentCommand }
func (m *CommandStartedMessage) Message() string      { return "Command started" }
func (m *CommandStartedMessage) Serialize() []interface{} {
	return []interface{}{"requestID", m.RequestID, "commandName", m.Name, "command", m.Command}
}

// CommandSucceededMessage logs a command's reply arriving with ok:1.
type CommandSucceededMessage struct {
	RequestID  int32
	Name       string
	DurationMS int64
	Reply      bsoncore.Document
}

func (m *CommandSucceededMessage) Component() Component { return ComponentCommand }
func (m *CommandSucceededMessage) Message() string      { return "Command succeeded" }
func (m *CommandSucceededMessage) Serialize() []interface{} {
	return []interface{}{"requestID", m.RequestID, "commandName", m.Name, "durationMS", m.DurationMS, "reply", m.Reply}
}

// CommandFailedMessage logs a command that errored, either at the transport
// level or via a server-reported ok:0/writeError.
type CommandFailedMessage struct {
	RequestID  int32
	Name       string
	DurationMS int64
	Failure    string
}

func (m *CommandFailedMessage) Component() Component { return ComponentCommand }
func (m *CommandFailedMessage) Message() string      { return "Command failed" }
func (m *CommandFailedMessage) Serialize() []interface{} {
	return []interface{}{"requestID", m.RequestID, "commandName", m.Name, "durationMS", m.DurationMS, "failure", m.Failure}
}

// ConnectionMessage logs a connection lifecycle event: connected, closed.
type ConnectionMessage struct {
	Addr  string
	Event string
}

func (m *ConnectionMessage) Component() Component { return ComponentConnection }
func (m *ConnectionMessage) Message() string      { return m.Event }
func (m *ConnectionMessage) Serialize() []interface{} {
	return []interface{}{"address", m.Addr}
}
