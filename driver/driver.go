// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver is the command and cursor facade: it composes BSON command
// documents, sends them through a connection, interprets the reply
// envelope, and manages cursor paging (getMore) and disposal (killCursors).
package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mongowire/driver/bsoncore"
	"github.com/mongowire/driver/topology"
	"github.com/mongowire/driver/wire"
)

// Connection is the transport this facade drives. *topology.Connection
// implements it; tests substitute scripted fakes.
type Connection interface {
	Connect(ctx context.Context) error
	SendAndAwait(ctx context.Context, body bsoncore.Document, sections1 []wire.Section1) (wire.Message, error)
	SendFireAndForget(ctx context.Context, body bsoncore.Document, sections1 []wire.Section1) error
	Description() topology.Description
	Close() error
}

// Namespace encapsulates a database and collection name, which together
// uniquely identify a collection on a server.
type Namespace struct {
	DB         string
	Collection string
}

// ParseNamespace splits a "db.collection" string at the first dot, so
// collection names containing dots survive the round trip.
func ParseNamespace(fullName string) (Namespace, error) {
	idx := strings.Index(fullName, ".")
	if idx <= 0 || idx == len(fullName)-1 {
		return Namespace{}, fmt.Errorf("driver: invalid namespace %q", fullName)
	}
	return Namespace{DB: fullName[:idx], Collection: fullName[idx+1:]}, nil
}

// String returns the "db.collection" form.
func (ns Namespace) String() string {
	return ns.DB + "." + ns.Collection
}
