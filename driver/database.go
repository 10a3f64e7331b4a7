// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"

	"github.com/mongowire/driver/bsoncore"
)

// Database is a handle on one database. It carries its own read preference
// override; the zero override inherits the client's.
type Database struct {
	client   *Client
	name     string
	readPref ReadPreference
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// WithReadPreference returns a copy of the handle whose commands use mode
// instead of the inherited preference.
func (db *Database) WithReadPreference(mode ReadPreference) *Database {
	out := *db
	out.readPref = mode
	return &out
}

// Collection returns a handle on the named collection within db.
func (db *Database) Collection(name string) *Collection {
	return &Collection{db: db, name: name, readPref: ReadPreferenceInherit}
}

// RunCommand sends an arbitrary command document against this database. The
// command's elements pass through untouched; only $db (and $readPreference
// when non-primary) are appended. The reply's type-0 document is returned
// after its envelope has been checked for server errors.
func (db *Database) RunCommand(ctx context.Context, cmd bsoncore.Document) (bsoncore.Document, error) {
	elems, err := commandElements(cmd)
	if err != nil {
		return nil, err
	}
	name := commandName(cmd)
	reply, _, err := db.client.runCommand(ctx, db.name, name, elems, nil, ReadPreferenceInherit, db.readPref, 0)
	return reply, err
}

// Drop removes the entire database. A server that has never heard of it
// reports NamespaceNotFound, which is treated as success.
func (db *Database) Drop(ctx context.Context) error {
	elems := bsoncore.AppendInt32Element(nil, "dropDatabase", 1)
	_, _, err := db.client.runCommand(ctx, db.name, "dropDatabase", elems, nil, ReadPreferenceInherit, db.readPref, NamespaceNotFound)
	return err
}

// commandElements strips the outer document framing from cmd so its
// elements can be extended with $db before re-framing.
func commandElements(cmd bsoncore.Document) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return append([]byte(nil), cmd[4:len(cmd)-1]...), nil
}

// commandName is the key of a command document's first element, used only
// for logging.
func commandName(cmd bsoncore.Document) string {
	elems, err := cmd.Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}
