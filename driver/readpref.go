// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"fmt"

	"github.com/mongowire/driver/bsoncore"
)

// ReadPreference is a routing hint attached to a command. The zero value,
// ReadPreferenceInherit, never reaches the wire: it means
// "resolve from an enclosing scope" (collection -> database -> client).
type ReadPreference string

// Read preference modes.
const (
	ReadPreferenceInherit            ReadPreference = ""
	ReadPreferencePrimary            ReadPreference = "primary"
	ReadPreferencePrimaryPreferred   ReadPreference = "primaryPreferred"
	ReadPreferenceSecondary          ReadPreference = "secondary"
	ReadPreferenceSecondaryPreferred ReadPreference = "secondaryPreferred"
	ReadPreferenceNearest            ReadPreference = "nearest"
)

// parseReadPreference maps a mode string onto a ReadPreference, rejecting
// anything outside the five wire modes.
func parseReadPreference(mode string) (ReadPreference, error) {
	switch p := ReadPreference(mode); p {
	case ReadPreferencePrimary, ReadPreferencePrimaryPreferred,
		ReadPreferenceSecondary, ReadPreferenceSecondaryPreferred,
		ReadPreferenceNearest:
		return p, nil
	default:
		return ReadPreferenceInherit, fmt.Errorf("driver: unknown read preference mode %q", mode)
	}
}

// resolve returns the first non-inherit preference in the chain
// collection, database, client, defaulting to ReadPreferencePrimary.
func resolve(collection, database, client ReadPreference) ReadPreference {
	for _, p := range []ReadPreference{collection, database, client} {
		if p != ReadPreferenceInherit {
			return p
		}
	}
	return ReadPreferencePrimary
}

// appendReadPreference adds a $readPreference subdocument to elems unless
// the effective preference is the (wire-default) primary.
func appendReadPreference(elems []byte, collection, database, client ReadPreference) []byte {
	mode := resolve(collection, database, client)
	if mode == ReadPreferencePrimary {
		return elems
	}
	rpIdx, rp := bsoncore.AppendDocumentStart(nil)
	rp = bsoncore.AppendStringElement(rp, "mode", string(mode))
	rp, _ = bsoncore.AppendDocumentEnd(rp, rpIdx)
	return bsoncore.AppendDocumentElement(elems, "$readPreference", rp)
}
