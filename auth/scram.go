// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"crypto/md5"
	"fmt"
	"io"

	"github.com/xdg-go/scram"
	"github.com/xdg-go/stringprep"
)

// newScramClient builds the SCRAM client for mechanism. The server-side
// credential derivation differs between the two mechanisms: SCRAM-SHA-1
// hashes the legacy MONGODB-CR digest of the password, while SCRAM-SHA-256
// uses the SASLpreped password directly. Both paths hand the library an
// already-prepared password, so NewClientUnprepped is the right
// constructor.
func newScramClient(mechanism Mechanism, username, password string) (*scram.Client, error) {
	switch mechanism {
	case MechanismSCRAMSHA1:
		passdigest := mongoPasswordDigest(username, password)
		client, err := scram.SHA1.NewClientUnprepped(username, passdigest, "")
		if err != nil {
			return nil, fmt.Errorf("error initializing SCRAM-SHA-1 client: %w", err)
		}
		return client.WithMinIterations(4096), nil
	case MechanismSCRAMSHA256:
		passprep, err := stringprep.SASLprep.Prepare(password)
		if err != nil {
			return nil, fmt.Errorf("error SASLprepping password: %w", err)
		}
		client, err := scram.SHA256.NewClientUnprepped(username, passprep, "")
		if err != nil {
			return nil, fmt.Errorf("error initializing SCRAM-SHA-256 client: %w", err)
		}
		return client.WithMinIterations(4096), nil
	default:
		return nil, fmt.Errorf("unsupported mechanism %q", mechanism)
	}
}

// mongoPasswordDigest is the MONGODB-CR-era credential the server stores
// for SCRAM-SHA-1 users: hex(md5("<username>:mongo:<password>")).
func mongoPasswordDigest(username, password string) string {
	h := md5.New()
	io.WriteString(h, username)
	io.WriteString(h, ":mongo:")
	io.WriteString(h, password)
	return fmt.Sprintf("%x", h.Sum(nil))
}
