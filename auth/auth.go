// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth conducts the connect-time SCRAM SASL authentication
// conversation: a saslStart/saslContinue command exchange driving a
// Start -> SentFirst -> SentFinal -> Acknowledged|Failed state machine.
// The SCRAM mechanics themselves are delegated to xdg-go/scram.
package auth

import (
	"context"
	"fmt"

	"github.com/mongowire/driver/bsoncore"
)

// Mechanism names a SASL authentication mechanism.
type Mechanism string

// Supported mechanisms. MechanismNone disables authentication entirely.
const (
	MechanismNone        Mechanism = ""
	MechanismSCRAMSHA1   Mechanism = "SCRAM-SHA-1"
	MechanismSCRAMSHA256 Mechanism = "SCRAM-SHA-256"
)

const defaultAuthDB = "admin"

// Executor sends a command document on a connection and returns the server's
// reply document, the way topology.Connection.Execute does. It is declared
// here, not in package topology, so topology can depend on auth without auth
// needing to import topology back.
type Executor interface {
	Execute(ctx context.Context, body bsoncore.Document) (bsoncore.Document, error)
}

// AuthenticationError wraps a failed authentication attempt, carrying the
// server-reported code/errmsg when available.
type AuthenticationError struct {
	Mechanism Mechanism
	Code      int32
	Message   string
	Wrapped   error
}

func (e *AuthenticationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("auth(%s): %v", e.Mechanism, e.Wrapped)
	}
	return fmt.Sprintf("auth(%s): server rejected credentials (code %d): %s", e.Mechanism, e.Code, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return e.Wrapped }

func newAuthError(mechanism Mechanism, err error) *AuthenticationError {
	return &AuthenticationError{Mechanism: mechanism, Wrapped: err}
}

// Authenticate runs a full SCRAM conversation over exec, authenticating
// username/password against authDatabase (defaulting to "admin"). It is a
// no-op for MechanismNone.
func Authenticate(ctx context.Context, exec Executor, mechanism Mechanism, authDatabase, username, password string) error {
	if mechanism == MechanismNone {
		return nil
	}
	if authDatabase == "" {
		authDatabase = defaultAuthDB
	}

	client, err := newScramClient(mechanism, username, password)
	if err != nil {
		return newAuthError(mechanism, err)
	}
	conv := client.NewConversation()

	// Start -> SentFirst below.
	first, err := conv.Step("")
	if err != nil {
		return newAuthError(mechanism, err)
	}

	elems := bsoncore.AppendInt32Element(nil, "saslStart", 1)
	elems = bsoncore.AppendStringElement(elems, "mechanism", string(mechanism))
	elems = bsoncore.AppendBinaryElement(elems, "payload", 0x00, []byte(first))
	elems = bsoncore.AppendStringElement(elems, "$db", authDatabase)
	reply, err := exec.Execute(ctx, bsoncore.BuildDocument(nil, elems))
	if err != nil {
		return newAuthError(mechanism, err)
	}

	// SentFinal -> Acknowledged|Failed below, looping on saslContinue until
	// both sides of the conversation report done.
	for {
		ok, code, errmsg := commandOK(reply)
		if !ok {
			return &AuthenticationError{Mechanism: mechanism, Code: code, Message: errmsg}
		}

		done, _ := reply.Lookup("done").BooleanOK()
		payload, _ := payloadOf(reply)

		if !conv.Done() {
			next, err := conv.Step(string(payload))
			if err != nil {
				return newAuthError(mechanism, err)
			}
			payload = []byte(next)
		}

		if done && conv.Done() {
			return nil
		}

		convID, _ := reply.Lookup("conversationId").AsInt64OK()

		contElems := bsoncore.AppendInt32Element(nil, "saslContinue", 1)
		contElems = bsoncore.AppendInt64Element(contElems, "conversationId", convID)
		contElems = bsoncore.AppendBinaryElement(contElems, "payload", 0x00, payload)
		contElems = bsoncore.AppendStringElement(contElems, "$db", authDatabase)
		reply, err = exec.Execute(ctx, bsoncore.BuildDocument(nil, contElems))
		if err != nil {
			return newAuthError(mechanism, err)
		}
	}
}

func commandOK(doc bsoncore.Document) (ok bool, code int32, errmsg string) {
	v := doc.Lookup("ok")
	if f, isOK := v.DoubleOK(); isOK && f == 1 {
		ok = true
	}
	if i, isOK := v.Int32OK(); isOK && i == 1 {
		ok = true
	}
	if !ok {
		if c, isOK := doc.Lookup("code").Int32OK(); isOK {
			code = c
		}
		if m, isOK := doc.Lookup("errmsg").StringValueOK(); isOK {
			errmsg = m
		}
	}
	return ok, code, errmsg
}

func payloadOf(doc bsoncore.Document) ([]byte, error) {
	v, err := doc.LookupErr("payload")
	if err != nil {
		return nil, err
	}
	if len(v.Data) < 5 {
		return nil, fmt.Errorf("auth: malformed payload element")
	}
	return v.Data[5:], nil
}
