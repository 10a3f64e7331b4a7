// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"time"

	"github.com/mongowire/driver/auth"
	"github.com/mongowire/driver/internal/logger"
	"github.com/mongowire/driver/wire"
)

const authNone = auth.Mechanism("")

// config holds the resolved, immutable-after-Dial settings for a
// Connection.
type config struct {
	connectionTimeout time.Duration
	replyTimeout      time.Duration

	secure        bool
	tls           *tlsParams
	compressorIDs []wire.CompressorID

	authMechanism auth.Mechanism
	authDatabase  string
	username      string
	password      string

	maxOutstandingRequests int64
	appName                string

	logger *logger.Logger
}

type tlsParams struct {
	certPEM    []byte
	keyPEM     []byte
	keyPassword string
	insecureSkipVerify bool
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		connectionTimeout:      5 * time.Second,
		replyTimeout:           5 * time.Second,
		maxOutstandingRequests: 128,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures a Connection. Constructed via the With* functions
// below, following the functional-options idiom the driver family uses
// throughout its options subpackages.
type Option func(*config)

// WithConnectionTimeout bounds how long Dial waits for the TCP connection
// (and, if configured, TLS handshake) to complete. Default 5s.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *config) { c.connectionTimeout = d }
}

// WithReplyTimeout bounds how long a single request waits for its reply.
// The deadline restarts whenever another chunk of the reply arrives, so it
// bounds idleness rather than total transfer time. Default 5s.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *config) { c.replyTimeout = d }
}

// WithTLS enables TLS and supplies the client certificate/key material.
// keyPassword may be empty for an unencrypted private key.
func WithTLS(certPEM, keyPEM []byte, keyPassword string) Option {
	return func(c *config) {
		c.secure = true
		c.tls = &tlsParams{certPEM: certPEM, keyPEM: keyPEM, keyPassword: keyPassword}
	}
}

// WithInsecureSkipVerify disables server certificate verification. Intended
// for tests against servers with self-signed certificates.
func WithInsecureSkipVerify() Option {
	return func(c *config) {
		if c.tls == nil {
			c.tls = &tlsParams{}
		}
		c.tls.insecureSkipVerify = true
		c.secure = true
	}
}

// WithCompressors sets the compressor preference list advertised in the
// hello handshake, in order of preference. Accepted names: "snappy", "zstd".
// Unrecognized names are ignored.
func WithCompressors(names ...string) Option {
	return func(c *config) {
		for _, name := range names {
			if id, ok := wire.CompressorByName(name); ok {
				c.compressorIDs = append(c.compressorIDs, id)
			}
		}
	}
}

// WithMaxOutstandingRequests bounds the number of concurrently in-flight
// requests admitted onto this connection. Default 128.
func WithMaxOutstandingRequests(n int64) Option {
	return func(c *config) { c.maxOutstandingRequests = n }
}

// WithAppName sets the client application name reported during the hello
// handshake.
func WithAppName(name string) Option {
	return func(c *config) { c.appName = name }
}

// WithAuth configures SCRAM credentials for the connect-time
// authentication handshake. mechanism must be one of
// auth.MechanismNone, auth.MechanismSCRAMSHA1, or auth.MechanismSCRAMSHA256.
func WithAuth(mechanism auth.Mechanism, authDatabase, username, password string) Option {
	return func(c *config) {
		c.authMechanism = mechanism
		c.authDatabase = authDatabase
		c.username = username
		c.password = password
	}
}

// WithLogger attaches a component logger for connection and command
// events. If unset, logging is a no-op.
func WithLogger(l *logger.Logger) Option {
	return func(c *config) { c.logger = l }
}
