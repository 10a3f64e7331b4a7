// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package options defines the builders used to configure clients and
// operations. Each builder accumulates setter functions that are applied to
// a plain options struct when the consuming constructor runs, so unset
// fields stay distinguishable from explicitly zeroed ones.
package options

import (
	"time"

	"github.com/mongowire/driver/internal/logger"
)

// Credential holds the authentication settings for a client.
type Credential struct {
	// AuthMechanism is "SCRAM-SHA-1" or "SCRAM-SHA-256". Empty disables
	// authentication.
	AuthMechanism string
	// AuthSource is the database the credentials are defined on. Defaults
	// to "admin" when empty.
	AuthSource string
	Username   string
	Password   string
}

// TLSOptions holds the PEM material for a TLS-secured connection. The
// private key may be an encrypted PKCS#8 block, in which case
// PrivateKeyPassword must be set.
type TLSOptions struct {
	CertificatePEM     []byte
	PrivateKeyPEM      []byte
	PrivateKeyPassword string
	InsecureSkipVerify bool
}

// ClientOptions represents the resolved arguments used to open a client
// connection.
type ClientOptions struct {
	// ConnectTimeout bounds dialing (and TLS handshaking) a new socket.
	// The default value is 5 seconds.
	ConnectTimeout *time.Duration

	// ReplyTimeout bounds how long a single command waits for its reply.
	// The deadline restarts whenever another chunk of the reply arrives,
	// so it bounds idleness rather than total transfer time. The default
	// value is 5 seconds.
	ReplyTimeout *time.Duration

	// Auth configures the connect-time SCRAM handshake. Nil disables
	// authentication.
	Auth *Credential

	// TLS enables transport security. Nil means plaintext TCP.
	TLS *TLSOptions

	// Compressors is the wire-compressor preference list advertised to the
	// server, in order. Supported values are "snappy" and "zstd". The
	// default is no compression.
	Compressors []string

	// ReadPreference is the client-wide default routing hint, one of
	// "primary", "primaryPreferred", "secondary", "secondaryPreferred",
	// "nearest". The default value is "primary".
	ReadPreference *string

	// MaxOutstandingRequests bounds how many requests may be awaiting
	// replies on the connection at once. The default value is 128.
	MaxOutstandingRequests *int64

	// AppName is reported to the server in the handshake's
	// client.application.name field.
	AppName *string

	// Logger receives structured command and connection events. Nil
	// disables logging.
	Logger *logger.Logger
}

// ClientOptionsBuilder contains options to configure a client. Each option
// can be set through setter functions. See documentation for each setter
// function for an explanation of the option.
type ClientOptionsBuilder struct {
	Opts []func(*ClientOptions) error
}

// Client creates a new ClientOptionsBuilder instance.
func Client() *ClientOptionsBuilder {
	return &ClientOptionsBuilder{}
}

// OptionsSetters returns a list of ClientOptions setter functions.
func (c *ClientOptionsBuilder) OptionsSetters() []func(*ClientOptions) error {
	return c.Opts
}

// SetConnectTimeout sets the value for the ConnectTimeout field.
func (c *ClientOptionsBuilder) SetConnectTimeout(d time.Duration) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.ConnectTimeout = &d
		return nil
	})
	return c
}

// SetReplyTimeout sets the value for the ReplyTimeout field.
func (c *ClientOptionsBuilder) SetReplyTimeout(d time.Duration) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.ReplyTimeout = &d
		return nil
	})
	return c
}

// SetAuth sets the value for the Auth field.
func (c *ClientOptionsBuilder) SetAuth(auth Credential) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.Auth = &auth
		return nil
	})
	return c
}

// SetTLS sets the value for the TLS field.
func (c *ClientOptionsBuilder) SetTLS(tls TLSOptions) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.TLS = &tls
		return nil
	})
	return c
}

// SetCompressors sets the value for the Compressors field.
func (c *ClientOptionsBuilder) SetCompressors(comps []string) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.Compressors = comps
		return nil
	})
	return c
}

// SetReadPreference sets the value for the ReadPreference field.
func (c *ClientOptionsBuilder) SetReadPreference(mode string) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.ReadPreference = &mode
		return nil
	})
	return c
}

// SetMaxOutstandingRequests sets the value for the MaxOutstandingRequests
// field.
func (c *ClientOptionsBuilder) SetMaxOutstandingRequests(n int64) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.MaxOutstandingRequests = &n
		return nil
	})
	return c
}

// SetAppName sets the value for the AppName field.
func (c *ClientOptionsBuilder) SetAppName(name string) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.AppName = &name
		return nil
	})
	return c
}

// SetLogger sets the value for the Logger field.
func (c *ClientOptionsBuilder) SetLogger(l *logger.Logger) *ClientOptionsBuilder {
	c.Opts = append(c.Opts, func(opts *ClientOptions) error {
		opts.Logger = l
		return nil
	})
	return c
}
