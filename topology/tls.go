// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"
)

// buildTLSConfig turns the configured PEM certificate, PEM private key,
// and optional key password into a *tls.Config. A password-protected
// private key is decrypted via
// youmark/pkcs8, since the standard library's x509.DecryptPEMBlock only
// understands the legacy, OpenSSL-specific PEM encryption headers that
// modern tooling no longer emits for PKCS#8 keys.
func buildTLSConfig(p *tlsParams) (*tls.Config, error) {
	if p == nil {
		return &tls.Config{}, nil
	}

	cfg := &tls.Config{InsecureSkipVerify: p.insecureSkipVerify}

	if len(p.certPEM) == 0 || len(p.keyPEM) == 0 {
		return cfg, nil
	}

	if p.keyPassword == "" {
		cert, err := tls.X509KeyPair(p.certPEM, p.keyPEM)
		if err != nil {
			return nil, fmt.Errorf("topology: parsing TLS client certificate/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
		return cfg, nil
	}

	cert, err := certificateWithEncryptedKey(p.certPEM, p.keyPEM, p.keyPassword)
	if err != nil {
		return nil, err
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

func certificateWithEncryptedKey(certPEM, keyPEM []byte, password string) (tls.Certificate, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return tls.Certificate{}, fmt.Errorf("topology: no PEM certificate block found")
	}
	if _, err := x509.ParseCertificate(certBlock.Bytes); err != nil {
		return tls.Certificate{}, fmt.Errorf("topology: invalid TLS certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return tls.Certificate{}, fmt.Errorf("topology: no PEM private key block found")
	}

	key, err := pkcs8.ParsePKCS8PrivateKey(keyBlock.Bytes, []byte(password))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("topology: decrypting PKCS#8 private key: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certBlock.Bytes},
		PrivateKey:  key,
	}, nil
}

// sniHost strips a trailing ":port" from addr to derive the ServerName
// used for SNI.
func sniHost(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
