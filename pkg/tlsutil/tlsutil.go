// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tlsutil loads TLS material once at startup.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
)

// LoadServer returns a server tls.Config for the given key pair, or nil
// when neither file is set.
func LoadServer(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("%w: both certificate and key files are required", gwerrors.ErrInvalidConfig)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: load certificate: %w", gwerrors.ErrInvalidConfig, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClient returns a client tls.Config for a verify setting.
//
// verify is a boolean or the path of a PEM CA bundle. An empty value or
// "true" verifies against the system roots, "false" disables verification,
// and a path adds the bundle to the system roots.
func LoadClient(verify string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if verify == "" {
		return cfg, nil
	}

	if ok, err := strconv.ParseBool(verify); err == nil {
		cfg.InsecureSkipVerify = !ok
		return cfg, nil
	}

	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}

	pem, err := os.ReadFile(verify)
	if err != nil {
		return nil, fmt.Errorf("%w: read CA file %s: %w", gwerrors.ErrInvalidConfig, verify, err)
	}
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates in CA file %s", gwerrors.ErrInvalidConfig, verify)
	}
	cfg.RootCAs = roots

	return cfg, nil
}
