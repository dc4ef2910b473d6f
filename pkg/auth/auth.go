// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the optional HTTP Basic guard in front of the
// HTTP listeners.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
)

// DefaultRealm is used in challenges when no realm is configured.
const DefaultRealm = "mllproxy"

var (
	// ErrMissingCredentials is returned when the request carries no Authorization header.
	ErrMissingCredentials = fmt.Errorf("%w: authentication is required", gwerrors.ErrUnauthorized)
	// ErrWrongCredentials is returned when the Authorization header does not match.
	ErrWrongCredentials = fmt.Errorf("%w: wrong credentials", gwerrors.ErrUnauthorized)
)

// Guard checks the Authorization header of inbound requests.
type Guard struct {
	expected []byte
	realm    string
}

// NewBasic returns a Guard accepting exactly the given credentials.
func NewBasic(username, password, realm string) *Guard {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return newGuard("Basic "+token, realm)
}

// NewStatic returns a Guard accepting a precomputed header value. A bare
// token is treated as Basic credentials.
func NewStatic(header, realm string) *Guard {
	if !strings.Contains(header, " ") {
		header = "Basic " + header
	}
	return newGuard(header, realm)
}

func newGuard(expected, realm string) *Guard {
	if realm == "" {
		realm = DefaultRealm
	}
	return &Guard{expected: []byte(expected), realm: realm}
}

// Check validates an Authorization header value.
func (g *Guard) Check(header string) error {
	if header == "" {
		return ErrMissingCredentials
	}
	if subtle.ConstantTimeCompare([]byte(header), g.expected) != 1 {
		return ErrWrongCredentials
	}
	return nil
}

// Challenge returns the WWW-Authenticate header value.
func (g *Guard) Challenge() string {
	return fmt.Sprintf("Basic realm=%q", g.realm)
}
