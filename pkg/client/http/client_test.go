// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/handler"
)

var hctx = &handler.Context{
	SessionID:  "session",
	RemoteAddr: "10.0.0.5:40000",
	LocalAddr:  "10.0.0.1:2575",
	Protocol:   "mllp",
}

func TestNew_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8000", "ftp://example.com", "http://"} {
		if _, err := New(Config{URL: u}); !errors.Is(err, gwerrors.ErrInvalidConfig) {
			t.Errorf("New(%q): expected ErrInvalidConfig, got %v", u, err)
		}
	}
}

func TestClient_Forward(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte("MSA|AA|MSG0001"))
	}))
	defer srv.Close()

	c, err := New(Config{
		URL:           srv.URL + "/hl7",
		ContentType:   "application/hl7-v2; charset=utf-8",
		Authorization: "Bearer token",
		APIKey:        "secret-key",
		UserAgent:     "mllproxy/test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	reply, err := c.Forward(context.Background(), hctx, []byte("MSH|^~\\&|"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if string(reply) != "MSA|AA|MSG0001" {
		t.Errorf("Forward() = %q", reply)
	}
	if string(body) != "MSH|^~\\&|" {
		t.Errorf("Server received body %q", body)
	}

	if got.Method != http.MethodPost || got.URL.Path != "/hl7" {
		t.Errorf("Expected POST /hl7, got %s %s", got.Method, got.URL.Path)
	}

	headers := map[string]string{
		"Forwarded":         "by=10.0.0.1:2575;for=10.0.0.5:40000;proto=mllp",
		"X-Forwarded-For":   "10.0.0.5:40000",
		"X-Forwarded-Proto": "mllp",
		"User-Agent":        "mllproxy/test",
		"Authorization":     "Bearer token",
		"X-Api-Key":         "secret-key",
		"Content-Type":      "application/hl7-v2; charset=utf-8",
	}
	for name, want := range headers {
		if v := got.Header.Get(name); v != want {
			t.Errorf("Header %s = %q, want %q", name, v, want)
		}
	}
}

func TestClient_BasicAuthWins(t *testing.T) {
	var user, pass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, Username: "user", Password: "pass", Authorization: "Bearer ignored"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Forward(context.Background(), hctx, []byte("msg")); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if !ok || user != "user" || pass != "pass" {
		t.Errorf("Expected basic auth user:pass, got %q:%q (%v)", user, pass, ok)
	}
}

func TestClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := New(Config{URL: srv.URL})
	_, err := c.Forward(context.Background(), hctx, []byte("msg"))

	var ue *gwerrors.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if ue.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", ue.StatusCode)
	}
	if !errors.Is(err, gwerrors.ErrUpstreamHTTP) {
		t.Error("Expected ErrUpstreamHTTP")
	}
}

func TestClient_ConnectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := New(Config{URL: url})
	if _, err := c.Forward(context.Background(), hctx, []byte("msg")); !errors.Is(err, gwerrors.ErrConnect) {
		t.Errorf("Expected ErrConnect, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-done
	}))
	defer srv.Close()
	defer close(done)

	c, _ := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	if _, err := c.Forward(context.Background(), hctx, []byte("msg")); !errors.Is(err, gwerrors.ErrConnect) {
		t.Errorf("Expected ErrConnect on timeout, got %v", err)
	}
}

func TestClient_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ACK"))
	}))
	defer srv.Close()

	untrusted, _ := New(Config{URL: srv.URL})
	if _, err := untrusted.Forward(context.Background(), hctx, []byte("msg")); !errors.Is(err, gwerrors.ErrConnect) {
		t.Errorf("Expected certificate error, got %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	c, err := New(Config{URL: srv.URL, TLSConfig: &tls.Config{RootCAs: roots}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	reply, err := c.Forward(context.Background(), hctx, []byte("msg"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if string(reply) != "ACK" {
		t.Errorf("Forward() = %q", reply)
	}
}
