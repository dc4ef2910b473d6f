// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpclient "github.com/absmach/mllproxy/pkg/client/http"
	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/mllp"
	"github.com/absmach/mllproxy/pkg/pool"
)

const hl7 = "MSH|^~\\&|SENDER|FAC|RECV|FAC|20240101120000||ADT^A01|MSG0001|P|2.5\rPID|1||12345\r"

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	return ln
}

// mllpEcho starts an MLLP peer answering every message with itself.
func mllpEcho(t *testing.T) string {
	t.Helper()
	ln := listen(t)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				for msg, err := range mllp.NewReader(conn).All() {
					if err != nil || mllp.Write(conn, msg) != nil {
						return
					}
				}
			}()
		}
	}()

	return ln.Addr().String()
}

func serve(t *testing.T, b *Bridge) string {
	t.Helper()
	ln := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Bridge shutdown timeout")
		}
	})
	return ln.Addr().String()
}

func roundTrip(t *testing.T, addr string, msg []byte) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := mllp.Write(conn, msg); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	reply, err := mllp.NewReader(conn).ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return reply
}

func TestNew_InvalidConfig(t *testing.T) {
	tlsCfg := &tls.Config{}
	mllpCfg := pool.Config{Address: "localhost:2575", KeepAlive: -1, MaxMessages: -1}

	tests := []struct {
		name string
		fn   func() error
	}{
		{
			name: "http2mllp with TLS",
			fn: func() error {
				_, err := NewHTTP2MLLP(HTTPConfig{TLSConfig: tlsCfg, MLLP: mllpCfg}, nil)
				return err
			},
		},
		{
			name: "https2mllp without TLS",
			fn: func() error {
				_, err := NewHTTPS2MLLP(HTTPConfig{MLLP: mllpCfg}, nil)
				return err
			},
		},
		{
			name: "http2mllp with bad MLLP address",
			fn: func() error {
				_, err := NewHTTP2MLLP(HTTPConfig{MLLP: pool.Config{Address: "nowhere"}}, nil)
				return err
			},
		},
		{
			name: "mllp2https with http URL",
			fn: func() error {
				_, err := NewMLLP2HTTPS(MLLPConfig{HTTP: httpclient.Config{URL: "http://localhost:8000"}}, nil)
				return err
			},
		},
		{
			name: "mllp2http with relative URL",
			fn: func() error {
				_, err := NewMLLP2HTTP(MLLPConfig{HTTP: httpclient.Config{URL: "/hl7"}}, nil)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, gwerrors.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestBridges_HTTPChain(t *testing.T) {
	inbound, err := NewHTTP2MLLP(HTTPConfig{
		Host:      "127.0.0.1",
		Port:      "0",
		KeepAlive: time.Second,
		MLLP:      pool.Config{Address: mllpEcho(t), KeepAlive: time.Second, MaxMessages: -1},
	}, nil)
	if err != nil {
		t.Fatalf("NewHTTP2MLLP() error = %v", err)
	}
	if inbound.Direction() != HTTP2MLLP || inbound.Pool() == nil {
		t.Fatalf("Unexpected bridge %+v", inbound)
	}
	httpAddr := serve(t, inbound)

	outbound, err := NewMLLP2HTTP(MLLPConfig{
		Host:    "127.0.0.1",
		Port:    "0",
		Timeout: 5 * time.Second,
		HTTP:    httpclient.Config{URL: "http://" + httpAddr},
	}, nil)
	if err != nil {
		t.Fatalf("NewMLLP2HTTP() error = %v", err)
	}
	mllpAddr := serve(t, outbound)

	for i := 0; i < 3; i++ {
		if got := roundTrip(t, mllpAddr, []byte(hl7)); string(got) != hl7 {
			t.Errorf("Round trip %d = %q, want %q", i, got, hl7)
		}
	}

	if dials := inbound.Pool().Stats().Dials; dials != 1 {
		t.Errorf("Expected one pooled MLLP connection, got %d dials", dials)
	}
}

func TestBridges_HTTPSChain(t *testing.T) {
	// Borrow a certificate valid for 127.0.0.1.
	certSrv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer certSrv.Close()
	roots := x509.NewCertPool()
	roots.AddCert(certSrv.Certificate())

	inbound, err := NewHTTPS2MLLP(HTTPConfig{
		Host:      "127.0.0.1",
		Port:      "0",
		TLSConfig: &tls.Config{Certificates: certSrv.TLS.Certificates},
		KeepAlive: time.Second,
		MLLP:      pool.Config{Address: mllpEcho(t), KeepAlive: -1, MaxMessages: -1},
	}, nil)
	if err != nil {
		t.Fatalf("NewHTTPS2MLLP() error = %v", err)
	}
	httpsAddr := serve(t, inbound)

	outbound, err := NewMLLP2HTTPS(MLLPConfig{
		Host: "127.0.0.1",
		Port: "0",
		HTTP: httpclient.Config{
			URL:       "https://" + httpsAddr,
			TLSConfig: &tls.Config{RootCAs: roots},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewMLLP2HTTPS() error = %v", err)
	}
	mllpAddr := serve(t, outbound)

	if got := roundTrip(t, mllpAddr, []byte(hl7)); string(got) != hl7 {
		t.Errorf("Round trip = %q, want %q", got, hl7)
	}
}

func TestBridge_CloseReleasesPool(t *testing.T) {
	b, err := NewHTTP2MLLP(HTTPConfig{
		Port: "0",
		MLLP: pool.Config{Address: mllpEcho(t), KeepAlive: -1, MaxMessages: -1},
	}, nil)
	if err != nil {
		t.Fatalf("NewHTTP2MLLP() error = %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := b.Pool().Acquire(context.Background()); !errors.Is(err, pool.ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}
