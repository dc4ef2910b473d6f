// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/absmach/mllproxy/pkg/auth"
	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
	"github.com/absmach/mllproxy/pkg/mllp"
	"github.com/absmach/mllproxy/pkg/pool"
)

const hl7 = "MSH|^~\\&|SENDER|FAC|RECV|FAC|20240101120000||ADT^A01|MSG0001|P|2.5\r"

type mockForwarder struct {
	calls int
	last  []byte
	hctx  *handler.Context
	reply []byte
	err   error
}

func (m *mockForwarder) Forward(ctx context.Context, hctx *handler.Context, msg []byte) ([]byte, error) {
	m.calls++
	m.last = msg
	m.hctx = hctx
	if m.err != nil {
		return nil, m.err
	}
	if m.reply != nil {
		return m.reply, nil
	}
	return msg, nil
}

type mockHandler struct {
	handler.NoopHandler
	connectErr       error
	messageErr       error
	messages         int
	disconnectCalled bool
}

func (m *mockHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	return m.connectErr
}

func (m *mockHandler) AuthMessage(ctx context.Context, hctx *handler.Context, payload *[]byte) error {
	return m.messageErr
}

func (m *mockHandler) OnMessage(ctx context.Context, hctx *handler.Context, request, reply []byte) error {
	m.messages++
	return nil
}

func (m *mockHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	m.disconnectCalled = true
	return nil
}

func post(s http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTP_Success(t *testing.T) {
	fwd := &mockForwarder{reply: []byte("MSA|AA|MSG0001")}
	h := &mockHandler{}
	s := New(Config{
		ContentType: "application/hl7-v2+er7; charset=utf-8",
		KeepAlive:   10 * time.Second,
	}, fwd, h)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	rec := post(s, hl7, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rec.Code)
	}
	if rec.Body.String() != "MSA|AA|MSG0001" {
		t.Errorf("Body = %q", rec.Body.String())
	}
	if string(fwd.last) != hl7 {
		t.Errorf("Forwarded %q, want %q", fwd.last, hl7)
	}

	headers := map[string]string{
		"Content-Length": "14",
		"Content-Type":   "application/hl7-v2+er7; charset=utf-8",
		"Keep-Alive":     "timeout=10",
		"Date":           "Tue, 02 Jan 2024 03:04:05 GMT",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("Header %s = %q, want %q", name, got, want)
		}
	}

	if fwd.hctx == nil || fwd.hctx.SessionID == "" || fwd.hctx.Protocol != "http" {
		t.Errorf("Unexpected handler context %+v", fwd.hctx)
	}
	if h.messages != 1 || !h.disconnectCalled {
		t.Errorf("Expected OnMessage and OnDisconnect, got %d, %v", h.messages, h.disconnectCalled)
	}
}

func TestServeHTTP_Framed(t *testing.T) {
	fwd := &mockForwarder{reply: []byte("ACK")}
	s := New(Config{Framed: true, SuccessStatus: http.StatusOK, KeepAlive: -1}, fwd, nil)

	rec := post(s, hl7, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), mllp.Encode([]byte("ACK"))) {
		t.Errorf("Expected framed reply, got %q", rec.Body.Bytes())
	}
	if rec.Header().Get("Keep-Alive") != "" || rec.Header().Get("Connection") != "" {
		t.Error("Negative keep-alive must not send connection headers")
	}
}

func TestServeHTTP_KeepAliveZero(t *testing.T) {
	s := New(Config{KeepAlive: 0}, &mockForwarder{}, nil)

	rec := post(s, "msg", nil)

	if got := rec.Header().Get("Connection"); got != "close" {
		t.Errorf("Expected Connection: close, got %q", got)
	}
	if rec.Header().Get("Keep-Alive") != "" {
		t.Error("Unexpected Keep-Alive header")
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	fwd := &mockForwarder{}
	s := New(Config{}, fwd, nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(method, "/", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, rec.Code)
		}
	}
	if fwd.calls != 0 {
		t.Errorf("Forwarder must not be called, got %d calls", fwd.calls)
	}
}

func TestServeHTTP_Auth(t *testing.T) {
	guard := auth.NewBasic("admin", "s3cret", "HL7")

	basic := func(user, pass string) http.Header {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.SetBasicAuth(user, pass)
		return r.Header
	}

	tests := []struct {
		name      string
		header    http.Header
		status    int
		body      string
		challenge bool
	}{
		{name: "No credentials", header: nil, status: http.StatusUnauthorized, body: msgAuthRequired, challenge: true},
		{name: "Wrong credentials", header: basic("admin", "wrong"), status: http.StatusUnauthorized, body: msgAuthFailed, challenge: true},
		{name: "Right credentials", header: basic("admin", "s3cret"), status: http.StatusCreated, body: "msg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := &mockForwarder{}
			s := New(Config{Guard: guard}, fwd, nil)

			rec := post(s, "msg", tt.header)

			if rec.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, rec.Code)
			}
			if rec.Body.String() != tt.body {
				t.Errorf("Body = %q, want %q", rec.Body.String(), tt.body)
			}
			if got := rec.Header().Get("WWW-Authenticate"); tt.challenge && got != `Basic realm="HL7"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			if strings.Contains(rec.Body.String(), "wrong") {
				t.Error("Credentials must not be echoed")
			}
			wantCalls := 1
			if tt.challenge {
				wantCalls = 0
			}
			if fwd.calls != wantCalls {
				t.Errorf("Expected %d forwards, got %d", wantCalls, fwd.calls)
			}
		})
	}
}

func TestServeHTTP_HandlerRejects(t *testing.T) {
	tests := []struct {
		name   string
		h      *mockHandler
		status int
	}{
		{name: "Connect rejected", h: &mockHandler{connectErr: errors.New("denied")}, status: http.StatusUnauthorized},
		{name: "Message rejected", h: &mockHandler{messageErr: errors.New("denied")}, status: http.StatusForbidden},
		{name: "Rate limited", h: &mockHandler{connectErr: gwerrors.ErrRateLimited}, status: http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := &mockForwarder{}
			rec := post(New(Config{}, fwd, tt.h), "msg", nil)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rec.Code)
			}
			if fwd.calls != 0 {
				t.Error("Rejected request must not be forwarded")
			}
		})
	}
}

func TestServeHTTP_ConnectError(t *testing.T) {
	fwd := &mockForwarder{err: fmt.Errorf("%w: dial: refused", gwerrors.ErrConnect)}
	rec := post(New(Config{}, fwd, nil), "msg", nil)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rec.Code)
	}
}

func TestServeHTTP_TransportErrorAborts(t *testing.T) {
	fwd := &mockForwarder{err: fmt.Errorf("%w: %w", gwerrors.ErrTransport, io.ErrUnexpectedEOF)}
	h := &mockHandler{}
	s := New(Config{}, fwd, h)

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("Expected http.ErrAbortHandler panic, got %v", r)
		}
		if !h.disconnectCalled {
			t.Error("Expected OnDisconnect on aborted request")
		}
	}()
	post(s, "msg", nil)
}

// mllpEcho starts an MLLP peer echoing every message.
func mllpEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
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

func TestServer_EndToEnd(t *testing.T) {
	p, err := pool.New(pool.Config{Address: mllpEcho(t), KeepAlive: time.Second, MaxMessages: -1})
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	defer p.Close()

	tests := []struct {
		name   string
		cfg    Config
		status int
	}{
		{name: "HTTP", cfg: Config{KeepAlive: time.Second}, status: http.StatusCreated},
		{name: "Custom success status", cfg: Config{KeepAlive: time.Second, SuccessStatus: http.StatusOK}, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(New(tt.cfg, p, nil))
			defer srv.Close()

			for i := 0; i < 3; i++ {
				body := fmt.Sprintf("%s%d", hl7, i)
				resp, err := http.Post(srv.URL, "text/plain", strings.NewReader(body))
				if err != nil {
					t.Fatalf("POST error = %v", err)
				}
				got, _ := io.ReadAll(resp.Body)
				resp.Body.Close()

				if resp.StatusCode != tt.status {
					t.Errorf("Expected status %d, got %d", tt.status, resp.StatusCode)
				}
				if string(got) != body {
					t.Errorf("Body = %q, want %q", got, body)
				}
			}
		})
	}

	if dials := p.Stats().Dials; dials != 1 {
		t.Errorf("Expected the pool to reuse one connection, got %d dials", dials)
	}
}

func TestServer_AbortedExchange(t *testing.T) {
	// MLLP peer that hangs up without replying.
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mllp.NewReader(conn).ReadMessage()
			conn.Close()
		}
	}()

	p, err := pool.New(pool.Config{Address: ln.Addr().String(), KeepAlive: -1, MaxMessages: -1})
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	defer p.Close()

	srv := httptest.NewServer(New(Config{}, p, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "text/plain", strings.NewReader("msg"))
	if err == nil {
		resp.Body.Close()
		t.Fatalf("Expected aborted connection, got status %d", resp.StatusCode)
	}
}

func TestServer_Serve(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	s := New(Config{ShutdownTimeout: time.Second}, forwarder.Func(
		func(ctx context.Context, hctx *handler.Context, msg []byte) ([]byte, error) {
			return []byte("ACK"), nil
		}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(ctx, ln)
	}()

	resp, err := http.Post("http://"+ln.Addr().String(), "text/plain", strings.NewReader("msg"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ACK" {
		t.Errorf("Body = %q", body)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}
}
