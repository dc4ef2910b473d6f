// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tlsutil

import (
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
)

func writeCA(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("Failed to write CA file: %v", err)
	}
	return path
}

func TestLoadClient(t *testing.T) {
	tests := []struct {
		verify   string
		insecure bool
	}{
		{verify: "", insecure: false},
		{verify: "true", insecure: false},
		{verify: "false", insecure: true},
		{verify: "0", insecure: true},
	}

	for _, tt := range tests {
		cfg, err := LoadClient(tt.verify)
		if err != nil {
			t.Fatalf("LoadClient(%q) error = %v", tt.verify, err)
		}
		if cfg.InsecureSkipVerify != tt.insecure {
			t.Errorf("LoadClient(%q) InsecureSkipVerify = %v, want %v", tt.verify, cfg.InsecureSkipVerify, tt.insecure)
		}
	}
}

func TestLoadClient_CAFile(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg, err := LoadClient(writeCA(t, srv))
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.InsecureSkipVerify {
		t.Error("CA bundle must not disable verification")
	}

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Request verified with CA bundle failed: %v", err)
	}
	resp.Body.Close()
}

func TestLoadClient_BadCAFile(t *testing.T) {
	if _, err := LoadClient(filepath.Join(t.TempDir(), "missing.pem")); !errors.Is(err, gwerrors.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for missing file, got %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	os.WriteFile(garbage, []byte("not a certificate"), 0o600)
	if _, err := LoadClient(garbage); !errors.Is(err, gwerrors.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for invalid PEM, got %v", err)
	}
}

func TestLoadServer(t *testing.T) {
	cfg, err := LoadServer("", "")
	if err != nil || cfg != nil {
		t.Errorf("Expected nil config without files, got %v, %v", cfg, err)
	}

	if _, err := LoadServer("cert.pem", ""); !errors.Is(err, gwerrors.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig with missing key, got %v", err)
	}

	dir := t.TempDir()
	if _, err := LoadServer(filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem")); !errors.Is(err, gwerrors.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for unreadable files, got %v", err)
	}
}
