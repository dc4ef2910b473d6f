// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/absmach/mllproxy"
	"github.com/absmach/mllproxy/pkg/proxy"
)

func TestBridgePrefix(t *testing.T) {
	if got := bridgePrefix(proxy.HTTPS2MLLP); got != "MLLPROXY_HTTPS2MLLP_" {
		t.Errorf("bridgePrefix() = %q", got)
	}
}

func TestFlagNormalization(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"https2mllp"})
	if err != nil {
		t.Fatalf("Find() = %v", err)
	}

	if err := cmd.ParseFlags([]string{"--mllp_parser=false", "--mllp_keep_alive", "-1"}); err != nil {
		t.Fatalf("ParseFlags() = %v", err)
	}
	if got := cmd.Flags().Lookup("mllp-parser").Value.String(); got != "false" {
		t.Errorf("mllp-parser = %s, want false", got)
	}
	if got := cmd.Flags().Lookup("mllp-keep-alive").Value.String(); got != "-1" {
		t.Errorf("mllp-keep-alive = %s, want -1", got)
	}
}

func TestHTTPOnlyFlags(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"http2mllp"})
	if err != nil {
		t.Fatalf("Find() = %v", err)
	}
	for _, name := range []string{"certfile", "username", "mllp-parser"} {
		if cmd.Flags().Lookup(name) != nil {
			t.Errorf("http2mllp should not define --%s", name)
		}
	}
}

func TestConfiguredBridges(t *testing.T) {
	t.Setenv("MLLPROXY_HTTP2MLLP_PORT", "8000")
	t.Setenv("MLLPROXY_HTTP2MLLP_PEER", "ehr.local")
	t.Setenv("MLLPROXY_MLLP2HTTPS_PORT", "2576")
	t.Setenv("MLLPROXY_MLLP2HTTPS_PEER", "https://ehr.local/hl7")

	bridges, err := configuredBridges()
	if err != nil {
		t.Fatalf("configuredBridges() = %v", err)
	}
	if len(bridges) != 2 {
		t.Fatalf("Expected 2 bridges, got %d", len(bridges))
	}

	if bridges[0].direction != proxy.HTTP2MLLP || bridges[0].config.Port != "8000" {
		t.Errorf("bridges[0] = %s on %s", bridges[0].direction, bridges[0].config.Port)
	}
	if got := bridges[0].config.ContentType; got != mllproxy.DefaultHTTPContentType {
		t.Errorf("http2mllp content type = %q", got)
	}

	if bridges[1].direction != proxy.MLLP2HTTPS || bridges[1].config.Peer != "https://ehr.local/hl7" {
		t.Errorf("bridges[1] = %s to %s", bridges[1].direction, bridges[1].config.Peer)
	}
	if got := bridges[1].config.ContentType; got != mllproxy.DefaultHTTPSContentType {
		t.Errorf("mllp2https content type = %q", got)
	}
}

func TestConfiguredBridges_InvalidEnv(t *testing.T) {
	t.Setenv("MLLPROXY_HTTP2MLLP_PORT", "8000")
	t.Setenv("MLLPROXY_HTTP2MLLP_TIMEOUT", "soon")

	if _, err := configuredBridges(); err == nil {
		t.Fatal("Expected an error for a non-numeric timeout")
	}
}

func TestURLAddress(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"http://ehr.local/hl7", "ehr.local:80"},
		{"https://ehr.local/hl7", "ehr.local:443"},
		{"https://ehr.local:8443", "ehr.local:8443"},
		{"http://[::1]:9000/", "[::1]:9000"},
	}

	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			got, err := urlAddress(tc.url)
			if err != nil {
				t.Fatalf("urlAddress() = %v", err)
			}
			if got != tc.want {
				t.Errorf("urlAddress() = %q, want %q", got, tc.want)
			}
		})
	}
}
