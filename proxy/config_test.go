// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadConfig_DefaultsAppliedToEmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.ExpireInFlightRequests {
		t.Error("ExpireInFlightRequests should default to true")
	}
	if cfg.Keys != "keys.jwk" {
		t.Errorf("Keys = %q, want keys.jwk", cfg.Keys)
	}
	if cfg.ListenAddress != ":7114" {
		t.Errorf("ListenAddress = %q, want :7114", cfg.ListenAddress)
	}
}

func TestLoadConfig_ExplicitFalseIsNotOverriddenByDefault(t *testing.T) {
	path := writeConfig(t, "expireInFlightRequests: false\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ExpireInFlightRequests {
		t.Error("an explicit false must not be overridden by the default")
	}
}

func TestLoadConfig_RoutesAndListenAddress(t *testing.T) {
	path := writeConfig(t, `
listenAddress: ":9000"
challengeDeltaClaimNamespace: "x-"
routes:
  - routeId: 1
    authorization: 0x0001000000000001
    dialAddress: "127.0.0.1:8080"
  - routeId: 2
    dialAddress: "127.0.0.1:8081"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Errorf("ListenAddress = %q, want :9000", cfg.ListenAddress)
	}
	if cfg.ChallengeDeltaClaimNamespace != "x-" {
		t.Errorf("ChallengeDeltaClaimNamespace = %q, want x-", cfg.ChallengeDeltaClaimNamespace)
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(cfg.Routes))
	}

	table := cfg.RouteTable()
	route, ok := table.Resolve(1, 0x0001_0000_0000_0001)
	if !ok {
		t.Fatal("route 1 should resolve for an authorization that carries its required bits")
	}
	if route.DialAddress != "127.0.0.1:8080" {
		t.Errorf("DialAddress = %q, want 127.0.0.1:8080", route.DialAddress)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig should fail for a missing file")
	}
}

func TestLoadConfig_MissingListenAddressRejected(t *testing.T) {
	path := writeConfig(t, "listenAddress: \"\"\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig should reject an empty listenAddress")
	}
}

func TestValidate_DuplicateRouteIDRejected(t *testing.T) {
	cfg := defaultConfig()
	cfg.Routes = []RouteConfig{
		{RouteID: 1, DialAddress: "a:1"},
		{RouteID: 1, DialAddress: "b:1"},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate routeId") {
		t.Errorf("Validate() = %v, want a duplicate routeId error", err)
	}
}

func TestValidate_RouteMissingDialAddressRejected(t *testing.T) {
	cfg := defaultConfig()
	cfg.Routes = []RouteConfig{{RouteID: 1}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "dialAddress") {
		t.Errorf("Validate() = %v, want a missing dialAddress error", err)
	}
}
