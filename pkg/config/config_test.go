package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("explicit missing file should fail")
	}

	// no file at all falls back to defaults
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.System != "default" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Remoting.GateTimeoutMS != 60_000 || cfg.Remoting.OutboundQueue != 256 {
		t.Fatalf("unexpected remoting defaults: %+v", cfg.Remoting)
	}
	if len(cfg.Transports) != 1 || cfg.Transports[0].Kind != "tcp" {
		t.Fatalf("unexpected transport defaults: %+v", cfg.Transports)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "akka.yaml")
	data := []byte(`
system: cluster-a
log:
  level: debug
  format: json
remoting:
  gate_timeout_ms: 15000
  untrusted_mode: true
transports:
  - kind: TCP
    listen: ["0.0.0.0:2552"]
  - kind: quic
    listen: ["0.0.0.0:2553"]
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.System != "cluster-a" || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Remoting.GateTimeoutMS != 15_000 || !cfg.Remoting.UntrustedMode {
		t.Fatalf("unexpected remoting config: %+v", cfg.Remoting)
	}
	if len(cfg.Transports) != 2 || cfg.Transports[0].Kind != "tcp" || cfg.Transports[1].Kind != "quic" {
		t.Fatalf("unexpected transports: %+v", cfg.Transports)
	}
	// unset fields keep their defaults
	if cfg.Remoting.OutboundQueue != 256 {
		t.Fatalf("default not preserved: %+v", cfg.Remoting)
	}
}

func TestValidateRejectsBadLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "akka.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("invalid log level must be rejected")
	}
}
