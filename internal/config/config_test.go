package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Cluster.VirtualNodes != 128 {
		t.Fatalf("expected default virtual nodes 128, got %d", cfg.Cluster.VirtualNodes)
	}
	if cfg.Cluster.MinReplicationAcks != 0 {
		t.Fatalf("expected default min_replication_acks 0, got %d", cfg.Cluster.MinReplicationAcks)
	}
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"cluster":{"shard_count":4}}`), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Cluster.ShardCount != 4 {
		t.Fatalf("expected shard_count 4 from file, got %d", cfg.Cluster.ShardCount)
	}
	if cfg.Cluster.VirtualNodes != 128 {
		t.Fatalf("expected unset fields to keep defaults, got virtual_nodes=%d", cfg.Cluster.VirtualNodes)
	}
}

func TestLoadFromYAMLOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "cluster:\n  min_replication_acks: 2\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromYAML(path)
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}
	if cfg.Cluster.MinReplicationAcks != 2 {
		t.Fatalf("expected min_replication_acks 2 from yaml, got %d", cfg.Cluster.MinReplicationAcks)
	}
}

func TestLoadFromEnvOverridesFields(t *testing.T) {
	t.Setenv("HELIANTHUS_SHARD_COUNT", "8")
	t.Setenv("HELIANTHUS_HEARTBEAT_FLAP_PROB", "0.25")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Cluster.ShardCount != 8 {
		t.Fatalf("expected shard_count 8 from env, got %d", cfg.Cluster.ShardCount)
	}
	if cfg.Cluster.HeartbeatFlapProbability != 0.25 {
		t.Fatalf("expected flap prob 0.25 from env, got %v", cfg.Cluster.HeartbeatFlapProbability)
	}
}
