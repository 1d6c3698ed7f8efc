package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReadsYAML(t *testing.T) {
	path := writeConfig(t, `
redisAddr: "localhost:6379"
logLevel: "debug"
userID: "u1"
dataDir: "/tmp/lingosync"
backoffSeconds: 3
collectionLimit: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.UserID != "u1" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Backoff() != 3*time.Second {
		t.Fatalf("unexpected backoff: %v", cfg.Backoff())
	}
	if cfg.CollectionLimit != 50 {
		t.Fatalf("unexpected limit: %d", cfg.CollectionLimit)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
redisAddr: "localhost:6379"
userID: "u1"
`)
	t.Setenv("LINGOSYNC_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("LINGOSYNC_USER_ID", "u2")
	t.Setenv("LINGOSYNC_LOG_LEVEL", "debug")
	t.Setenv("LINGOSYNC_BACKOFF_SECONDS", "7")
	t.Setenv("LINGOSYNC_COLLECTION_LIMIT", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Fatalf("env override not applied: %q", cfg.RedisAddr)
	}
	if cfg.UserID != "u2" {
		t.Fatalf("env override not applied: %q", cfg.UserID)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level override not applied: %q", cfg.LogLevel)
	}
	if cfg.Backoff() != 7*time.Second {
		t.Fatalf("backoff override not applied: %v", cfg.Backoff())
	}
	if cfg.CollectionLimit != 25 {
		t.Fatalf("collection limit override not applied: %d", cfg.CollectionLimit)
	}
}

func TestLoadRejectsMalformedEnvNumbers(t *testing.T) {
	path := writeConfig(t, `
redisAddr: "localhost:6379"
userID: "u1"
`)
	t.Setenv("LINGOSYNC_BACKOFF_SECONDS", "soon")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed backoff override must fail")
	}
}

func TestLoadValidates(t *testing.T) {
	if _, err := Load(writeConfig(t, `userID: "u1"`)); err == nil {
		t.Fatal("missing redisAddr must fail validation")
	}
	if _, err := Load(writeConfig(t, `redisAddr: "localhost:6379"`)); err == nil {
		t.Fatal("missing userID must fail validation")
	}
	if _, err := Load(writeConfig(t, "redisAddr: \"localhost:6379\"\nuserID: \"u1\"\nbackoffSeconds: -1\n")); err == nil {
		t.Fatal("negative backoff must fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
}
