package config

import (
	"errors"
	"testing"

	"github.com/openfinance/datacenter/internal/errs"
)

const sampleYAML = `
version: "1.0"
sources:
  eastmoney:
    enabled: true
    base_url: https://push2.eastmoney.com
    timeout: 10
    retry_count: 3
    rate_limit: 5
    headers:
      Referer: https://quote.eastmoney.com
  tushare:
    enabled: true
    base_url: https://api.tushare.pro
    api_key: ${TUSHARE_TOKEN}
collection:
  batch_size: 200
  max_concurrent: 8
storage:
  database_url: postgres://$DB_USER@localhost:5432/openfinance
cache:
  enabled: true
  backend: memory
  ttl: 120
`

func TestParse(t *testing.T) {
	t.Setenv("TUSHARE_TOKEN", "tok-123")
	t.Setenv("DB_USER", "datacenter")

	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cfg.Sources["tushare"].APIKey != "${TUSHARE_TOKEN}" {
		t.Errorf("api_key must keep its raw reference for call-time resolution, got %q", cfg.Sources["tushare"].APIKey)
	}
	if cfg.Storage.DatabaseURL != "postgres://datacenter@localhost:5432/openfinance" {
		t.Errorf("bare $NAME reference should resolve, got %q", cfg.Storage.DatabaseURL)
	}
	if cfg.Collection.BatchSize != 200 {
		t.Errorf("explicit batch_size should win, got %d", cfg.Collection.BatchSize)
	}
	if cfg.Storage.PoolSize != 10 {
		t.Errorf("pool_size should default to 10, got %d", cfg.Storage.PoolSize)
	}
}

func TestParseKeepsAPIKeyReferenceAcrossRotation(t *testing.T) {
	t.Setenv("ROTATING_KEY", "first")
	cfg, err := Parse([]byte("sources:\n  paid:\n    enabled: true\n    base_url: https://api.example.com\n    api_key: ${ROTATING_KEY}\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ref := cfg.Sources["paid"].APIKey
	if ref != "${ROTATING_KEY}" {
		t.Fatalf("api_key reference consumed at load time, got %q", ref)
	}
	t.Setenv("ROTATING_KEY", "second")
	if got := ExpandEnv(ref); got != "second" {
		t.Errorf("rotated key should resolve at call time, got %q", got)
	}
}

func TestParseUnresolvedEnvBecomesEmpty(t *testing.T) {
	cfg, err := Parse([]byte("version: \"1\"\nstorage:\n  database_url: ${NO_SUCH_VAR_SET}\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Storage.DatabaseURL != "" {
		t.Errorf("unresolved reference should be empty, got %q", cfg.Storage.DatabaseURL)
	}
}

func TestParseRejectsEnabledSourceWithoutURL(t *testing.T) {
	_, err := Parse([]byte("sources:\n  broken:\n    enabled: true\n"))
	if err == nil {
		t.Fatal("enabled source without base_url should fail validation")
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Category != errs.CategoryConfiguration {
		t.Errorf("config failures should carry the configuration category, got %v", err)
	}
	if errs.IsRecoverable(err) {
		t.Error("configuration errors must be non-recoverable")
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("sources: [unclosed")); err == nil {
		t.Fatal("malformed yaml should fail")
	}
}

func TestCacheDefaults(t *testing.T) {
	cfg, err := Parse([]byte("version: \"1\"\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("cache backend should default to memory, got %s", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL().Seconds() != 300 {
		t.Errorf("cache TTL should default to 300s, got %v", cfg.Cache.TTL())
	}
}
