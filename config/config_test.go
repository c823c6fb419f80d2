package config

import (
	"testing"
	"time"
)

func TestParseAndDottedLookup(t *testing.T) {
	cfg, err := Parse([]byte(`
app:
  name: demo
server:
  timeout: 30s
  trusted_proxies:
    - 10.0.0.0/8
    - 127.0.0.1
cache:
  default: array
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetString("app.name"); got != "demo" {
		t.Errorf("app.name = %q", got)
	}
	if got := cfg.GetDuration("server.timeout"); got != 30*time.Second {
		t.Errorf("server.timeout = %v", got)
	}
	if got := cfg.GetStringSlice("server.trusted_proxies"); len(got) != 2 || got[0] != "10.0.0.0/8" {
		t.Errorf("trusted_proxies = %v", got)
	}
	if !cfg.Has("cache.default") || cfg.Has("cache.missing") {
		t.Error("Has misreports keys")
	}
}

func TestGetDefault(t *testing.T) {
	cfg := New()
	if got := cfg.GetDefault("router.collapse_slashes", true); got != true {
		t.Errorf("default = %v", got)
	}
	cfg.Set("router.collapse_slashes", false)
	if got := cfg.GetDefault("router.collapse_slashes", true); got != false {
		t.Errorf("explicit value ignored: %v", got)
	}
}

func TestSetCreatesNestedMaps(t *testing.T) {
	cfg := New()
	cfg.Set("cache.stores.redis.addr", "127.0.0.1:6379")
	if got := cfg.GetString("cache.stores.redis.addr"); got != "127.0.0.1:6379" {
		t.Errorf("addr = %q", got)
	}
	if m := cfg.GetStringMap("cache.stores.redis"); m["addr"] != "127.0.0.1:6379" {
		t.Errorf("stores.redis = %v", m)
	}
}

func TestLoadEnvOverlay(t *testing.T) {
	cfg, err := Parse([]byte("cache:\n  default: array\n"))
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROUTED_CACHE_DEFAULT", "redis")
	t.Setenv("ROUTED_SECURITY_HSTS__MAX__AGE", "3600")
	t.Setenv("UNRELATED_KEY", "ignored")

	cfg.LoadEnv("ROUTED")

	if got := cfg.GetString("cache.default"); got != "redis" {
		t.Errorf("cache.default = %q", got)
	}
	if got := cfg.GetString("security.hsts_max_age"); got != "3600" {
		t.Errorf("hsts_max_age = %q", got)
	}
	if cfg.Has("unrelated.key") {
		t.Error("unprefixed variable leaked in")
	}
}

func TestReplaceSwapsSnapshot(t *testing.T) {
	cfg, _ := Parse([]byte("app:\n  name: before\n"))
	next, _ := Parse([]byte("app:\n  name: after\n"))

	cfg.Replace(next.All())

	if got := cfg.GetString("app.name"); got != "after" {
		t.Errorf("app.name = %q", got)
	}
}
