package redis

import (
	"testing"
	"time"
)

func TestOptions(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "localhost:6379", DB: 2, PoolSize: 7, TLSEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 2 || opts.PoolSize != 7 {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.TLSConfig == nil {
		t.Fatal("tls not enabled")
	}
	if opts.DialTimeout != 5*time.Second {
		t.Fatalf("dial timeout = %s", opts.DialTimeout)
	}
}

func TestOptions_URL(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "rediss://user:pw@cache.internal:6380/3", DB: 9})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Addr != "cache.internal:6380" || opts.DB != 3 || opts.Password != "pw" {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.TLSConfig == nil {
		t.Fatal("rediss scheme should enable tls")
	}

	if _, err := options(ClientConfig{Addr: "redis://host:port:bad/x"}); err == nil {
		t.Fatal("expected parse error")
	}
}
