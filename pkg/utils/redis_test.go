package utils

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}

func TestOpenRedis_PingsOnOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()

	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()
}

func TestOpenRedis_FailsWhenUnreachable(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatalf("expected ping failure")
	}
}
