package command

import (
	"testing"

	"github.com/cosmez/redispool-go/internal/resp"
)

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry()

	doc := reg.Get("GET")
	if doc == nil {
		t.Fatal("GET should exist in registry")
	}
	if doc.Command != "GET" {
		t.Errorf("Expected command GET, got %s", doc.Command)
	}

	if reg.Get("get") == nil {
		t.Fatal("get (lowercase) should resolve to GET")
	}
	if reg.Get("NONEXISTENT_CMD_XYZ") != nil {
		t.Error("Unknown command should return nil")
	}
}

func TestRegistryGetCommands(t *testing.T) {
	reg := NewRegistry()
	got := reg.GetCommands("bl")
	if len(got) != 2 || got[0] != "BLPOP" || got[1] != "BRPOP" {
		t.Errorf("GetCommands(bl) = %v", got)
	}
}

func TestMergeServerCommands(t *testing.T) {
	reg := NewRegistry()

	entry := func(name string, arity, first, last, step int64) resp.RedisValue {
		return resp.RedisArray{Values: []resp.RedisValue{
			resp.RedisBulkString{Value: name},
			resp.RedisInteger{IntValue: arity},
			resp.RedisArray{},
			resp.RedisInteger{IntValue: first},
			resp.RedisInteger{IntValue: last},
			resp.RedisInteger{IntValue: step},
		}}
	}
	reply := resp.RedisArray{Values: []resp.RedisValue{
		entry("get", 2, 1, 1, 1),
		entry("incrby", 3, 1, 1, 1),
		entry("config|set", -4, 0, 0, 0),
		resp.RedisString{Value: "garbage"},
	}}

	if added := reg.MergeServerCommands(reply); added != 2 {
		t.Fatalf("expected 2 new commands, got %d", added)
	}

	if doc := reg.Get("GET"); doc.Summary == "" {
		t.Error("built-in GET docs should be preserved")
	}
	incr := reg.Get("INCRBY")
	if incr == nil || incr.Arguments != "arg1 arg2" {
		t.Fatalf("unexpected INCRBY doc: %+v", incr)
	}
	env, err := ParseLine("INCRBY counter 5", reg)
	if err != nil {
		t.Fatal(err)
	}
	if len(env.Keys()) != 1 || env.Keys()[0].Name() != "counter" {
		t.Errorf("expected counter as key, got %v", env.Keys())
	}
	cfg := reg.Get("CONFIG SET")
	if cfg == nil || cfg.Arguments != "arg1 arg2 arg3 [arg ...]" {
		t.Errorf("unexpected CONFIG SET doc: %+v", cfg)
	}
}
