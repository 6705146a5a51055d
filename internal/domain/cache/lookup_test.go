package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

func TestResponseCache_MissThenHit(t *testing.T) {
	t.Parallel()
	mem, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	rc := NewResponseCache(mem)
	ctx := context.Background()

	req := &router.ChatRequest{Model: "gpt-4o", Temperature: ptr(0.0)}
	body := []byte(`{"model":"gpt-4o","temperature":0}`)

	_, key, ok := rc.Lookup(ctx, "tok1", "POST", "/v1/chat/completions", req, body, nil)
	if ok {
		t.Fatal("expected miss before any write")
	}
	if key == "" {
		t.Fatal("expected a key to be returned even on miss")
	}

	rc.Store(ctx, key, Entry{StatusCode: 200, Body: []byte(`{"ok":true}`), Model: "gpt-4o"}, time.Minute)
	time.Sleep(50 * time.Millisecond)

	entry, key2, ok := rc.Lookup(ctx, "tok1", "POST", "/v1/chat/completions", req, body, nil)
	if !ok {
		t.Fatal("expected hit after store")
	}
	if key2 != key {
		t.Errorf("key should be stable across lookups: %s != %s", key2, key)
	}
	if string(entry.Body) != `{"ok":true}` {
		t.Errorf("body = %q", entry.Body)
	}
}

func TestResponseCache_StreamingNeverKeys(t *testing.T) {
	t.Parallel()
	mem, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	rc := NewResponseCache(mem)
	ctx := context.Background()

	req := &router.ChatRequest{Model: "gpt-4o", Temperature: ptr(0.0), Stream: true}
	_, key, ok := rc.Lookup(ctx, "tok1", "POST", "/v1/chat/completions", req, nil, nil)
	if ok || key != "" {
		t.Error("streaming requests must never key or hit")
	}
}

func TestResponseCache_NoCacheHeaderBypasses(t *testing.T) {
	t.Parallel()
	mem, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	rc := NewResponseCache(mem)
	ctx := context.Background()

	req := &router.ChatRequest{Model: "gpt-4o", Temperature: ptr(0.0)}
	headers := map[string]string{HeaderNoCache: "1"}
	_, _, ok := rc.Lookup(ctx, "tok1", "POST", "/v1/chat/completions", req, []byte(`{}`), headers)
	if ok {
		t.Error("no-cache header must bypass the cache")
	}
}

func TestResponseCache_ErrorStatusNotStored(t *testing.T) {
	t.Parallel()
	mem, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	rc := NewResponseCache(mem)
	ctx := context.Background()

	rc.Store(ctx, "somekey", Entry{StatusCode: 500, Body: []byte("boom")}, time.Minute)
	if _, ok := mem.Get(ctx, "somekey"); ok {
		t.Error("5xx responses must not be cached")
	}
}
