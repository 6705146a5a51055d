package stream

import (
	"testing"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

func TestEnsureUsageIncluded_SetsOnStreamingRequest(t *testing.T) {
	t.Parallel()
	req := &router.ChatRequest{Stream: true}
	if changed := EnsureUsageIncluded(req); !changed {
		t.Fatal("expected a change")
	}
	if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
		t.Fatalf("StreamOptions = %+v, want IncludeUsage=true", req.StreamOptions)
	}
}

func TestEnsureUsageIncluded_NoOpOnNonStreaming(t *testing.T) {
	t.Parallel()
	req := &router.ChatRequest{Stream: false}
	if changed := EnsureUsageIncluded(req); changed {
		t.Fatal("non-streaming request must not be modified")
	}
	if req.StreamOptions != nil {
		t.Error("StreamOptions should remain nil")
	}
}

func TestEnsureUsageIncluded_IdempotentWhenAlreadySet(t *testing.T) {
	t.Parallel()
	req := &router.ChatRequest{Stream: true, StreamOptions: &router.StreamOptions{IncludeUsage: true}}
	if changed := EnsureUsageIncluded(req); changed {
		t.Error("should report no change when already set")
	}
}
