package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// ErrNoFlusher is returned by Pipe when the ResponseWriter does not
// implement http.Flusher, which would make incremental SSE delivery
// impossible (the gateway would buffer the entire response instead of
// streaming it chunk by chunk).
var ErrNoFlusher = errors.New("stream: response writer does not support flushing")

// DefaultKeepAliveInterval matches gandalf's streaming loop: no SSE
// comment keep-alive is sent before the first data chunk (fast-completing
// streams skip it entirely), then one every 15s while the stream is open.
const DefaultKeepAliveInterval = 15 * time.Second

// Bridge pipes a provider's already-translated StreamChunk channel to an
// HTTP client as SSE. It is a straight pass-through: it holds at most one
// chunk in flight and never accumulates the stream, and it aborts promptly
// when the client disconnects since the for-select below observes
// ctx.Done() alongside every channel receive.
type Bridge struct {
	KeepAliveInterval time.Duration
	Logger            *slog.Logger
}

// NewBridge creates a Bridge with gandalf's default keep-alive cadence.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{KeepAliveInterval: DefaultKeepAliveInterval, Logger: logger}
}

// Pipe writes SSE headers, then drains ch until it closes, a terminal
// chunk.Done/chunk.Err arrives, or ctx is canceled (client disconnect).
// It returns the final usage reported by the stream, for the caller to
// hand to the cost accountant, and a non-nil error only for conditions
// the caller must log/audit as failures (a mid-stream upstream error is
// reported this way; a clean [DONE] is not an error).
func (b *Bridge) Pipe(ctx context.Context, w http.ResponseWriter, ch <-chan router.StreamChunk) (*router.Usage, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}

	WriteHeaders(w)
	flusher.Flush()

	interval := b.KeepAliveInterval
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}

	var usage *router.Usage
	var keepAlive *time.Ticker
	defer func() {
		if keepAlive != nil {
			keepAlive.Stop()
		}
	}()

	for {
		if keepAlive == nil {
			select {
			case chunk, chOpen := <-ch:
				var done bool
				var streamErr error
				usage, done, streamErr = b.processChunk(w, flusher, chunk, chOpen, usage)
				if done {
					return usage, streamErr
				}
				keepAlive = time.NewTicker(interval)
			case <-ctx.Done():
				b.Logger.Debug("stream bridge: client disconnected before first chunk")
				return usage, ctx.Err()
			}
			continue
		}

		select {
		case chunk, chOpen := <-ch:
			var done bool
			var streamErr error
			usage, done, streamErr = b.processChunk(w, flusher, chunk, chOpen, usage)
			if done {
				return usage, streamErr
			}
		case <-keepAlive.C:
			WriteKeepAlive(w)
			flusher.Flush()
		case <-ctx.Done():
			b.Logger.Debug("stream bridge: client disconnected mid-stream")
			return usage, ctx.Err()
		}
	}
}

// processChunk handles one channel receive. It returns the updated usage,
// whether the stream has reached a terminal state, and an error to
// propagate to the caller for that terminal state (nil for a clean end).
func (b *Bridge) processChunk(w http.ResponseWriter, flusher http.Flusher, chunk router.StreamChunk, chOpen bool, usage *router.Usage) (*router.Usage, bool, error) {
	if !chOpen {
		WriteDone(w)
		flusher.Flush()
		return usage, true, nil
	}
	if chunk.Err != nil {
		b.Logger.Error("stream bridge: upstream stream error", "error", chunk.Err)
		WriteError(w, "upstream stream error")
		WriteDone(w)
		flusher.Flush()
		return usage, true, chunk.Err
	}
	if chunk.Usage != nil {
		usage = chunk.Usage
	}
	if chunk.Done {
		WriteDone(w)
		flusher.Flush()
		return usage, true, nil
	}
	WriteData(w, chunk.Data)
	flusher.Flush()
	return usage, false, nil
}
