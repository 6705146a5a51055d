package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/ailink-gateway/ailink/internal/domain/router"
	"github.com/ailink-gateway/ailink/internal/domain/router/sseutil"
)

// readStream reads Gemini SSE events and emits canonical StreamChunks.
// Gemini streaming has no "event:" field and no "[DONE]" sentinel -- it is
// EOF-terminated. Each "data:" line contains a full JSON response chunk;
// usage is cumulative, so the last-seen value is emitted once at the end.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- router.StreamChunk, model string) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)

	var lastUsage *router.Usage
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}

		r := gjson.Parse(data)
		text := r.Get("candidates.0.content.parts.0.text").String()
		finishReason := mapStopReason(r.Get("candidates.0.finishReason").String())

		if u := r.Get("usageMetadata"); u.Exists() {
			lastUsage = &router.Usage{
				PromptTokens:     int(u.Get("promptTokenCount").Int()),
				CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
				TotalTokens:      int(u.Get("totalTokenCount").Int()),
			}
		}

		var delta map[string]any
		switch {
		case text != "":
			delta = map[string]any{"content": text}
		case finishReason != "":
			delta = map[string]any{}
		default:
			continue
		}

		chunk := buildDeltaChunk(model, delta, finishReason)
		select {
		case ch <- router.StreamChunk{Data: chunk}:
		case <-ctx.Done():
			ch <- router.StreamChunk{Err: ctx.Err()}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- router.StreamChunk{Err: fmt.Errorf("gemini: read stream: %w", err)}
		return
	}

	if lastUsage != nil {
		ch <- router.StreamChunk{Data: sseutil.BuildUsageChunk("gemini-"+model, model, lastUsage), Usage: lastUsage}
	}
	ch <- router.StreamChunk{Done: true}
}

// buildDeltaChunk builds an OpenAI-format streaming chunk JSON. Gemini's
// finish_reason can be empty mid-stream (unlike OpenAI, which always omits
// it until the last chunk), hence the local nil-vs-string handling instead
// of sseutil.BuildDeltaChunk's NilOrString helper.
func buildDeltaChunk(model string, delta map[string]any, finishReason string) []byte {
	var fr any
	if finishReason != "" {
		fr = finishReason
	}
	chunk := map[string]any{
		"id":     "gemini-" + model,
		"object": "chat.completion.chunk",
		"model":  model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": fr,
		}},
	}
	b, _ := json.Marshal(chunk)
	return b
}
