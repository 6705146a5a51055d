package anthropic

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/ailink-gateway/ailink/internal/domain/router"
	"github.com/ailink-gateway/ailink/internal/domain/router/sseutil"
)

// streamState tracks running totals across an Anthropic SSE event sequence
// so the final message_stop event can emit a combined finish+usage chunk.
type streamState struct {
	id           string
	model        string
	inputTokens  int
	outputTokens int
	stopReason   string
}

// readStream reads Anthropic SSE events and emits canonical StreamChunks.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- router.StreamChunk) {
	defer close(ch)
	defer body.Close()

	var state streamState
	scanner := sseutil.NewScanner(body)

	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()
		event, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		if data == "" {
			continue
		}

		for _, c := range state.handleEvent(currentEvent, data) {
			select {
			case ch <- c:
			case <-ctx.Done():
				ch <- router.StreamChunk{Err: ctx.Err()}
				return
			}
		}
		currentEvent = ""
	}
	if err := scanner.Err(); err != nil {
		ch <- router.StreamChunk{Err: fmt.Errorf("anthropic: read stream: %w", err)}
	}
}

func (s *streamState) handleEvent(event, data string) []router.StreamChunk {
	switch event {
	case "message_start":
		return s.onMessageStart(data)
	case "content_block_delta":
		return s.onContentBlockDelta(data)
	case "message_delta":
		return s.onMessageDelta(data)
	case "message_stop":
		return s.onMessageStop()
	default:
		return nil
	}
}

func (s *streamState) onMessageStart(data string) []router.StreamChunk {
	r := gjson.Parse(data)
	s.id = r.Get("message.id").String()
	s.model = r.Get("message.model").String()
	s.inputTokens = int(r.Get("message.usage.input_tokens").Int())

	chunk := sseutil.BuildDeltaChunk(s.id, s.model, map[string]any{"role": "assistant"}, "")
	return []router.StreamChunk{{Data: chunk}}
}

func (s *streamState) onContentBlockDelta(data string) []router.StreamChunk {
	r := gjson.Parse(data)
	switch r.Get("delta.type").String() {
	case "text_delta":
		chunk := sseutil.BuildDeltaChunk(s.id, s.model, map[string]any{"content": r.Get("delta.text").String()}, "")
		return []router.StreamChunk{{Data: chunk}}
	case "input_json_delta":
		idx := int(r.Get("index").Int())
		chunk := sseutil.BuildToolCallDeltaChunk(s.id, s.model, idx, r.Get("delta.partial_json").String())
		return []router.StreamChunk{{Data: chunk}}
	}
	return nil
}

func (s *streamState) onMessageDelta(data string) []router.StreamChunk {
	r := gjson.Parse(data)
	s.outputTokens = int(r.Get("usage.output_tokens").Int())
	s.stopReason = r.Get("delta.stop_reason").String()
	return nil
}

func (s *streamState) onMessageStop() []router.StreamChunk {
	finishReason := mapStopReason(s.stopReason)
	finishChunk := sseutil.BuildFinishChunk(s.id, s.model, finishReason)

	usage := &router.Usage{
		PromptTokens:     s.inputTokens,
		CompletionTokens: s.outputTokens,
		TotalTokens:      s.inputTokens + s.outputTokens,
	}
	usageChunk := sseutil.BuildUsageChunk(s.id, s.model, usage)

	return []router.StreamChunk{
		{Data: finishChunk},
		{Data: usageChunk, Usage: usage},
		{Done: true},
	}
}
