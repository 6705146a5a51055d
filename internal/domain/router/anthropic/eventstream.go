package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/tidwall/gjson"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// readBedrockStream reads AWS binary event stream frames from a Bedrock
// invoke-with-response-stream response body and emits canonical
// StreamChunks. Each frame's payload contains {"bytes":"<base64>"} where the
// decoded bytes are the same Anthropic event JSON the direct SSE API sends,
// so frames are fed through the same streamState machine as readStream.
// Grounded on eugener/gandalf/internal/provider/anthropic/eventstream.go,
// the only example in the pack that exercises this AWS SDK package.
func readBedrockStream(ctx context.Context, body io.ReadCloser, ch chan<- router.StreamChunk) {
	defer close(ch)
	defer body.Close()

	var state streamState
	decoder := eventstream.NewDecoder()

	for {
		msg, err := decoder.Decode(body, nil)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			ch <- router.StreamChunk{Err: fmt.Errorf("anthropic: decode bedrock event stream: %w", err)}
			return
		}

		msgType := headerValue(msg.Headers, ":message-type")
		if msgType == "exception" {
			errType := headerValue(msg.Headers, ":exception-type")
			if len(errType) > 64 {
				errType = errType[:64]
			}
			payload := msg.Payload
			if len(payload) > 512 {
				payload = payload[:512]
			}
			ch <- router.StreamChunk{Err: fmt.Errorf("anthropic: bedrock exception %s: %s", errType, payload)}
			return
		}
		if msgType != "event" {
			continue
		}

		decoded, err := extractEventBytes(msg.Payload)
		if err != nil {
			ch <- router.StreamChunk{Err: fmt.Errorf("anthropic: extract bedrock event bytes: %w", err)}
			return
		}

		eventType := gjson.GetBytes(decoded, "type").String()
		if eventType == "" {
			continue
		}

		for _, c := range state.handleEvent(eventType, string(decoded)) {
			select {
			case ch <- c:
			case <-ctx.Done():
				ch <- router.StreamChunk{Err: ctx.Err()}
				return
			}
		}
	}
}

func headerValue(headers eventstream.Headers, name string) string {
	v := headers.Get(name)
	if v == nil {
		return ""
	}
	if sv, ok := v.(eventstream.StringValue); ok {
		return string(sv)
	}
	return ""
}

// extractEventBytes extracts and base64-decodes the "bytes" field from a
// Bedrock event stream payload: {"bytes":"<base64>"}.
func extractEventBytes(payload []byte) ([]byte, error) {
	b64 := gjson.GetBytes(payload, "bytes").String()
	if b64 == "" {
		return nil, fmt.Errorf("missing bytes field in bedrock payload")
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return decoded, nil
}
