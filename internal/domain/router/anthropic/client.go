package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	anthropicVersion = "2023-06-01"
	bedrockVersion   = "bedrock-2023-05-31"
)

// Client is an Anthropic provider adapter implementing router.Provider. As
// with the OpenAI adapter, auth lives in httpClient's transport chain (a
// credential.Injector), never in a field here.
type Client struct {
	baseURL string
	http    *http.Client
	bedrock bool // hosting="bedrock": binary event-stream framing, invoke URL shape
}

// New creates an Anthropic Client for direct API access.
func New(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// NewBedrock creates an Anthropic Client targeting a Bedrock invoke
// endpoint, where streaming responses arrive framed as AWS binary event
// stream messages instead of SSE.
func NewBedrock(baseURL string, httpClient *http.Client) *Client {
	c := New(baseURL, httpClient)
	c.bedrock = true
	return c
}

func (c *Client) Name() string { return providerName }

// ChatCompletion sends a non-streaming chat completion request.
func (c *Client) ChatCompletion(ctx context.Context, req *router.ChatRequest) (*router.ChatResponse, error) {
	aReq, err := translateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: translate request: %w", err)
	}
	aReq.Stream = false

	body, err := c.marshalForHosting(aReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, router.ParseAPIError(providerName, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	return translateResponse(respBody)
}

// ChatCompletionStream sends a streaming chat completion request. Direct API
// responses are read as SSE; Bedrock responses are read as AWS binary event
// stream frames (see eventstream.go).
func (c *Client) ChatCompletionStream(ctx context.Context, req *router.ChatRequest) (<-chan router.StreamChunk, error) {
	aReq, err := translateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: translate request: %w", err)
	}
	aReq.Stream = true

	body, err := c.marshalForHosting(aReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamingURL(req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, router.ParseAPIError(providerName, resp)
	}

	ch := make(chan router.StreamChunk, 8)
	if c.bedrock {
		go readBedrockStream(ctx, resp.Body, ch)
	} else {
		go readStream(ctx, resp.Body, ch)
	}
	return ch, nil
}

// Embeddings is not supported by Anthropic.
func (c *Client) Embeddings(_ context.Context, _ *router.EmbeddingRequest) (*router.EmbeddingResponse, error) {
	return nil, fmt.Errorf("anthropic: embeddings not supported")
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("content-type", "application/json")
	if !c.bedrock {
		r.Header.Set("anthropic-version", anthropicVersion)
	}
}

func (c *Client) messagesURL(model string) string {
	if c.bedrock {
		return fmt.Sprintf("%s/model/%s/invoke", c.baseURL, model)
	}
	return c.baseURL + "/messages"
}

func (c *Client) streamingURL(model string) string {
	if c.bedrock {
		return fmt.Sprintf("%s/model/%s/invoke-with-response-stream", c.baseURL, model)
	}
	return c.messagesURL(model)
}

// marshalForHosting serializes a messagesRequest. Bedrock requires
// anthropic_version in the body instead of a header, and omits model (it's
// already in the URL path).
func (c *Client) marshalForHosting(aReq *messagesRequest) ([]byte, error) {
	if !c.bedrock {
		return json.Marshal(aReq)
	}
	type bedrockRequest struct {
		AnthropicVersion string          `json:"anthropic_version"`
		MaxTokens        int             `json:"max_tokens"`
		Messages         []messagesMsg   `json:"messages"`
		System           json.RawMessage `json:"system,omitempty"`
		Temperature      *float64        `json:"temperature,omitempty"`
		TopP             *float64        `json:"top_p,omitempty"`
		Tools            json.RawMessage `json:"tools,omitempty"`
		StopSeqs         json.RawMessage `json:"stop_sequences,omitempty"`
	}
	return json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockVersion,
		MaxTokens:        aReq.MaxTokens,
		Messages:         aReq.Messages,
		System:           aReq.System,
		Temperature:      aReq.Temperature,
		TopP:             aReq.TopP,
		Tools:            aReq.Tools,
		StopSeqs:         aReq.StopSeqs,
	})
}

var _ router.Provider = (*Client)(nil)
