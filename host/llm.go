package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/config"
)

// doneSentinel terminates every push channel, as a JSON string payload.
var doneSentinel = json.RawMessage(`"[DONE]"`)

// ModelClient drives a streaming chat completion against any
// OpenAI-compatible endpoint (Ollama, LocalAI, OpenRouter, vLLM, ...).
//
// Output is delivered as push-channel payloads: raw completion chunks as
// the upstream sends them, an {"error": ...} object on failure, and a
// final "[DONE]" string exactly once.
type ModelClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewModelClient creates a client from the model configuration.
func NewModelClient(cfg config.ModelConfig, logger *zap.SugaredLogger) *ModelClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ModelClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: logger,
	}
}

// Stream opens the completion and publishes each SSE data payload in
// arrival order. It always publishes the "[DONE]" sentinel last, exactly
// once, on success and on failure alike.
func (c *ModelClient) Stream(ctx context.Context, request json.RawMessage, publish func(json.RawMessage)) {
	defer publish(doneSentinel)

	body, err := c.forceStreaming(request)
	if err != nil {
		publishError(publish, err.Error())
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		publishError(publish, err.Error())
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		publishError(publish, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warnw("Completion request failed",
			"status", resp.StatusCode, "body", string(detail))
		publishError(publish, strings.TrimSpace(string(detail)))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		// The upstream protocol terminates with "data: [DONE]";
		// the deferred sentinel covers the channel's termination.
		if data == "[DONE]" {
			return
		}

		if !json.Valid([]byte(data)) {
			c.logger.Warnw("Dropping malformed stream chunk", "chunk", data)
			continue
		}
		publish(json.RawMessage(data))
	}

	if err := scanner.Err(); err != nil {
		publishError(publish, err.Error())
	}
}

// forceStreaming decorates the request with stream=true and the default
// model when the caller supplied none.
func (c *ModelClient) forceStreaming(request json.RawMessage) ([]byte, error) {
	var req map[string]any
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, err
	}
	req["stream"] = true
	if _, ok := req["model"]; !ok {
		req["model"] = c.model
	}
	return json.Marshal(req)
}

func publishError(publish func(json.RawMessage), message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = json.RawMessage(`{"error":"completion failed"}`)
	}
	publish(payload)
}
