// Package invoker dispatches routed requests to upstream model providers.
//
// The HTTP invoker speaks each provider's chat-completions dialect (OpenAI,
// Anthropic, Google Gemini), sets the provider's authentication header, and
// extracts token usage from the response so execution cost can be computed
// from the model's pricing. API keys are held in-memory only and are never
// persisted.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

// defaultMaxResponseBodySize caps upstream response reads to prevent OOM.
const defaultMaxResponseBodySize = 10 << 20 // 10 MB

// Invoker executes a request against a specific registered model.
type Invoker interface {
	Invoke(ctx context.Context, model *models.RegisteredModel, req *models.AIRequest) (*models.ExecutionResult, error)
}

// Keys holds per-provider API credentials.
type Keys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

// HTTPInvoker calls provider HTTP APIs directly.
type HTTPInvoker struct {
	client              *http.Client
	keys                Keys
	maxResponseBodySize int64
}

// NewHTTPInvoker creates an HTTPInvoker with a 5 minute overall timeout.
// Per-request deadlines still apply through the caller's context.
func NewHTTPInvoker(keys Keys) *HTTPInvoker {
	return &HTTPInvoker{
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		keys:                keys,
		maxResponseBodySize: defaultMaxResponseBodySize,
	}
}

// Invoke sends the request to the model's endpoint and returns the parsed
// result. Non-2xx upstream statuses are returned as errors so the routing
// engine can apply its fallback strategy.
func (h *HTTPInvoker) Invoke(ctx context.Context, model *models.RegisteredModel, req *models.AIRequest) (*models.ExecutionResult, error) {
	start := time.Now()

	payload, err := buildPayload(model, req)
	if err != nil {
		return nil, fmt.Errorf("invoker: build payload for %s: %w", model.ID, err)
	}

	url := endpointURL(model)
	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("invoker: create request for %s: %w", model.ID, err)
	}
	upstreamReq.Header.Set("Content-Type", "application/json")
	h.setProviderAuth(upstreamReq, model.Provider)

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("invoker: call %s: %w", model.ID, err)
	}
	defer resp.Body.Close()

	// Read limit+1 bytes so "exactly at limit" and "over limit" can be told apart.
	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxResponseBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("invoker: read response from %s: %w", model.ID, err)
	}
	if int64(len(body)) > h.maxResponseBodySize {
		return nil, fmt.Errorf("invoker: response from %s exceeds %d bytes", model.ID, h.maxResponseBodySize)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("invoker: %s returned status %d: %s", model.ID, resp.StatusCode, truncate(string(body), 256))
	}

	latency := float64(time.Since(start).Milliseconds())
	content := extractContent(body, model.Provider)
	inputTokens, outputTokens := extractTokenUsage(body, model.Provider)

	return &models.ExecutionResult{
		RequestID:    req.ID,
		ModelID:      model.ID,
		Content:      content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMs:    latency,
		CostUSD:      Cost(model.Pricing, inputTokens, outputTokens),
		Attempts:     1,
		CompletedAt:  time.Now().UTC(),
	}, nil
}

// Cost computes the dollar cost of a call from per-million-token pricing.
func Cost(pricing models.ModelPricing, inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * pricing.InputPerMToken / 1_000_000
	outputCost := float64(outputTokens) * pricing.OutputPerMToken / 1_000_000
	return inputCost + outputCost
}

// providerBaseURLs maps providers to their API base URLs.
var providerBaseURLs = map[models.Provider]string{
	models.ProviderOpenAI:    "https://api.openai.com/v1/chat/completions",
	models.ProviderAnthropic: "https://api.anthropic.com/v1/messages",
	models.ProviderGemini:    "https://generativelanguage.googleapis.com/v1beta/models",
}

// endpointURL prefers the model's configured endpoint, falling back to the
// provider's public API.
func endpointURL(model *models.RegisteredModel) string {
	if model.Endpoint != "" {
		return model.Endpoint
	}
	base := providerBaseURLs[model.Provider]
	if model.Provider == models.ProviderGemini {
		return base + "/" + model.Name + ":generateContent"
	}
	return base
}

// buildPayload renders the request in the provider's chat dialect. The
// conversation history, when present, precedes the current content.
func buildPayload(model *models.RegisteredModel, req *models.AIRequest) ([]byte, error) {
	switch model.Provider {
	case models.ProviderAnthropic:
		return json.Marshal(map[string]interface{}{
			"model":      model.Name,
			"max_tokens": 4096,
			"messages":   chatMessages(req),
		})
	case models.ProviderGemini:
		var contents []map[string]interface{}
		for _, m := range chatMessages(req) {
			role := m["role"].(string)
			if role == "assistant" {
				role = "model"
			}
			contents = append(contents, map[string]interface{}{
				"role":  role,
				"parts": []map[string]string{{"text": m["content"].(string)}},
			})
		}
		return json.Marshal(map[string]interface{}{"contents": contents})
	default:
		// OpenAI dialect doubles as the wire format for local and custom
		// endpoints (llama.cpp, vLLM, LM Studio all speak it).
		return json.Marshal(map[string]interface{}{
			"model":    model.Name,
			"messages": chatMessages(req),
		})
	}
}

func chatMessages(req *models.AIRequest) []map[string]interface{} {
	var msgs []map[string]interface{}
	if req.Context != nil {
		for _, turn := range req.Context.ConversationHistory {
			role := turn.Role
			if role == "" {
				role = "user"
			}
			msgs = append(msgs, map[string]interface{}{"role": role, "content": turn.Content})
		}
	}
	msgs = append(msgs, map[string]interface{}{"role": "user", "content": req.Content})
	return msgs
}

// setProviderAuth sets the authentication header each provider expects.
func (h *HTTPInvoker) setProviderAuth(req *http.Request, provider models.Provider) {
	switch provider {
	case models.ProviderOpenAI:
		if h.keys.OpenAI != "" {
			req.Header.Set("Authorization", "Bearer "+h.keys.OpenAI)
		}
	case models.ProviderAnthropic:
		if h.keys.Anthropic != "" {
			req.Header.Set("X-API-Key", h.keys.Anthropic)
		}
		req.Header.Set("anthropic-version", "2023-06-01")
	case models.ProviderGemini:
		if h.keys.Gemini != "" {
			req.Header.Set("X-Goog-Api-Key", h.keys.Gemini)
		}
	}
}

// extractContent pulls the generated text from the provider response.
func extractContent(body []byte, provider models.Provider) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	switch provider {
	case models.ProviderAnthropic:
		if blocks, ok := parsed["content"].([]interface{}); ok {
			var sb strings.Builder
			for _, b := range blocks {
				if block, ok := b.(map[string]interface{}); ok {
					if text, ok := block["text"].(string); ok {
						sb.WriteString(text)
					}
				}
			}
			return sb.String()
		}
	case models.ProviderGemini:
		if candidates, ok := parsed["candidates"].([]interface{}); ok && len(candidates) > 0 {
			if cand, ok := candidates[0].(map[string]interface{}); ok {
				if content, ok := cand["content"].(map[string]interface{}); ok {
					if parts, ok := content["parts"].([]interface{}); ok && len(parts) > 0 {
						if part, ok := parts[0].(map[string]interface{}); ok {
							if text, ok := part["text"].(string); ok {
								return text
							}
						}
					}
				}
			}
		}
	default:
		if choices, ok := parsed["choices"].([]interface{}); ok && len(choices) > 0 {
			if choice, ok := choices[0].(map[string]interface{}); ok {
				if msg, ok := choice["message"].(map[string]interface{}); ok {
					if text, ok := msg["content"].(string); ok {
						return text
					}
				}
			}
		}
	}
	return ""
}

// extractTokenUsage pulls input/output token counts from the provider response.
func extractTokenUsage(body []byte, provider models.Provider) (int64, int64) {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, 0
	}

	switch provider {
	case models.ProviderAnthropic:
		if usage, ok := parsed["usage"].(map[string]interface{}); ok {
			return int64(toFloat(usage["input_tokens"])), int64(toFloat(usage["output_tokens"]))
		}
	case models.ProviderGemini:
		if meta, ok := parsed["usageMetadata"].(map[string]interface{}); ok {
			return int64(toFloat(meta["promptTokenCount"])), int64(toFloat(meta["candidatesTokenCount"]))
		}
	default:
		if usage, ok := parsed["usage"].(map[string]interface{}); ok {
			return int64(toFloat(usage["prompt_tokens"])), int64(toFloat(usage["completion_tokens"]))
		}
	}
	return 0, 0
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
