package invoker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

func TestExtractTokenUsage_OpenAI(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"usage": map[string]interface{}{
			"prompt_tokens":     float64(100),
			"completion_tokens": float64(50),
		},
	})

	input, output := extractTokenUsage(body, models.ProviderOpenAI)
	if input != 100 {
		t.Errorf("expected input tokens 100, got %d", input)
	}
	if output != 50 {
		t.Errorf("expected output tokens 50, got %d", output)
	}
}

func TestExtractTokenUsage_Anthropic(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"usage": map[string]interface{}{
			"input_tokens":  float64(200),
			"output_tokens": float64(300),
		},
	})

	input, output := extractTokenUsage(body, models.ProviderAnthropic)
	if input != 200 {
		t.Errorf("expected input tokens 200, got %d", input)
	}
	if output != 300 {
		t.Errorf("expected output tokens 300, got %d", output)
	}
}

func TestExtractTokenUsage_Gemini(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"usageMetadata": map[string]interface{}{
			"promptTokenCount":     float64(150),
			"candidatesTokenCount": float64(250),
		},
	})

	input, output := extractTokenUsage(body, models.ProviderGemini)
	if input != 150 {
		t.Errorf("expected input tokens 150, got %d", input)
	}
	if output != 250 {
		t.Errorf("expected output tokens 250, got %d", output)
	}
}

func TestExtractTokenUsage_InvalidJSON(t *testing.T) {
	input, output := extractTokenUsage([]byte("not json"), models.ProviderOpenAI)
	if input != 0 || output != 0 {
		t.Errorf("expected zeros for invalid JSON, got %d/%d", input, output)
	}
}

func TestExtractContent_OpenAI(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"role":"assistant","content":"hello back"}}]}`)
	if got := extractContent(body, models.ProviderOpenAI); got != "hello back" {
		t.Errorf("expected %q, got %q", "hello back", got)
	}
}

func TestExtractContent_Anthropic(t *testing.T) {
	body := []byte(`{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}`)
	if got := extractContent(body, models.ProviderAnthropic); got != "part one part two" {
		t.Errorf("expected concatenated blocks, got %q", got)
	}
}

func TestExtractContent_Gemini(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"gemini says hi"}],"role":"model"}}]}`)
	if got := extractContent(body, models.ProviderGemini); got != "gemini says hi" {
		t.Errorf("expected %q, got %q", "gemini says hi", got)
	}
}

func TestCost(t *testing.T) {
	pricing := models.ModelPricing{InputPerMToken: 10, OutputPerMToken: 30}
	got := Cost(pricing, 1_000_000, 500_000)
	want := 10.0 + 15.0
	if got != want {
		t.Errorf("Cost = %f, want %f", got, want)
	}
}

func TestEndpointURL_PrefersConfigured(t *testing.T) {
	m := &models.RegisteredModel{
		Provider: models.ProviderOpenAI,
		Endpoint: "http://localhost:8080/v1/chat/completions",
	}
	if got := endpointURL(m); got != m.Endpoint {
		t.Errorf("expected configured endpoint, got %q", got)
	}
}

func TestEndpointURL_GeminiIncludesModel(t *testing.T) {
	m := &models.RegisteredModel{Provider: models.ProviderGemini, Name: "gemini-pro"}
	want := "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent"
	if got := endpointURL(m); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestBuildPayload_IncludesHistory(t *testing.T) {
	m := &models.RegisteredModel{Provider: models.ProviderOpenAI, Name: "gpt-4o"}
	req := &models.AIRequest{
		Content: "and now?",
		Context: &models.RequestContext{
			ConversationHistory: []models.ConversationTurn{
				{Role: "user", Content: "first question"},
				{Role: "assistant", Content: "first answer"},
			},
		},
	}

	payload, err := buildPayload(m, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if parsed.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", parsed.Model)
	}
	if len(parsed.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(parsed.Messages))
	}
	if parsed.Messages[2].Content != "and now?" {
		t.Errorf("last message = %q, want the current content", parsed.Messages[2].Content)
	}
}

func TestHTTPInvoker_Invoke(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"ok"}}],
			"usage":{"prompt_tokens":10,"completion_tokens":20}
		}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(Keys{OpenAI: "sk-test"})
	m := &models.RegisteredModel{
		ID:       "gpt-4o",
		Name:     "gpt-4o",
		Provider: models.ProviderOpenAI,
		Endpoint: srv.URL,
		Pricing:  models.ModelPricing{InputPerMToken: 2.5, OutputPerMToken: 10},
	}
	req := &models.AIRequest{ID: "req-1", Content: "hello"}

	result, err := inv.Invoke(context.Background(), m, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q, want Bearer sk-test", gotAuth)
	}
	if result.Content != "ok" {
		t.Errorf("content = %q, want ok", result.Content)
	}
	if result.InputTokens != 10 || result.OutputTokens != 20 {
		t.Errorf("tokens = %d/%d, want 10/20", result.InputTokens, result.OutputTokens)
	}
	wantCost := 10*2.5/1_000_000 + 20*10.0/1_000_000
	if result.CostUSD != wantCost {
		t.Errorf("cost = %f, want %f", result.CostUSD, wantCost)
	}
	if result.ModelID != "gpt-4o" || result.RequestID != "req-1" {
		t.Errorf("result identity = %s/%s", result.ModelID, result.RequestID)
	}
}

func TestHTTPInvoker_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(Keys{})
	m := &models.RegisteredModel{ID: "m1", Provider: models.ProviderOpenAI, Endpoint: srv.URL}

	_, err := inv.Invoke(context.Background(), m, &models.AIRequest{Content: "hi"})
	if err == nil {
		t.Fatal("expected error for 503 upstream, got nil")
	}
}
