package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/service"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/timeseries"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

type okInvoker struct{}

func (okInvoker) Invoke(ctx context.Context, model *models.RegisteredModel, req *models.AIRequest) (*models.ExecutionResult, error) {
	return &models.ExecutionResult{
		RequestID:   req.ID,
		ModelID:     model.ID,
		Content:     "generated text",
		LatencyMs:   40,
		CompletedAt: time.Now(),
	}, nil
}

func newTestAPI(t *testing.T) (*gin.Engine, *service.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		RoutingStrategy:       config.StrategyBalanced,
		FallbackBehavior:      "retry",
		MaxRetries:            1,
		HealthCheckEvery:      time.Minute,
		EnableCircuitBreakers: true,
		BreakerThreshold:      5,
		BreakerCooldown:       30 * time.Second,
		OpenAIKey:             "sk-test",
	}
	svc, err := service.New(cfg, timeseries.NewMemoryStore(), timeseries.NewMemoryRateLimiter(), nil, okInvoker{})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	h := NewHandlers(svc, nil)
	r := gin.New()
	r.GET("/health", h.HealthCheck)
	r.POST("/v1/route", h.Route)
	v1 := r.Group("/api/v1")
	{
		v1.GET("/models", h.ListModels)
		v1.POST("/models", h.RegisterModel)
		v1.GET("/models/:id", h.GetModel)
		v1.DELETE("/models/:id", h.UnregisterModel)
		v1.GET("/models/:id/health", h.GetModelHealth)
		v1.GET("/stats", h.GetStats)
		v1.GET("/decisions/recent", h.GetRecentDecisions)
		v1.PUT("/config", h.UpdateConfig)
	}
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	r, _ := newTestAPI(t)
	w := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRoute_Success(t *testing.T) {
	r, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/v1/route", models.AIRequest{
		Content: "explain goroutines",
		Type:    models.TypeTextGeneration,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp service.RouteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result == nil || resp.Result.Content != "generated text" {
		t.Errorf("unexpected result: %+v", resp.Result)
	}
	if resp.Decision == nil || resp.Decision.SelectedModel == nil {
		t.Error("response missing routing decision")
	}
}

func TestRoute_InvalidType(t *testing.T) {
	r, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/v1/route", models.AIRequest{
		Content: "hello",
		Type:    "MIND_READING",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRoute_NoCandidates(t *testing.T) {
	r, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/v1/route", models.AIRequest{
		Content: "transcribe this meeting",
		Type:    models.TypeAudioTranscription,
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestModelLifecycle(t *testing.T) {
	r, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/models", models.ModelConfig{
		ID:       "local-mistral",
		Name:     "mistral-7b",
		Provider: models.ProviderLocal,
		Endpoint: "http://localhost:8080/v1/chat/completions",
		Capabilities: []models.ModelCapability{
			{RequestType: models.TypeTextGeneration, MaxTokens: 4096, QualityScore: 0.55},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/models/local-mistral", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get: status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/models/local-mistral", nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete: status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/models/local-mistral", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
}

func TestRegisterModel_Invalid(t *testing.T) {
	r, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/models", models.ModelConfig{
		ID: "broken",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetStats(t *testing.T) {
	r, _ := newTestAPI(t)

	doJSON(t, r, http.MethodPost, "/v1/route", models.AIRequest{
		Content: "hello",
		Type:    models.TypeTextGeneration,
	})

	w := doJSON(t, r, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var stats service.RoutingStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Engine.TotalRequests != 1 {
		t.Errorf("total requests = %d, want 1", stats.Engine.TotalRequests)
	}
}

func TestGetRecentDecisions_NoDB(t *testing.T) {
	r, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/decisions/recent", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without a database", w.Code)
	}
}

func TestUpdateConfig(t *testing.T) {
	r, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodPut, "/api/v1/config", map[string]any{
		"routing_strategy": "quality",
		"max_retries":      3,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPut, "/api/v1/config", map[string]any{
		"routing_strategy": "vibes",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown strategy", w.Code)
	}
}
