package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/breaker"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/monitor"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/timeseries"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

// stubInvoker routes invocations through a per-test function and records
// which models were attempted, in order.
type stubInvoker struct {
	mu     sync.Mutex
	calls  []string
	invoke func(modelID string) error
}

func (s *stubInvoker) Invoke(ctx context.Context, model *models.RegisteredModel, req *models.AIRequest) (*models.ExecutionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, model.ID)
	s.mu.Unlock()

	if s.invoke != nil {
		if err := s.invoke(model.ID); err != nil {
			return nil, err
		}
	}
	return &models.ExecutionResult{
		RequestID:    req.ID,
		ModelID:      model.ID,
		Content:      "ok",
		InputTokens:  10,
		OutputTokens: 5,
		LatencyMs:    42,
		CompletedAt:  time.Now(),
	}, nil
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type modelSpec struct {
	id           string
	priority     int
	latencyMs    float64
	accuracy     float64
	errorRate    float64
	availability float64
	quality      float64
	inputPerM    float64
	rateLimit    int
}

func registerModel(t *testing.T, reg *registry.Registry, spec modelSpec) {
	t.Helper()
	priority := spec.priority
	_, err := reg.Register(models.ModelConfig{
		ID:       spec.id,
		Name:     spec.id,
		Provider: models.ProviderOpenAI,
		Endpoint: "http://localhost/" + spec.id,
		Capabilities: []models.ModelCapability{
			{RequestType: models.TypeTextGeneration, MaxTokens: 8192, QualityScore: spec.quality},
		},
		Constraints: models.ModelConstraints{RateLimitPerMinute: spec.rateLimit},
		Pricing:     models.ModelPricing{InputPerMToken: spec.inputPerM, OutputPerMToken: spec.inputPerM * 3, Currency: "USD"},
		Performance: &models.ModelPerformance{
			AverageLatencyMs: spec.latencyMs,
			Accuracy:         spec.accuracy,
			Availability:     spec.availability,
			ErrorRate:        spec.errorRate,
		},
		Priority: &priority,
	})
	if err != nil {
		t.Fatalf("register %s: %v", spec.id, err)
	}
}

func newTestEngine(settings Settings, inv *stubInvoker) (*Engine, *registry.Registry, *breaker.Manager) {
	reg := registry.New()
	brk := breaker.NewManager(breaker.DefaultThreshold, breaker.DefaultCooldown)
	settings.EnableCostOptimize = true
	eng := New(reg, analyzer.New(), nil, brk, inv, nil, settings)
	eng.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return eng, reg, brk
}

func textRequest(id string) models.AIRequest {
	return models.AIRequest{
		ID:      id,
		Content: "write a short paragraph about lighthouses",
		Type:    models.TypeTextGeneration,
	}
}

func TestRoute_SingleCandidate(t *testing.T) {
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackAlternative, MaxRetries: 2}, &stubInvoker{})
	registerModel(t, reg, modelSpec{id: "solo", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.8, inputPerM: 1})

	decision, err := eng.Route(context.Background(), textRequest("r1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.SelectedModel.ID != "solo" {
		t.Errorf("selected %s, want solo", decision.SelectedModel.ID)
	}
	if decision.Confidence <= 0 {
		t.Errorf("confidence = %f, want > 0", decision.Confidence)
	}
	if len(decision.Reasoning) == 0 {
		t.Error("expected a reasoning trace")
	}
	if decision.Analysis == nil {
		t.Error("expected the analysis to be attached")
	}
}

func TestRoute_PerformanceStrategyPrefersLowLatency(t *testing.T) {
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyPerformance, Fallback: models.FallbackAlternative, MaxRetries: 2}, &stubInvoker{})
	registerModel(t, reg, modelSpec{id: "heavy", priority: 90, latencyMs: 3000, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})
	registerModel(t, reg, modelSpec{id: "quick", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	decision, err := eng.Route(context.Background(), textRequest("r1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.SelectedModel.ID != "quick" {
		t.Errorf("selected %s, want quick (lower latency should dominate)", decision.SelectedModel.ID)
	}
	if len(decision.AlternativeModels) != 1 || decision.AlternativeModels[0].ID != "heavy" {
		t.Errorf("alternatives = %v, want [heavy]", decision.AlternativeModels)
	}
}

func TestRoute_CostStrategyPrefersCheap(t *testing.T) {
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyCost, Fallback: models.FallbackAlternative, MaxRetries: 2}, &stubInvoker{})
	registerModel(t, reg, modelSpec{id: "pricey", priority: 50, latencyMs: 800, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 15})
	registerModel(t, reg, modelSpec{id: "cheap", priority: 50, latencyMs: 800, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 0.15})

	decision, err := eng.Route(context.Background(), textRequest("r1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.SelectedModel.ID != "cheap" {
		t.Errorf("selected %s, want cheap", decision.SelectedModel.ID)
	}
}

func TestRoute_NoCandidates(t *testing.T) {
	eng, _, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackAlternative, MaxRetries: 2}, &stubInvoker{})

	req := models.AIRequest{ID: "r1", Content: "describe this image", Type: models.TypeImageAnalysis}
	_, err := eng.Route(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error with no registered models")
	}
	if !errors.Is(err, models.ErrNoCandidates) {
		t.Errorf("error = %v, want ErrNoCandidates", err)
	}
}

func TestRoute_ExcludesOpenBreaker(t *testing.T) {
	eng, reg, brk := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackAlternative, MaxRetries: 2, EnableBreakers: true}, &stubInvoker{})
	registerModel(t, reg, modelSpec{id: "broken", priority: 90, latencyMs: 100, accuracy: 0.99, availability: 1, quality: 0.99, inputPerM: 1})
	registerModel(t, reg, modelSpec{id: "backup", priority: 50, latencyMs: 900, accuracy: 0.8, availability: 1, quality: 0.8, inputPerM: 1})

	for i := 0; i < breaker.DefaultThreshold; i++ {
		brk.For("broken").Failure()
	}
	if brk.For("broken").State() != breaker.StateOpen {
		t.Fatal("breaker should be open")
	}

	decision, err := eng.Route(context.Background(), textRequest("r1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.SelectedModel.ID != "backup" {
		t.Errorf("selected %s, want backup (broken is circuit-open)", decision.SelectedModel.ID)
	}
}

func TestRoute_AllBreakersOpen(t *testing.T) {
	eng, reg, brk := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackAlternative, MaxRetries: 2, EnableBreakers: true}, &stubInvoker{})
	registerModel(t, reg, modelSpec{id: "only", priority: 50, latencyMs: 100, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	for i := 0; i < breaker.DefaultThreshold; i++ {
		brk.For("only").Failure()
	}

	_, err := eng.Route(context.Background(), textRequest("r1"))
	if !errors.Is(err, models.ErrNoCandidates) {
		t.Errorf("error = %v, want ErrNoCandidates when every breaker is open", err)
	}
}

func TestRoute_LoadBalancingRotates(t *testing.T) {
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackAlternative, MaxRetries: 2, EnableLoadBalancing: true}, &stubInvoker{})
	registerModel(t, reg, modelSpec{id: "twin-a", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})
	registerModel(t, reg, modelSpec{id: "twin-b", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		decision, err := eng.Route(context.Background(), textRequest(fmt.Sprintf("r%d", i)))
		if err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
		seen[decision.SelectedModel.ID] = true
	}
	if !seen["twin-a"] || !seen["twin-b"] {
		t.Errorf("expected rotation across both twins, saw %v", seen)
	}
}

func TestExecute_RetryExhaustion(t *testing.T) {
	inv := &stubInvoker{invoke: func(string) error { return errors.New("boom") }}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackRetry, MaxRetries: 2}, inv)
	registerModel(t, reg, modelSpec{id: "flaky", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	_, err = eng.Execute(context.Background(), req, decision)
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if !errors.Is(err, models.ErrRetriesExhausted) {
		t.Errorf("error = %v, want ErrRetriesExhausted", err)
	}
	if got := inv.callCount(); got != 3 {
		t.Errorf("attempts = %d, want exactly maxRetries+1 = 3", got)
	}
}

func TestExecute_AlternativeFallback(t *testing.T) {
	inv := &stubInvoker{invoke: func(id string) error {
		if id == "primary" {
			return errors.New("unavailable")
		}
		return nil
	}}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackAlternative, MaxRetries: 2}, inv)
	registerModel(t, reg, modelSpec{id: "primary", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})
	registerModel(t, reg, modelSpec{id: "standby", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	decision := &models.RoutingDecision{
		RequestID:         "r1",
		SelectedModel:     must(reg.Get("primary")),
		AlternativeModels: []*models.RegisteredModel{must(reg.Get("standby"))},
		Fallback:          models.FallbackAlternative,
	}

	result, err := eng.Execute(context.Background(), textRequest("r1"), decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelID != "standby" {
		t.Errorf("result model = %s, want standby", result.ModelID)
	}
	if result.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", result.Attempts)
	}
	if !result.FallbackUsed {
		t.Error("FallbackUsed should be true")
	}
}

func TestExecute_AlternativesRunOut(t *testing.T) {
	inv := &stubInvoker{invoke: func(string) error { return errors.New("down") }}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackAlternative, MaxRetries: 5}, inv)
	registerModel(t, reg, modelSpec{id: "primary", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	decision := &models.RoutingDecision{
		RequestID:     "r1",
		SelectedModel: must(reg.Get("primary")),
		Fallback:      models.FallbackAlternative,
	}

	_, err := eng.Execute(context.Background(), textRequest("r1"), decision)
	if !errors.Is(err, models.ErrRetriesExhausted) {
		t.Fatalf("error = %v, want ErrRetriesExhausted", err)
	}
	if got := inv.callCount(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no alternatives to try)", got)
	}
}

func TestExecute_FailStrategySingleAttempt(t *testing.T) {
	inv := &stubInvoker{invoke: func(string) error { return errors.New("down") }}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackFail, MaxRetries: 5}, inv)
	registerModel(t, reg, modelSpec{id: "only", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	_, err = eng.Execute(context.Background(), req, decision)
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := inv.callCount(); got != 1 {
		t.Errorf("attempts = %d, want 1 for fail behavior", got)
	}
}

func TestExecute_QueueDelaysRetry(t *testing.T) {
	calls := 0
	inv := &stubInvoker{invoke: func(string) error {
		calls++
		if calls == 1 {
			return errors.New("busy")
		}
		return nil
	}}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackQueue, MaxRetries: 2}, inv)
	registerModel(t, reg, modelSpec{id: "only", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	var delays []time.Duration
	eng.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	result, err := eng.Execute(context.Background(), req, decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", result.Attempts)
	}
	if len(delays) != 1 || delays[0] != queueDelay {
		t.Errorf("delays = %v, want one pause of %s", delays, queueDelay)
	}
}

func TestExecute_OpensBreakerThenRouteExcludes(t *testing.T) {
	inv := &stubInvoker{invoke: func(string) error { return errors.New("down") }}
	eng, reg, brk := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackRetry, MaxRetries: breaker.DefaultThreshold, EnableBreakers: true}, inv)
	registerModel(t, reg, modelSpec{id: "dying", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := eng.Execute(context.Background(), req, decision); err == nil {
		t.Fatal("expected execution failure")
	}

	if brk.For("dying").State() != breaker.StateOpen {
		t.Fatalf("breaker state = %s, want open after %d failures", brk.For("dying").State(), breaker.DefaultThreshold)
	}
	if _, err := eng.Route(context.Background(), textRequest("r2")); !errors.Is(err, models.ErrNoCandidates) {
		t.Errorf("route error = %v, want ErrNoCandidates while breaker is open", err)
	}
}

func TestExecute_HalfOpenProbeSuccessCloses(t *testing.T) {
	inv := &stubInvoker{}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackFail, EnableBreakers: true}, inv)
	eng.breakers = breaker.NewManager(1, 10*time.Millisecond)
	registerModel(t, reg, modelSpec{id: "recovering", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	eng.breakers.For("recovering").Failure()
	time.Sleep(20 * time.Millisecond)

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := eng.Execute(context.Background(), req, decision); err != nil {
		t.Fatalf("probe execution failed: %v", err)
	}
	if got := eng.breakers.For("recovering").State(); got != breaker.StateClosed {
		t.Errorf("breaker state = %s, want closed after probe success", got)
	}
}

func TestExecute_RateLimited(t *testing.T) {
	inv := &stubInvoker{}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackFail}, inv)
	eng.limiter = timeseries.NewMemoryRateLimiter()
	registerModel(t, reg, modelSpec{id: "limited", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1, rateLimit: 1})

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if _, err := eng.Execute(context.Background(), req, decision); err != nil {
		t.Fatalf("first call should pass the limit: %v", err)
	}
	if _, err := eng.Execute(context.Background(), req, decision); err == nil {
		t.Fatal("second call within the window should be rate limited")
	}
}

func TestExecute_RecordsMetrics(t *testing.T) {
	store := timeseries.NewMemoryStore()
	mon := monitor.New(store, monitor.WithBatchSize(1))
	defer mon.Close(context.Background())

	inv := &stubInvoker{}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackFail, EnableMonitoring: true}, inv)
	eng.monitor = mon
	registerModel(t, reg, modelSpec{id: "observed", priority: 50, latencyMs: 500, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := eng.Execute(context.Background(), req, decision); err != nil {
		t.Fatalf("execute: %v", err)
	}

	points, err := store.Range(context.Background(), "observed", timeseries.SeriesSuccess, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(points) != 1 {
		t.Errorf("success points = %d, want 1", len(points))
	}
}

func TestExecute_FeedbackUpdatesRegistry(t *testing.T) {
	inv := &stubInvoker{}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackFail}, inv)
	registerModel(t, reg, modelSpec{id: "learner", priority: 50, latencyMs: 1000, accuracy: 0.9, availability: 1, quality: 0.9, inputPerM: 1})

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := eng.Execute(context.Background(), req, decision); err != nil {
		t.Fatalf("execute: %v", err)
	}

	m, _ := reg.Get("learner")
	if m.Performance.AverageLatencyMs >= 1000 {
		t.Errorf("average latency = %f, want pulled below 1000 by the fast observation", m.Performance.AverageLatencyMs)
	}
}

func TestStats_Counters(t *testing.T) {
	inv := &stubInvoker{invoke: func(id string) error {
		if id == "flaky" {
			return errors.New("down")
		}
		return nil
	}}
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyBalanced, Fallback: models.FallbackFail}, inv)
	registerModel(t, reg, modelSpec{id: "steady", priority: 90, latencyMs: 100, accuracy: 0.99, availability: 1, quality: 0.99, inputPerM: 1})

	req := textRequest("r1")
	decision, err := eng.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if _, err := eng.Execute(context.Background(), req, decision); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stats := eng.Stats()
	if stats.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", stats.TotalRequests)
	}
	if stats.SuccessfulRoutes != 1 {
		t.Errorf("SuccessfulRoutes = %d, want 1", stats.SuccessfulRoutes)
	}
	if stats.ModelUsage["steady"] != 1 {
		t.Errorf("ModelUsage = %v, want steady:1", stats.ModelUsage)
	}

	health := eng.Health()
	if health.ActiveModels != 1 {
		t.Errorf("ActiveModels = %d, want 1", health.ActiveModels)
	}
	if health.SuccessRate != 1 {
		t.Errorf("SuccessRate = %f, want 1", health.SuccessRate)
	}
}

func TestUpdateSettings_SwapsWeights(t *testing.T) {
	eng, reg, _ := newTestEngine(Settings{Strategy: config.StrategyPerformance, Fallback: models.FallbackFail}, &stubInvoker{})
	registerModel(t, reg, modelSpec{id: "quick", priority: 50, latencyMs: 100, accuracy: 0.5, availability: 1, quality: 0.4, inputPerM: 1})
	registerModel(t, reg, modelSpec{id: "smart", priority: 50, latencyMs: 2000, accuracy: 0.99, availability: 1, quality: 0.99, inputPerM: 1})

	decision, err := eng.Route(context.Background(), textRequest("r1"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.SelectedModel.ID != "quick" {
		t.Fatalf("performance strategy selected %s, want quick", decision.SelectedModel.ID)
	}

	eng.UpdateSettings(Settings{Strategy: config.StrategyQuality, Fallback: models.FallbackFail})

	decision, err = eng.Route(context.Background(), textRequest("r2"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.SelectedModel.ID != "smart" {
		t.Errorf("quality strategy selected %s, want smart", decision.SelectedModel.ID)
	}
}

func TestWeightsFor_SumToOne(t *testing.T) {
	strategies := []config.RoutingStrategy{
		config.StrategyPerformance,
		config.StrategyCost,
		config.StrategyQuality,
		config.StrategyBalanced,
	}
	for _, s := range strategies {
		w := WeightsFor(s)
		sum := w.Performance + w.Cost + w.Quality + w.Availability
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("weights for %s sum to %f, want 1", s, sum)
		}
	}
}

func TestWeightsFromSettings_CostOptimizationDisabled(t *testing.T) {
	w := weightsFromSettings(Settings{Strategy: config.StrategyCost})
	if w.Cost != 0 {
		t.Errorf("cost weight = %f, want 0 with cost optimization disabled", w.Cost)
	}
	sum := w.Performance + w.Cost + w.Quality + w.Availability
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("weights sum to %f, want 1", sum)
	}
	if w.Performance <= 0.2 || w.Quality <= 0.2 {
		t.Errorf("cost weight should be redistributed, got %+v", w)
	}
}

func TestConfidenceFrom(t *testing.T) {
	if got := confidenceFrom([]scored{{score: 0.8}}); got != 0.9 {
		t.Errorf("single candidate confidence = %f, want 0.9", got)
	}
	if got := confidenceFrom([]scored{{score: 0.8}, {score: 0.79}}); got != 0.3 {
		t.Errorf("near-tie confidence = %f, want clamped to 0.3", got)
	}
	if got := confidenceFrom([]scored{{score: 0.8}, {score: 0.2}}); got != 0.75 {
		t.Errorf("wide-gap confidence = %f, want 0.75", got)
	}
}

func must(m *models.RegisteredModel, ok bool) *models.RegisteredModel {
	if !ok {
		panic("model not found")
	}
	return m
}
