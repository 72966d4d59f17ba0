// Package engine implements the routing engine.
//
// A request flows through an explicit pipeline: analyze, candidate
// selection, strategy-weighted scoring, optional load balancing, decision,
// execution, metric recording. Execution runs each attempt through the
// model's circuit breaker and applies the configured fallback behavior as
// a bounded loop, never a recursive retry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/breaker"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/invoker"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/monitor"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/timeseries"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

// Weights is the strategy-weighted scoring profile. The four weights sum
// to 1 for every built-in strategy.
type Weights struct {
	Performance  float64
	Cost         float64
	Quality      float64
	Availability float64
}

// WeightsFor returns the default weight profile for a routing strategy.
func WeightsFor(strategy config.RoutingStrategy) Weights {
	switch strategy {
	case config.StrategyPerformance:
		return Weights{Performance: 0.6, Cost: 0.1, Quality: 0.2, Availability: 0.1}
	case config.StrategyCost:
		return Weights{Performance: 0.2, Cost: 0.5, Quality: 0.2, Availability: 0.1}
	case config.StrategyQuality:
		return Weights{Performance: 0.2, Cost: 0.1, Quality: 0.6, Availability: 0.1}
	default:
		return Weights{Performance: 0.3, Cost: 0.2, Quality: 0.3, Availability: 0.2}
	}
}

const (
	// loadBalanceThreshold is how close to the top score a candidate must be
	// to participate in round-robin redistribution.
	loadBalanceThreshold = 0.05

	// retryDelay is the pause before retrying the same model.
	retryDelay = 100 * time.Millisecond

	// queueDelay is the pause before a queued re-attempt.
	queueDelay = 1 * time.Second
)

// Settings is the engine's runtime configuration. Hot-reloadable through
// UpdateSettings.
type Settings struct {
	Strategy            config.RoutingStrategy
	Fallback            models.FallbackStrategy
	MaxRetries          int
	EnableBreakers      bool
	EnableLoadBalancing bool
	EnableMonitoring    bool
	EnableCostOptimize  bool
}

// weightsFromSettings derives the scoring profile. With cost optimization
// disabled the cost weight is redistributed across the other three.
func weightsFromSettings(s Settings) Weights {
	w := WeightsFor(s.Strategy)
	if !s.EnableCostOptimize && w.Cost > 0 {
		rest := w.Performance + w.Quality + w.Availability
		w.Performance += w.Cost * w.Performance / rest
		w.Quality += w.Cost * w.Quality / rest
		w.Availability += w.Cost * w.Availability / rest
		w.Cost = 0
	}
	return w
}

// Stats is the engine's own counter snapshot.
type Stats struct {
	TotalRequests         int64            `json:"total_requests"`
	SuccessfulRoutes      int64            `json:"successful_routes"`
	FailedRoutes          int64            `json:"failed_routes"`
	AverageDecisionTimeMs float64          `json:"average_decision_time_ms"`
	ModelUsage            map[string]int64 `json:"model_usage"`
	FallbackUsage         map[string]int64 `json:"fallback_usage"`
}

// HealthSummary is the engine's derived health view.
type HealthSummary struct {
	ActiveModels     int     `json:"active_models"`
	OpenBreakers     int     `json:"open_breakers"`
	SuccessRate      float64 `json:"success_rate"`
	TotalRequests    int64   `json:"total_requests"`
	SuccessfulRoutes int64   `json:"successful_routes"`
}

// Engine routes requests to models and executes them with fallback.
type Engine struct {
	registry *registry.Registry
	analyzer *analyzer.Analyzer
	monitor  *monitor.Monitor
	breakers *breaker.Manager
	invoker  invoker.Invoker
	limiter  timeseries.RateLimiter

	mu       sync.Mutex
	settings Settings
	weights  Weights

	// counters, guarded by mu
	totalRequests    int64
	successfulRoutes int64
	failedRoutes     int64
	decisionTime     time.Duration
	modelUsage       map[string]int64
	fallbackUsage    map[string]int64
	rrCounter        uint64

	// sleep is replaceable in tests to avoid real retry delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine. The monitor and limiter may be nil; metric
// recording and rate limiting are then skipped.
func New(reg *registry.Registry, an *analyzer.Analyzer, mon *monitor.Monitor, brk *breaker.Manager, inv invoker.Invoker, limiter timeseries.RateLimiter, settings Settings) *Engine {
	return &Engine{
		registry:      reg,
		analyzer:      an,
		monitor:       mon,
		breakers:      brk,
		invoker:       inv,
		limiter:       limiter,
		settings:      settings,
		weights:       weightsFromSettings(settings),
		modelUsage:    make(map[string]int64),
		fallbackUsage: make(map[string]int64),
		sleep:         sleepCtx,
	}
}

// UpdateSettings hot-reloads the engine configuration, rebuilding the
// scoring weights from the new strategy.
func (e *Engine) UpdateSettings(settings Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = settings
	e.weights = weightsFromSettings(settings)
	log.Printf("engine: settings updated, strategy=%s fallback=%s maxRetries=%d", settings.Strategy, settings.Fallback, settings.MaxRetries)
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// scored pairs a candidate with its strategy-weighted score.
type scored struct {
	model *models.RegisteredModel
	score float64
}

// Route selects a model for the request. It returns ErrNoCandidates
// (wrapped) when no active model passes the requirement filters and the
// circuit-breaker intersection.
func (e *Engine) Route(ctx context.Context, req models.AIRequest) (*models.RoutingDecision, error) {
	start := time.Now()

	analysis := e.analyzer.Analyze(req, req.Context)

	reqs := requirementsFor(req, analysis)
	candidates := e.registry.FindBestForRequest(req.Type, reqs)

	e.mu.Lock()
	settings := e.settings
	weights := e.weights
	e.mu.Unlock()

	excluded := 0
	if settings.EnableBreakers && e.breakers != nil {
		kept := candidates[:0]
		for _, m := range candidates {
			if !e.breakers.For(m.ID).Available() {
				excluded++
				continue
			}
			kept = append(kept, m)
		}
		candidates = kept
	}

	if len(candidates) == 0 {
		e.recordDecision(start, false)
		return nil, fmt.Errorf("engine: route %s request %s: %w", req.Type, req.ID, models.ErrNoCandidates)
	}

	ranked := e.rank(candidates, req.Type, analysis, weights)

	topIdx := 0
	balanced := false
	if settings.EnableLoadBalancing && len(ranked) > 1 {
		topIdx, balanced = e.balance(ranked)
	}
	selected := ranked[topIdx]

	alternatives := make([]*models.RegisteredModel, 0, len(ranked)-1)
	for i, s := range ranked {
		if i != topIdx {
			alternatives = append(alternatives, s.model)
		}
	}

	confidence := confidenceFrom(ranked)

	reasoning := []string{
		fmt.Sprintf("analyzed as %s complexity, ~%d tokens, %s urgency", analysis.Complexity, analysis.EstimatedTokens, analysis.Urgency),
		fmt.Sprintf("%d candidate(s) after capability and requirement filters", len(candidates)),
	}
	if excluded > 0 {
		reasoning = append(reasoning, fmt.Sprintf("%d model(s) excluded by open circuit breaker", excluded))
	}
	reasoning = append(reasoning, fmt.Sprintf("strategy %s selected %s (score %.3f)", settings.Strategy, selected.model.ID, selected.score))
	if balanced {
		reasoning = append(reasoning, "load balancing rotated among near-equal top scorers")
	}

	estLatency := selected.model.Performance.AverageLatencyMs
	if estLatency == 0 {
		estLatency = analysis.ExpectedLatencyMs
	}
	estCost := estimateCost(selected.model, analysis.EstimatedTokens)

	decision := &models.RoutingDecision{
		ID:                 uuid.New().String(),
		RequestID:          req.ID,
		SelectedModel:      selected.model,
		AlternativeModels:  alternatives,
		Confidence:         confidence,
		Reasoning:          reasoning,
		EstimatedLatencyMs: estLatency,
		EstimatedCostUSD:   estCost,
		Fallback:           settings.Fallback,
		Analysis:           &analysis,
		DecidedAt:          time.Now().UTC(),
	}

	e.recordDecision(start, true)
	return decision, nil
}

// Execute runs the decision against its selected model, applying the
// decision's fallback strategy as a bounded attempt loop. Errors surface
// only after every permitted attempt has failed.
func (e *Engine) Execute(ctx context.Context, req models.AIRequest, decision *models.RoutingDecision) (*models.ExecutionResult, error) {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()

	maxAttempts := settings.MaxRetries + 1
	if decision.Fallback == models.FallbackFail {
		maxAttempts = 1
	}

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		model, ok := e.attemptTarget(decision, attempt)
		if !ok {
			// Alternative fallback ran out of models before the retry budget.
			break
		}

		if attempt > 0 {
			delay := retryDelay
			if decision.Fallback == models.FallbackQueue {
				delay = queueDelay
			}
			if err := e.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("engine: execute request %s: %w", req.ID, err)
			}
		}
		attempt++

		result, err := e.attempt(ctx, req, decision, model)
		if err == nil {
			result.Attempts = attempt
			result.FallbackUsed = attempt > 1
			e.recordOutcome(model.ID, decision.Fallback, attempt, true)
			return result, nil
		}
		lastErr = err
		log.Printf("engine: attempt %d/%d on %s failed: %v", attempt, maxAttempts, model.ID, err)

		if ctx.Err() != nil {
			break
		}
	}

	e.recordOutcome("", decision.Fallback, attempt, false)
	if lastErr == nil {
		lastErr = models.ErrNoCandidates
	}
	return nil, fmt.Errorf("engine: request %s failed after %d attempt(s): %w: %w", req.ID, attempt, models.ErrRetriesExhausted, lastErr)
}

// attemptTarget picks the model for the nth attempt under the decision's
// fallback strategy.
func (e *Engine) attemptTarget(decision *models.RoutingDecision, attempt int) (*models.RegisteredModel, bool) {
	if decision.Fallback != models.FallbackAlternative || attempt == 0 {
		return decision.SelectedModel, true
	}
	idx := attempt - 1
	if idx >= len(decision.AlternativeModels) {
		return nil, false
	}
	return decision.AlternativeModels[idx], true
}

// attempt runs one invocation through the model's rate limit and breaker.
func (e *Engine) attempt(ctx context.Context, req models.AIRequest, decision *models.RoutingDecision, model *models.RegisteredModel) (*models.ExecutionResult, error) {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()

	if e.limiter != nil && model.Constraints.RateLimitPerMinute > 0 {
		allowed, err := e.limiter.Allow(ctx, "ratelimit:"+model.ID, int64(model.Constraints.RateLimitPerMinute), time.Minute)
		if err != nil {
			log.Printf("engine: rate limit check for %s failed, allowing: %v", model.ID, err)
		} else if !allowed {
			e.record(model, 0, false, "rate_limited", 0, req)
			return nil, fmt.Errorf("engine: model %s rate limit exceeded", model.ID)
		}
	}

	var brk *breaker.Breaker
	if settings.EnableBreakers && e.breakers != nil {
		brk = e.breakers.For(model.ID)
		if !brk.Allow() {
			e.record(model, 0, false, "circuit_open", 0, req)
			return nil, fmt.Errorf("engine: model %s circuit breaker is open", model.ID)
		}
	}

	attemptCtx := ctx
	if deadline := maxLatency(req); deadline > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(deadline)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	result, err := e.invoker.Invoke(attemptCtx, model, &req)
	latency := float64(time.Since(start).Milliseconds())

	if err != nil {
		if brk != nil {
			brk.Failure()
		}
		e.record(model, latency, false, classifyError(attemptCtx, err), 0, req)
		e.feedback(model.ID, latency, false)
		return nil, err
	}

	if brk != nil {
		brk.Success()
	}
	e.record(model, result.LatencyMs, true, "", result.CostUSD, req)
	e.feedback(model.ID, result.LatencyMs, true)
	return result, nil
}

// record hands a metric to the monitor, when monitoring is on.
func (e *Engine) record(model *models.RegisteredModel, latency float64, success bool, errorType string, cost float64, req models.AIRequest) {
	e.mu.Lock()
	enabled := e.settings.EnableMonitoring
	e.mu.Unlock()
	if !enabled || e.monitor == nil {
		return
	}
	e.monitor.Record(models.PerformanceMetric{
		ModelID:     model.ID,
		Timestamp:   time.Now().UTC(),
		LatencyMs:   latency,
		Success:     success,
		ErrorType:   errorType,
		RequestSize: len(req.Content),
		CostUSD:     cost,
	})
}

// emaAlpha is the smoothing factor for post-execution performance feedback.
const emaAlpha = 0.1

// feedback folds one observation into the registry's performance snapshot
// with an exponential moving average.
func (e *Engine) feedback(modelID string, latency float64, success bool) {
	m, ok := e.registry.Get(modelID)
	if !ok {
		return
	}

	newLatency := latency
	if m.Performance.AverageLatencyMs > 0 {
		newLatency = emaAlpha*latency + (1-emaAlpha)*m.Performance.AverageLatencyMs
	}
	observedErr := 0.0
	if !success {
		observedErr = 1.0
	}
	newErrorRate := emaAlpha*observedErr + (1-emaAlpha)*m.Performance.ErrorRate

	e.registry.UpdatePerformance(modelID, models.PerformanceUpdate{
		AverageLatencyMs: &newLatency,
		ErrorRate:        &newErrorRate,
	})
}

// rank scores every candidate and sorts descending, breaking ties by id
// for determinism.
func (e *Engine) rank(candidates []*models.RegisteredModel, reqType models.RequestType, analysis models.RequestAnalysis, weights Weights) []scored {
	minLat, maxLat := math.MaxFloat64, 0.0
	minCost, maxCost := math.MaxFloat64, 0.0
	for _, m := range candidates {
		lat := m.Performance.AverageLatencyMs
		if lat < minLat {
			minLat = lat
		}
		if lat > maxLat {
			maxLat = lat
		}
		cost := estimateCost(m, analysis.EstimatedTokens)
		if cost < minCost {
			minCost = cost
		}
		if cost > maxCost {
			maxCost = cost
		}
	}
	latRange := maxLat - minLat
	if latRange == 0 {
		latRange = 1
	}
	costRange := maxCost - minCost
	if costRange == 0 {
		costRange = 1
	}

	ranked := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		perfScore := 1.0 - (m.Performance.AverageLatencyMs-minLat)/latRange
		costScore := 1.0 - (estimateCost(m, analysis.EstimatedTokens)-minCost)/costRange

		qualityScore := m.Performance.Accuracy
		if cap, ok := m.Capability(reqType); ok {
			qualityScore = 0.5*cap.QualityScore + 0.5*m.Performance.Accuracy
		}

		availScore := m.Performance.Availability * (1.0 - m.Performance.ErrorRate)

		score := weights.Performance*perfScore +
			weights.Cost*costScore +
			weights.Quality*qualityScore +
			weights.Availability*availScore
		ranked = append(ranked, scored{model: m, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].model.ID < ranked[j].model.ID
	})
	return ranked
}

// balance rotates the pick among candidates within loadBalanceThreshold of
// the top score. Returns the chosen index and whether rotation applied.
func (e *Engine) balance(ranked []scored) (int, bool) {
	top := ranked[0].score
	pool := 1
	for pool < len(ranked) {
		if top-ranked[pool].score > loadBalanceThreshold*math.Max(top, 1e-9) {
			break
		}
		pool++
	}
	if pool == 1 {
		return 0, false
	}

	e.mu.Lock()
	idx := int(e.rrCounter % uint64(pool))
	e.rrCounter++
	e.mu.Unlock()
	return idx, idx != 0
}

// confidenceFrom derives decision confidence from the score gap between
// the top two candidates.
func confidenceFrom(ranked []scored) float64 {
	if len(ranked) < 2 {
		return 0.9
	}
	s1, s2 := ranked[0].score, ranked[1].score
	if s1 <= 0 {
		return 0.3
	}
	c := (s1 - s2) / s1
	if c < 0.3 {
		return 0.3
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}

// estimateCost prices a request at the analysis token estimate, assuming
// output at half the input volume.
func estimateCost(m *models.RegisteredModel, estimatedTokens int) float64 {
	return invoker.Cost(m.Pricing, int64(estimatedTokens), int64(estimatedTokens/2))
}

// requirementsFor derives registry filters from the request metadata and
// the analysis.
func requirementsFor(req models.AIRequest, analysis models.RequestAnalysis) registry.Requirements {
	return registry.Requirements{
		MaxLatencyMs:         maxLatency(req),
		MaxCostUSD:           req.Metadata.MaxCostUSD,
		EstimatedTokens:      analysis.EstimatedTokens,
		RequiredCapabilities: req.Metadata.RequiredCapabilities,
	}
}

// maxLatency resolves the request's latency bound, preferring explicit
// metadata over context time constraints.
func maxLatency(req models.AIRequest) float64 {
	if req.Metadata.MaxLatencyMs > 0 {
		return req.Metadata.MaxLatencyMs
	}
	if req.Context != nil && req.Context.TimeConstraints != nil {
		return req.Context.TimeConstraints.MaxLatencyMs
	}
	return 0
}

// classifyError buckets an invocation error for the metric record.
func classifyError(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

// recordDecision updates the routing counters after a Route call.
func (e *Engine) recordDecision(start time.Time, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRequests++
	e.decisionTime += time.Since(start)
	if !ok {
		e.failedRoutes++
	}
}

// recordOutcome updates execution counters.
func (e *Engine) recordOutcome(modelID string, fallback models.FallbackStrategy, attempts int, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if success {
		e.successfulRoutes++
		e.modelUsage[modelID]++
	} else {
		e.failedRoutes++
	}
	if attempts > 1 {
		e.fallbackUsage[string(fallback)]++
	}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	avg := 0.0
	if e.totalRequests > 0 {
		avg = float64(e.decisionTime.Microseconds()) / float64(e.totalRequests) / 1000.0
	}
	usage := make(map[string]int64, len(e.modelUsage))
	for k, v := range e.modelUsage {
		usage[k] = v
	}
	fallbacks := make(map[string]int64, len(e.fallbackUsage))
	for k, v := range e.fallbackUsage {
		fallbacks[k] = v
	}
	return Stats{
		TotalRequests:         e.totalRequests,
		SuccessfulRoutes:      e.successfulRoutes,
		FailedRoutes:          e.failedRoutes,
		AverageDecisionTimeMs: avg,
		ModelUsage:            usage,
		FallbackUsage:         fallbacks,
	}
}

// Health returns the engine's derived health summary.
func (e *Engine) Health() HealthSummary {
	stats := e.Stats()

	successRate := 1.0
	completed := stats.SuccessfulRoutes + stats.FailedRoutes
	if completed > 0 {
		successRate = float64(stats.SuccessfulRoutes) / float64(completed)
	}

	open := 0
	if e.breakers != nil {
		open = e.breakers.OpenCount()
	}
	return HealthSummary{
		ActiveModels:     len(e.registry.ActiveModels()),
		OpenBreakers:     open,
		SuccessRate:      successRate,
		TotalRequests:    stats.TotalRequests,
		SuccessfulRoutes: stats.SuccessfulRoutes,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
