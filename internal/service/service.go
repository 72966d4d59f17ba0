// Package service is the routing service facade. It owns the configuration,
// wires the registry, monitor, analyzer, breakers and engine together,
// bootstraps the default model catalog, and runs the periodic health-check
// loop that flips model availability in the registry.
package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/breaker"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/engine"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/invoker"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/monitor"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/timeseries"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

// healthWindow is the metric window the health-check loop evaluates.
const healthWindow = 15 * time.Minute

// Service exposes the routing system to transports.
type Service struct {
	cfg      *config.Config
	registry *registry.Registry
	monitor  *monitor.Monitor
	breakers *breaker.Manager
	engine   *engine.Engine
	db       *database.DB

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a fully wired Service. The store backs the performance
// monitor; db may be nil for in-memory-only operation.
func New(cfg *config.Config, store timeseries.Store, limiter timeseries.RateLimiter, db *database.DB, inv invoker.Invoker) (*Service, error) {
	if !cfg.RoutingStrategy.Valid() {
		return nil, fmt.Errorf("service: unknown routing strategy %q", cfg.RoutingStrategy)
	}
	fallback := models.FallbackStrategy(cfg.FallbackBehavior)
	if !fallback.Valid() {
		return nil, fmt.Errorf("service: unknown fallback behavior %q", cfg.FallbackBehavior)
	}

	reg := registry.New()
	mon := monitor.New(store)
	brk := breaker.NewManager(cfg.BreakerThreshold, cfg.BreakerCooldown)
	if inv == nil {
		inv = invoker.NewHTTPInvoker(invoker.Keys{
			OpenAI:    cfg.OpenAIKey,
			Anthropic: cfg.AnthropicKey,
			Gemini:    cfg.GeminiKey,
		})
	}

	eng := engine.New(reg, analyzer.New(), mon, brk, inv, limiter, engine.Settings{
		Strategy:            cfg.RoutingStrategy,
		Fallback:            fallback,
		MaxRetries:          cfg.MaxRetries,
		EnableBreakers:      cfg.EnableCircuitBreakers,
		EnableLoadBalancing: cfg.EnableLoadBalancing,
		EnableMonitoring:    cfg.EnableMonitoring,
		EnableCostOptimize:  cfg.EnableCostOptimize,
	})

	s := &Service{
		cfg:      cfg,
		registry: reg,
		monitor:  mon,
		breakers: brk,
		engine:   eng,
		db:       db,
		stop:     make(chan struct{}),
	}

	s.loadPersistedModels()
	s.registerDefaultModels()

	if cfg.EnableMonitoring {
		s.wg.Add(1)
		go s.healthLoop()
	}

	return s, nil
}

// loadPersistedModels rehydrates the registry from the database catalog.
func (s *Service) loadPersistedModels() {
	if s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	persisted, err := s.db.ListModels(ctx)
	if err != nil {
		log.Printf("service: loading persisted models failed: %v", err)
		return
	}
	for _, m := range persisted {
		priority := m.Priority
		perf := m.Performance
		_, err := s.registry.Register(models.ModelConfig{
			ID:           m.ID,
			Name:         m.Name,
			Provider:     m.Provider,
			Endpoint:     m.Endpoint,
			Capabilities: m.Capabilities,
			Constraints:  m.Constraints,
			Pricing:      m.Pricing,
			Performance:  &perf,
			Priority:     &priority,
		})
		if err != nil {
			log.Printf("service: restoring model %s failed: %v", m.ID, err)
			continue
		}
		if !m.IsActive {
			s.registry.SetActive(m.ID, false)
		}
	}
	if len(persisted) > 0 {
		log.Printf("service: restored %d model(s) from catalog", len(persisted))
	}
}

// registerDefaultModels seeds the catalog for every provider with a
// configured API key, skipping ids already restored from the database.
func (s *Service) registerDefaultModels() {
	for _, cfg := range defaultModels(s.cfg) {
		if _, exists := s.registry.Get(cfg.ID); exists {
			continue
		}
		if _, err := s.registry.Register(cfg); err != nil {
			log.Printf("service: registering default model %s failed: %v", cfg.ID, err)
		}
	}
}

// RouteResponse is what RouteRequest hands back to transports.
type RouteResponse struct {
	Result   *models.ExecutionResult `json:"result"`
	Decision *models.RoutingDecision `json:"routing"`
}

// RouteRequest routes and executes one request. The decision is audited
// asynchronously; a failed audit write never fails the request.
func (s *Service) RouteRequest(ctx context.Context, req models.AIRequest) (*RouteResponse, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Metadata.Timestamp.IsZero() {
		req.Metadata.Timestamp = time.Now().UTC()
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("service: %w: unknown request type %q", models.ErrValidation, req.Type)
	}

	decision, err := s.engine.Route(ctx, req)
	if err != nil {
		return nil, err
	}

	result, execErr := s.engine.Execute(ctx, req, decision)
	s.auditDecision(req.Type, decision, result, execErr == nil)
	if execErr != nil {
		return nil, execErr
	}

	return &RouteResponse{Result: result, Decision: decision}, nil
}

// auditDecision appends the decision and its outcome to the audit table.
func (s *Service) auditDecision(reqType models.RequestType, decision *models.RoutingDecision, result *models.ExecutionResult, success bool) {
	if s.db == nil {
		return
	}

	rec := &database.DecisionRecord{
		Decision:    decision,
		RequestType: reqType,
		Success:     success,
	}
	if result != nil {
		rec.Attempts = result.Attempts
		rec.ActualLatencyMs = result.LatencyMs
		rec.ActualCostUSD = result.CostUSD
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.db.InsertDecision(ctx, rec); err != nil {
			log.Printf("service: recording decision %s failed: %v", decision.ID, err)
		}
	}()
}

// RegisterModel adds a model to the registry and persists it.
func (s *Service) RegisterModel(cfg models.ModelConfig) (*models.RegisteredModel, error) {
	m, err := s.registry.Register(cfg)
	if err != nil {
		return nil, err
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.db.UpsertModel(ctx, m); err != nil {
			log.Printf("service: persisting model %s failed: %v", m.ID, err)
		}
	}
	return m, nil
}

// UnregisterModel removes a model. Returns false when the id is unknown.
func (s *Service) UnregisterModel(id string) bool {
	ok := s.registry.Unregister(id)
	if !ok {
		return false
	}
	s.breakers.Remove(id)
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.db.DeleteModel(ctx, id); err != nil {
			log.Printf("service: deleting model %s failed: %v", id, err)
		}
	}
	return true
}

// Model returns one registered model.
func (s *Service) Model(id string) (*models.RegisteredModel, bool) {
	return s.registry.Get(id)
}

// Models returns every registered model.
func (s *Service) Models() []*models.RegisteredModel {
	return s.registry.AllModels()
}

// ModelHealth returns the health view for one model.
func (s *Service) ModelHealth(ctx context.Context, modelID string) (models.ModelHealth, bool) {
	if _, ok := s.registry.Get(modelID); !ok {
		return models.ModelHealth{}, false
	}
	return s.monitor.Health(ctx, modelID, healthWindow), true
}

// AllModelHealth returns the health view for every model with recorded
// metrics.
func (s *Service) AllModelHealth(ctx context.Context) []models.ModelHealth {
	return s.monitor.AllHealth(ctx, healthWindow)
}

// RoutingStats combines the engine counters, the registry summary and the
// breaker states.
type RoutingStats struct {
	Engine   engine.Stats             `json:"engine"`
	Registry models.RegistryStats     `json:"registry"`
	Health   engine.HealthSummary     `json:"health"`
	Breakers map[string]breaker.State `json:"breakers"`
}

// Stats returns the current routing statistics.
func (s *Service) Stats() RoutingStats {
	return RoutingStats{
		Engine:   s.engine.Stats(),
		Registry: s.registry.Stats(),
		Health:   s.engine.Health(),
		Breakers: s.breakers.States(),
	}
}

// ConfigUpdate carries a partial, hot-reloadable configuration change.
// Nil fields are left untouched.
type ConfigUpdate struct {
	RoutingStrategy     *config.RoutingStrategy `json:"routing_strategy,omitempty"`
	FallbackBehavior    *string                 `json:"fallback_behavior,omitempty"`
	MaxRetries          *int                    `json:"max_retries,omitempty"`
	EnableBreakers      *bool                   `json:"enable_circuit_breakers,omitempty"`
	EnableLoadBalancing *bool                   `json:"enable_load_balancing,omitempty"`
	EnableMonitoring    *bool                   `json:"enable_monitoring,omitempty"`
	EnableCostOptimize  *bool                   `json:"enable_cost_optimization,omitempty"`
}

// UpdateConfiguration hot-reloads the engine settings without a restart.
func (s *Service) UpdateConfiguration(update ConfigUpdate) error {
	settings := s.engine.Settings()

	if update.RoutingStrategy != nil {
		if !update.RoutingStrategy.Valid() {
			return fmt.Errorf("service: %w: unknown routing strategy %q", models.ErrValidation, *update.RoutingStrategy)
		}
		settings.Strategy = *update.RoutingStrategy
	}
	if update.FallbackBehavior != nil {
		fallback := models.FallbackStrategy(*update.FallbackBehavior)
		if !fallback.Valid() {
			return fmt.Errorf("service: %w: unknown fallback behavior %q", models.ErrValidation, *update.FallbackBehavior)
		}
		settings.Fallback = fallback
	}
	if update.MaxRetries != nil {
		if *update.MaxRetries < 0 {
			return fmt.Errorf("service: %w: max retries must be >= 0", models.ErrValidation)
		}
		settings.MaxRetries = *update.MaxRetries
	}
	if update.EnableBreakers != nil {
		settings.EnableBreakers = *update.EnableBreakers
	}
	if update.EnableLoadBalancing != nil {
		settings.EnableLoadBalancing = *update.EnableLoadBalancing
	}
	if update.EnableMonitoring != nil {
		settings.EnableMonitoring = *update.EnableMonitoring
	}
	if update.EnableCostOptimize != nil {
		settings.EnableCostOptimize = *update.EnableCostOptimize
	}

	s.engine.UpdateSettings(settings)
	return nil
}

// Shutdown stops background loops and flushes buffered metrics. No metric
// recorded before Shutdown is silently dropped.
func (s *Service) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.monitor.Close(ctx)
	log.Println("service: shut down, metrics flushed")
}

// healthLoop periodically polls the monitor and flips model availability
// in the registry.
func (s *Service) healthLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HealthCheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runHealthChecks()
		}
	}
}

// runHealthChecks evaluates every registered model against the monitor's
// thresholds and updates the registry.
func (s *Service) runHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, m := range s.registry.AllModels() {
		health := s.monitor.Health(ctx, m.ID, healthWindow)
		if health.IsHealthy != m.IsActive {
			if health.IsHealthy {
				log.Printf("service: model %s recovered, reactivating", m.ID)
			} else {
				log.Printf("service: model %s unhealthy (%v), deactivating", m.ID, health.Issues)
			}
			s.registry.SetActive(m.ID, health.IsHealthy)
		}
		if health.Performance != nil && health.Performance.TotalRequests > 0 {
			perf := health.Performance
			s.registry.UpdatePerformance(m.ID, models.PerformanceUpdate{
				AverageLatencyMs: &perf.AverageLatencyMs,
				Throughput:       &perf.Throughput,
				Availability:     &perf.Availability,
				ErrorRate:        &perf.ErrorRate,
			})
		}
	}
}
