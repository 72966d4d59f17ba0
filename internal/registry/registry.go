// Package registry implements the in-memory model catalog.
//
// The registry owns the set of backend models available for routing, their
// capabilities, constraints, and live performance snapshots. It maintains
// two derived indices (request type -> model ids, provider -> model ids)
// that are updated atomically with the model map on every insert and remove.
package registry

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

// Requirements filters candidate models before scoring. Zero values mean
// the corresponding constraint is not applied.
type Requirements struct {
	MaxLatencyMs         float64
	MinAccuracy          float64
	MaxCostUSD           float64 // against the type's capability at EstimatedTokens
	EstimatedTokens      int
	RequiredCapabilities []string // must be a subset of a capability's specializations
	ExcludeProviders     []models.Provider
	ExcludeModels        []string
}

// Registry is the thread-safe model catalog.
type Registry struct {
	mu              sync.RWMutex
	models          map[string]*models.RegisteredModel
	capabilityIndex map[models.RequestType]map[string]struct{}
	providerIndex   map[models.Provider]map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		models:          make(map[string]*models.RegisteredModel),
		capabilityIndex: make(map[models.RequestType]map[string]struct{}),
		providerIndex:   make(map[models.Provider]map[string]struct{}),
	}
}

// Register validates the config and inserts the model with a default
// performance snapshot. Returns a validation error (wrapping
// models.ErrValidation) listing every violated constraint.
func (r *Registry) Register(cfg models.ModelConfig) (*models.RegisteredModel, error) {
	if errs := validateModelConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(errs, "; "))
	}

	priority := 50
	if cfg.Priority != nil {
		priority = *cfg.Priority
	}

	perf := models.ModelPerformance{Availability: 1}
	if cfg.Performance != nil {
		perf = *cfg.Performance
	}

	now := time.Now().UTC()
	m := &models.RegisteredModel{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Provider:     cfg.Provider,
		Endpoint:     cfg.Endpoint,
		Capabilities: cfg.Capabilities,
		Constraints:  cfg.Constraints,
		Pricing:      cfg.Pricing,
		Performance:  perf,
		IsActive:     true,
		Priority:     priority,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.ID]; exists {
		return nil, fmt.Errorf("%w: model %q already registered", models.ErrValidation, m.ID)
	}

	r.models[m.ID] = m
	for _, cap := range m.Capabilities {
		idx, ok := r.capabilityIndex[cap.RequestType]
		if !ok {
			idx = make(map[string]struct{})
			r.capabilityIndex[cap.RequestType] = idx
		}
		idx[m.ID] = struct{}{}
	}
	pidx, ok := r.providerIndex[m.Provider]
	if !ok {
		pidx = make(map[string]struct{})
		r.providerIndex[m.Provider] = pidx
	}
	pidx[m.ID] = struct{}{}

	log.Printf("registry: registered model %s (%s/%s, %d capabilities)", m.ID, m.Provider, m.Name, len(m.Capabilities))
	return snapshot(m), nil
}

// Unregister removes a model and purges both indices. Returns false if the
// id is unknown; never an error.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		return false
	}

	delete(r.models, id)
	for _, cap := range m.Capabilities {
		if idx, ok := r.capabilityIndex[cap.RequestType]; ok {
			delete(idx, id)
			if len(idx) == 0 {
				delete(r.capabilityIndex, cap.RequestType)
			}
		}
	}
	if pidx, ok := r.providerIndex[m.Provider]; ok {
		delete(pidx, id)
		if len(pidx) == 0 {
			delete(r.providerIndex, m.Provider)
		}
	}

	log.Printf("registry: unregistered model %s", id)
	return true
}

// Get returns a snapshot of the model, or false if unknown.
func (r *Registry) Get(id string) (*models.RegisteredModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, false
	}
	return snapshot(m), true
}

// ModelsForRequestType returns snapshots of the active models whose
// capability list contains the given type.
func (r *Registry) ModelsForRequestType(t models.RequestType) []*models.RegisteredModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.RegisteredModel
	for id := range r.capabilityIndex[t] {
		m := r.models[id]
		if m != nil && m.IsActive {
			out = append(out, snapshot(m))
		}
	}
	return out
}

// ActiveModels returns snapshots of every active model.
func (r *Registry) ActiveModels() []*models.RegisteredModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.RegisteredModel
	for _, m := range r.models {
		if m.IsActive {
			out = append(out, snapshot(m))
		}
	}
	return out
}

// AllModels returns snapshots of every registered model, active or not.
func (r *Registry) AllModels() []*models.RegisteredModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.RegisteredModel, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, snapshot(m))
	}
	return out
}

// UpdatePerformance merges the non-nil fields of the update into the
// model's performance snapshot. Unknown ids are a no-op with a warning.
func (r *Registry) UpdatePerformance(id string, update models.PerformanceUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		log.Printf("registry: performance update for unknown model %q ignored", id)
		return
	}

	if update.AverageLatencyMs != nil {
		m.Performance.AverageLatencyMs = *update.AverageLatencyMs
	}
	if update.Throughput != nil {
		m.Performance.Throughput = *update.Throughput
	}
	if update.Accuracy != nil {
		m.Performance.Accuracy = *update.Accuracy
	}
	if update.Availability != nil {
		m.Performance.Availability = *update.Availability
	}
	if update.ErrorRate != nil {
		m.Performance.ErrorRate = *update.ErrorRate
	}
	m.UpdatedAt = time.Now().UTC()
}

// SetActive toggles health gating for a model. Unknown ids are a no-op
// with a warning.
func (r *Registry) SetActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		log.Printf("registry: SetActive for unknown model %q ignored", id)
		return
	}
	if m.IsActive != active {
		log.Printf("registry: model %s active=%t", id, active)
	}
	m.IsActive = active
	m.UpdatedAt = time.Now().UTC()
}

// FindBestForRequest filters active candidates for the request type by the
// hard requirements, then sorts them descending by composite score.
// Scoring only orders among valid candidates; it never admits a model that
// failed a hard constraint.
func (r *Registry) FindBestForRequest(t models.RequestType, req Requirements) []*models.RegisteredModel {
	r.mu.RLock()
	candidates := make([]*models.RegisteredModel, 0, len(r.capabilityIndex[t]))
	for id := range r.capabilityIndex[t] {
		m := r.models[id]
		if m == nil || !m.IsActive {
			continue
		}
		cap, ok := m.Capability(t)
		if !ok {
			continue
		}
		if meetsRequirements(m, cap, req) {
			candidates = append(candidates, snapshot(m))
		}
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		si := CompositeScore(candidates[i], t)
		sj := CompositeScore(candidates[j], t)
		if si != sj {
			return si > sj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// CompositeScore ranks a model for a request type. Reliability and
// availability dominate; operator priority is a minor tiebreak; latency
// above 1s is progressively penalized without a hard cutoff.
func CompositeScore(m *models.RegisteredModel, t models.RequestType) float64 {
	quality := 0.0
	if cap, ok := m.Capability(t); ok {
		quality = cap.QualityScore
	}

	score := 0.3*(1-m.Performance.ErrorRate) +
		0.2*m.Performance.Availability +
		0.2*m.Performance.Accuracy +
		0.2*quality +
		0.1*(float64(m.Priority)/100)

	penalty := math.Max(0, (m.Performance.AverageLatencyMs-1000)/10000)
	return score - penalty
}

// Stats returns aggregate counts and averages for observability.
func (r *Registry) Stats() models.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.RegistryStats{
		TotalModels:   len(r.models),
		ByProvider:    make(map[models.Provider]int),
		ByRequestType: make(map[models.RequestType]int),
	}

	for t, idx := range r.capabilityIndex {
		stats.ByRequestType[t] = len(idx)
	}
	for p, idx := range r.providerIndex {
		stats.ByProvider[p] = len(idx)
	}

	var availability, errorRate, latency float64
	for _, m := range r.models {
		if m.IsActive {
			stats.ActiveModels++
		}
		availability += m.Performance.Availability
		errorRate += m.Performance.ErrorRate
		latency += m.Performance.AverageLatencyMs
	}
	if n := float64(len(r.models)); n > 0 {
		stats.AvgAvailability = availability / n
		stats.AvgErrorRate = errorRate / n
		stats.AvgLatencyMs = latency / n
	}
	return stats
}

// meetsRequirements applies the hard candidate filters. Called with the
// registry lock held.
func meetsRequirements(m *models.RegisteredModel, cap models.ModelCapability, req Requirements) bool {
	if req.MaxLatencyMs > 0 && m.Performance.AverageLatencyMs > 0 && m.Performance.AverageLatencyMs > req.MaxLatencyMs {
		return false
	}
	if req.MinAccuracy > 0 && m.Performance.Accuracy < req.MinAccuracy {
		return false
	}
	if req.MaxCostUSD > 0 && req.EstimatedTokens > 0 {
		estimated := float64(req.EstimatedTokens) / 1_000_000.0 * (m.Pricing.InputPerMToken + m.Pricing.OutputPerMToken)
		if estimated > req.MaxCostUSD {
			return false
		}
	}
	for _, needed := range req.RequiredCapabilities {
		if !containsFold(cap.Specializations, needed) {
			return false
		}
	}
	for _, p := range req.ExcludeProviders {
		if m.Provider == p {
			return false
		}
	}
	for _, id := range req.ExcludeModels {
		if m.ID == id {
			return false
		}
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// validateModelConfig collects every violated constraint so the caller can
// fix them all at once.
func validateModelConfig(cfg models.ModelConfig) []string {
	var errs []string

	if cfg.ID == "" {
		errs = append(errs, "id is required")
	}
	if cfg.Name == "" {
		errs = append(errs, "name is required")
	}
	if cfg.Provider == "" {
		errs = append(errs, "provider is required")
	}
	if cfg.Endpoint == "" {
		errs = append(errs, "endpoint is required")
	}
	if len(cfg.Capabilities) == 0 {
		errs = append(errs, "at least one capability is required")
	}
	for i, cap := range cfg.Capabilities {
		if !cap.RequestType.Valid() {
			errs = append(errs, fmt.Sprintf("capabilities[%d]: unknown request type %q", i, cap.RequestType))
		}
		if cap.QualityScore < 0 || cap.QualityScore > 1 {
			errs = append(errs, fmt.Sprintf("capabilities[%d]: quality score %.2f outside [0,1]", i, cap.QualityScore))
		}
		if cap.MaxTokens < 0 {
			errs = append(errs, fmt.Sprintf("capabilities[%d]: max tokens must be >= 0", i))
		}
	}
	if cfg.Constraints.MaxConcurrent < 0 {
		errs = append(errs, "constraints: max concurrent must be >= 0")
	}
	if cfg.Constraints.RateLimitPerMinute < 0 {
		errs = append(errs, "constraints: rate limit per minute must be >= 0")
	}
	if cfg.Priority != nil && (*cfg.Priority < 0 || *cfg.Priority > 100) {
		errs = append(errs, fmt.Sprintf("priority %d outside [0,100]", *cfg.Priority))
	}
	return errs
}

// snapshot copies a model so callers never alias registry-owned state.
func snapshot(m *models.RegisteredModel) *models.RegisteredModel {
	cp := *m
	cp.Capabilities = append([]models.ModelCapability(nil), m.Capabilities...)
	return &cp
}
