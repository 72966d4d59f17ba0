package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

// UpsertModel stores or refreshes a registered model so the catalog
// survives restarts.
func (db *DB) UpsertModel(ctx context.Context, m *models.RegisteredModel) error {
	capabilities, err := json.Marshal(m.Capabilities)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}
	constraints, err := json.Marshal(m.Constraints)
	if err != nil {
		return fmt.Errorf("marshaling constraints: %w", err)
	}
	pricing, err := json.Marshal(m.Pricing)
	if err != nil {
		return fmt.Errorf("marshaling pricing: %w", err)
	}
	performance, err := json.Marshal(m.Performance)
	if err != nil {
		return fmt.Errorf("marshaling performance: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO registered_models (
			id, name, provider, endpoint, capabilities, constraints,
			pricing, performance, priority, is_active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    provider = EXCLUDED.provider,
		    endpoint = EXCLUDED.endpoint,
		    capabilities = EXCLUDED.capabilities,
		    constraints = EXCLUDED.constraints,
		    pricing = EXCLUDED.pricing,
		    performance = EXCLUDED.performance,
		    priority = EXCLUDED.priority,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
	`, m.ID, m.Name, string(m.Provider), m.Endpoint, capabilities, constraints,
		pricing, performance, m.Priority, m.IsActive, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting model %s: %w", m.ID, err)
	}
	return nil
}

// DeleteModel removes a model from the catalog.
func (db *DB) DeleteModel(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM registered_models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting model %s: %w", id, err)
	}
	return nil
}

// ListModels loads the persisted model catalog, used to rehydrate the
// registry at startup.
func (db *DB) ListModels(ctx context.Context) ([]*models.RegisteredModel, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, provider, endpoint, capabilities, constraints,
		       pricing, performance, priority, is_active, created_at, updated_at
		FROM registered_models ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying models: %w", err)
	}
	defer rows.Close()

	var results []*models.RegisteredModel
	for rows.Next() {
		var m models.RegisteredModel
		var provider string
		var capabilities, constraints, pricing, performance []byte
		if err := rows.Scan(
			&m.ID, &m.Name, &provider, &m.Endpoint, &capabilities, &constraints,
			&pricing, &performance, &m.Priority, &m.IsActive, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning model: %w", err)
		}
		m.Provider = models.Provider(provider)
		if err := json.Unmarshal(capabilities, &m.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshaling capabilities for %s: %w", m.ID, err)
		}
		if err := json.Unmarshal(constraints, &m.Constraints); err != nil {
			return nil, fmt.Errorf("unmarshaling constraints for %s: %w", m.ID, err)
		}
		if err := json.Unmarshal(pricing, &m.Pricing); err != nil {
			return nil, fmt.Errorf("unmarshaling pricing for %s: %w", m.ID, err)
		}
		if err := json.Unmarshal(performance, &m.Performance); err != nil {
			return nil, fmt.Errorf("unmarshaling performance for %s: %w", m.ID, err)
		}
		results = append(results, &m)
	}
	return results, rows.Err()
}

// DecisionRecord is one audit row: the decision plus its execution outcome.
type DecisionRecord struct {
	Decision        *models.RoutingDecision
	RequestType     models.RequestType
	Success         bool
	Attempts        int
	ActualLatencyMs float64
	ActualCostUSD   float64
}

// InsertDecision appends a routing decision to the audit log.
func (db *DB) InsertDecision(ctx context.Context, rec *DecisionRecord) error {
	d := rec.Decision

	alternatives := make([]string, 0, len(d.AlternativeModels))
	for _, alt := range d.AlternativeModels {
		alternatives = append(alternatives, alt.ID)
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO routing_decisions (
			id, request_id, request_type, selected_model, alternatives,
			confidence, reasoning, estimated_latency_ms, estimated_cost_usd,
			fallback_strategy, success, attempts, actual_latency_ms,
			actual_cost_usd, decided_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, d.ID, d.RequestID, string(rec.RequestType), d.SelectedModel.ID, alternatives,
		d.Confidence, d.Reasoning, d.EstimatedLatencyMs, d.EstimatedCostUSD,
		string(d.Fallback), rec.Success, rec.Attempts, rec.ActualLatencyMs,
		rec.ActualCostUSD, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("inserting decision %s: %w", d.ID, err)
	}
	return nil
}

// UsageSummary aggregates routed traffic per model over a time range.
type UsageSummary struct {
	ModelID       string  `json:"model_id"`
	TotalRequests int64   `json:"total_requests"`
	Successful    int64   `json:"successful"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// GetUsageSummary returns per-model decision aggregates for the stats
// endpoint.
func (db *DB) GetUsageSummary(ctx context.Context, from, to time.Time) ([]UsageSummary, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT
			selected_model,
			COUNT(*) AS total_requests,
			COUNT(*) FILTER (WHERE success) AS successful,
			COALESCE(AVG(actual_latency_ms), 0) AS avg_latency_ms,
			COALESCE(SUM(actual_cost_usd), 0) AS total_cost_usd,
			COALESCE(AVG(confidence), 0) AS avg_confidence
		FROM routing_decisions
		WHERE decided_at >= $1 AND decided_at <= $2
		GROUP BY selected_model
		ORDER BY total_requests DESC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying usage summary: %w", err)
	}
	defer rows.Close()

	var results []UsageSummary
	for rows.Next() {
		var s UsageSummary
		if err := rows.Scan(
			&s.ModelID, &s.TotalRequests, &s.Successful,
			&s.AvgLatencyMs, &s.TotalCostUSD, &s.AvgConfidence,
		); err != nil {
			return nil, fmt.Errorf("scanning usage summary: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// GetRecentDecisions returns the most recent N routing decisions.
func (db *DB) GetRecentDecisions(ctx context.Context, limit int) ([]DecisionRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, request_id, request_type, selected_model, alternatives,
		       confidence, fallback_strategy, success, attempts,
		       actual_latency_ms, actual_cost_usd, decided_at
		FROM routing_decisions ORDER BY decided_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent decisions: %w", err)
	}
	defer rows.Close()

	var results []DecisionRow
	for rows.Next() {
		var r DecisionRow
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.RequestType, &r.SelectedModel, &r.Alternatives,
			&r.Confidence, &r.FallbackStrategy, &r.Success, &r.Attempts,
			&r.ActualLatencyMs, &r.ActualCostUSD, &r.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DecisionRow is a flattened audit row for read endpoints.
type DecisionRow struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id"`
	RequestType      string    `json:"request_type"`
	SelectedModel    string    `json:"selected_model"`
	Alternatives     []string  `json:"alternatives"`
	Confidence       float64   `json:"confidence"`
	FallbackStrategy string    `json:"fallback_strategy"`
	Success          bool      `json:"success"`
	Attempts         int       `json:"attempts"`
	ActualLatencyMs  float64   `json:"actual_latency_ms"`
	ActualCostUSD    float64   `json:"actual_cost_usd"`
	DecidedAt        time.Time `json:"decided_at"`
}
