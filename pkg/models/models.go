// Package models defines the core data structures used across Arbiter.
package models

import (
	"errors"
	"time"
)

// Provider identifies a backend model provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderLocal     Provider = "local"
	ProviderCustom    Provider = "custom"
)

// RequestType categorizes an inbound AI request.
type RequestType string

const (
	TypeTextGeneration     RequestType = "TEXT_GENERATION"
	TypeCodeGeneration     RequestType = "CODE_GENERATION"
	TypeImageAnalysis      RequestType = "IMAGE_ANALYSIS"
	TypeAudioTranscription RequestType = "AUDIO_TRANSCRIPTION"
	TypeTranslation        RequestType = "TRANSLATION"
	TypeSummarization      RequestType = "SUMMARIZATION"
	TypeQuestionAnswering  RequestType = "QUESTION_ANSWERING"
)

// AllRequestTypes lists every supported request type. Lookup tables keyed by
// RequestType are validated against this list in tests so a new type cannot
// be added without covering every table.
var AllRequestTypes = []RequestType{
	TypeTextGeneration,
	TypeCodeGeneration,
	TypeImageAnalysis,
	TypeAudioTranscription,
	TypeTranslation,
	TypeSummarization,
	TypeQuestionAnswering,
}

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	for _, known := range AllRequestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Sentinel errors for the routing error taxonomy. Callers distinguish them
// with errors.Is.
var (
	// ErrValidation marks a malformed model config or request, rejected
	// before any state mutation.
	ErrValidation = errors.New("validation failed")

	// ErrNoCandidates means no active model satisfies the request's type
	// and constraints. Not retried internally.
	ErrNoCandidates = errors.New("no candidate models")

	// ErrRetriesExhausted means every execution attempt across the selected
	// model and its alternatives failed.
	ErrRetriesExhausted = errors.New("all attempts exhausted")
)

// ModelCapability declares that a model can serve one request type.
type ModelCapability struct {
	RequestType        RequestType `json:"request_type"`
	MaxTokens          int         `json:"max_tokens"`
	SupportedLanguages []string    `json:"supported_languages,omitempty"`
	Specializations    []string    `json:"specializations,omitempty"`
	QualityScore       float64     `json:"quality_score"` // 0.0-1.0
}

// ModelConstraints captures operational limits declared by a model.
type ModelConstraints struct {
	MaxConcurrent      int               `json:"max_concurrent"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute"`
	MaxRequestSize     int               `json:"max_request_size"`
	RequiredHeaders    map[string]string `json:"required_headers,omitempty"`
	SupportedFormats   []string          `json:"supported_formats,omitempty"`
}

// ModelPricing defines the cost per token for a model.
type ModelPricing struct {
	InputPerMToken  float64 `json:"input_per_m_token"`  // Cost per 1M input tokens
	OutputPerMToken float64 `json:"output_per_m_token"` // Cost per 1M output tokens
	Currency        string  `json:"currency"`
}

// ModelPerformance is the live, continuously updated performance snapshot
// for a model. Owned by the registry; updated from execution feedback and
// health checks.
type ModelPerformance struct {
	AverageLatencyMs float64 `json:"average_latency_ms"`
	Throughput       float64 `json:"throughput"` // requests per second
	Accuracy         float64 `json:"accuracy"`   // 0.0-1.0
	Availability     float64 `json:"availability"`
	ErrorRate        float64 `json:"error_rate"`
}

// PerformanceUpdate carries a partial performance merge. Nil fields are
// left untouched.
type PerformanceUpdate struct {
	AverageLatencyMs *float64 `json:"average_latency_ms,omitempty"`
	Throughput       *float64 `json:"throughput,omitempty"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	Availability     *float64 `json:"availability,omitempty"`
	ErrorRate        *float64 `json:"error_rate,omitempty"`
}

// ModelConfig is the caller-supplied registration payload for a model.
type ModelConfig struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Provider     Provider          `json:"provider"`
	Endpoint     string            `json:"endpoint"`
	Capabilities []ModelCapability `json:"capabilities"`
	Constraints  ModelConstraints  `json:"constraints"`
	Pricing      ModelPricing      `json:"pricing"`
	Performance  *ModelPerformance `json:"performance,omitempty"` // static baseline, optional
	Priority     *int              `json:"priority,omitempty"`    // 0-100, default 50
}

// RegisteredModel is a backend model the router can dispatch to.
type RegisteredModel struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Provider     Provider          `json:"provider"`
	Endpoint     string            `json:"endpoint"`
	Capabilities []ModelCapability `json:"capabilities"`
	Constraints  ModelConstraints  `json:"constraints"`
	Pricing      ModelPricing      `json:"pricing"`
	Performance  ModelPerformance  `json:"performance"`
	IsActive     bool              `json:"is_active"`
	Priority     int               `json:"priority"` // 0-100 operator-assigned weight
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Capability returns the model's capability entry for the given request
// type, or false if the model does not declare it.
func (m *RegisteredModel) Capability(t RequestType) (ModelCapability, bool) {
	for _, cap := range m.Capabilities {
		if cap.RequestType == t {
			return cap, true
		}
	}
	return ModelCapability{}, false
}

// RequestPriority is the caller-declared priority of a request.
type RequestPriority string

const (
	PriorityLow    RequestPriority = "low"
	PriorityMedium RequestPriority = "medium"
	PriorityHigh   RequestPriority = "high"
)

// RequestMetadata carries routing hints attached to a request.
type RequestMetadata struct {
	Priority             RequestPriority `json:"priority,omitempty"`
	MaxLatencyMs         float64         `json:"max_latency_ms,omitempty"`
	MaxCostUSD           float64         `json:"max_cost_usd,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
}

// AIRequest is an immutable inbound request. Created once per call and
// never mutated afterwards.
type AIRequest struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Type        RequestType       `json:"type"`
	Context     *RequestContext   `json:"context,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Metadata    RequestMetadata   `json:"metadata"`
}

// ConversationTurn is one prior exchange in a conversation.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TimeConstraints bounds how long a request may take.
type TimeConstraints struct {
	MaxLatencyMs float64    `json:"max_latency_ms,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

// RequestContext is optional caller-supplied context. Read-only to the
// router.
type RequestContext struct {
	UserID              string             `json:"user_id,omitempty"`
	SessionID           string             `json:"session_id,omitempty"`
	ConversationHistory []ConversationTurn `json:"conversation_history,omitempty"`
	PreferredModels     []string           `json:"preferred_models,omitempty"`
	WorkspaceID         string             `json:"workspace_id,omitempty"`
	PreviousRequestIDs  []string           `json:"previous_request_ids,omitempty"`
	TimeConstraints     *TimeConstraints   `json:"time_constraints,omitempty"`
}

// ComplexityLevel buckets the assessed complexity of a request.
type ComplexityLevel string

const (
	ComplexityLow    ComplexityLevel = "low"
	ComplexityMedium ComplexityLevel = "medium"
	ComplexityHigh   ComplexityLevel = "high"
)

// UrgencyLevel buckets how time-sensitive a request is.
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyHigh   UrgencyLevel = "high"
)

// ResourceRequirements estimates the relative resources a request needs.
type ResourceRequirements struct {
	Memory    float64 `json:"memory"`
	Compute   float64 `json:"compute"`
	Bandwidth float64 `json:"bandwidth"`
}

// QualityRequirements captures how much each quality dimension matters for
// a request, each in [0,1].
type QualityRequirements struct {
	Accuracy   float64 `json:"accuracy"`
	Creativity float64 `json:"creativity"`
	Factuality float64 `json:"factuality"`
}

// RequestAnalysis is the analyzer's derived view of one request. Recomputed
// per request, never persisted.
type RequestAnalysis struct {
	Complexity           ComplexityLevel      `json:"complexity"`
	EstimatedTokens      int                  `json:"estimated_tokens"`
	RequiredCapabilities []string             `json:"required_capabilities"`
	PreferredModels      []string             `json:"preferred_models,omitempty"`
	Urgency              UrgencyLevel         `json:"urgency"`
	Resources            ResourceRequirements `json:"resources"`
	ContextSize          int                  `json:"context_size"`
	ExpectedLatencyMs    float64              `json:"expected_latency_ms"`
	Quality              QualityRequirements  `json:"quality"`
}

// FallbackStrategy picks what Execute does after a failed attempt.
type FallbackStrategy string

const (
	FallbackRetry       FallbackStrategy = "retry"
	FallbackAlternative FallbackStrategy = "alternative"
	FallbackQueue       FallbackStrategy = "queue"
	FallbackFail        FallbackStrategy = "fail"
)

// Valid reports whether f is a recognized fallback strategy.
func (f FallbackStrategy) Valid() bool {
	switch f {
	case FallbackRetry, FallbackAlternative, FallbackQueue, FallbackFail:
		return true
	}
	return false
}

// RoutingDecision is the output of one routing call. Transient; logged for
// audit but not authoritative state.
type RoutingDecision struct {
	ID                 string             `json:"id"`
	RequestID          string             `json:"request_id"`
	SelectedModel      *RegisteredModel   `json:"selected_model"`
	AlternativeModels  []*RegisteredModel `json:"alternative_models,omitempty"`
	Confidence         float64            `json:"confidence"` // 0.0-1.0
	Reasoning          []string           `json:"reasoning"`
	EstimatedLatencyMs float64            `json:"estimated_latency_ms"`
	EstimatedCostUSD   float64            `json:"estimated_cost_usd"`
	Fallback           FallbackStrategy   `json:"fallback_strategy"`
	Analysis           *RequestAnalysis   `json:"analysis,omitempty"`
	DecidedAt          time.Time          `json:"decided_at"`
}

// PerformanceMetric is one per-request observation, buffered and flushed
// to the time-series store in batches.
type PerformanceMetric struct {
	ModelID      string    `json:"model_id"`
	Timestamp    time.Time `json:"timestamp"`
	LatencyMs    float64   `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorType    string    `json:"error_type,omitempty"`
	RequestSize  int       `json:"request_size"`
	ResponseSize int       `json:"response_size"`
	CostUSD      float64   `json:"cost_usd"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
}

// AggregatedMetrics is a windowed rollup derived from a model's metric
// series. Recomputed on read.
type AggregatedMetrics struct {
	ModelID            string        `json:"model_id"`
	Window             time.Duration `json:"window"`
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	AverageLatencyMs   float64       `json:"average_latency_ms"`
	P95LatencyMs       float64       `json:"p95_latency_ms"`
	P99LatencyMs       float64       `json:"p99_latency_ms"`
	ErrorRate          float64       `json:"error_rate"`
	Throughput         float64       `json:"throughput"` // requests per second
	TotalCostUSD       float64       `json:"total_cost_usd"`
	AverageAccuracy    float64       `json:"average_accuracy"`
	Availability       float64       `json:"availability"`
}

// ModelHealth is the monitor's threshold-derived health view of one model.
type ModelHealth struct {
	ModelID     string             `json:"model_id"`
	IsHealthy   bool               `json:"is_healthy"`
	Issues      []string           `json:"issues,omitempty"`
	Performance *AggregatedMetrics `json:"performance,omitempty"`
	CheckedAt   time.Time          `json:"checked_at"`
}

// RegistryStats summarizes the registry for observability endpoints.
type RegistryStats struct {
	TotalModels     int                 `json:"total_models"`
	ActiveModels    int                 `json:"active_models"`
	ByProvider      map[Provider]int    `json:"by_provider"`
	ByRequestType   map[RequestType]int `json:"by_request_type"`
	AvgAvailability float64             `json:"avg_availability"`
	AvgErrorRate    float64             `json:"avg_error_rate"`
	AvgLatencyMs    float64             `json:"avg_latency_ms"`
}

// ExecutionResult is what a model invocation returns to the caller.
type ExecutionResult struct {
	RequestID    string    `json:"request_id"`
	ModelID      string    `json:"model_id"`
	Content      string    `json:"content"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	LatencyMs    float64   `json:"latency_ms"`
	CostUSD      float64   `json:"cost_usd"`
	Attempts     int       `json:"attempts"`
	FallbackUsed bool      `json:"fallback_used"`
	CompletedAt  time.Time `json:"completed_at"`
}
