// Package analyzer implements the stateless request analyzer.
//
// The analyzer turns an inbound request (plus optional conversation
// context) into a RequestAnalysis: complexity, token estimate, required
// capabilities, urgency, resource needs, expected latency, and quality
// requirements. It is pure heuristics over the request content; it holds
// no state and never fails; an internal problem yields a fixed default
// analysis instead of an error.
package analyzer

import (
	"log"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

const (
	maxEstimatedTokens = 32000
	maxExpectedLatency = 30000 // ms
	historyTokenCap    = 4000
	tokensPerPrevious  = 50
	tokenBuffer        = 200
)

// Analyzer derives a RequestAnalysis from a request.
type Analyzer struct{}

// New creates an Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze computes the full analysis for one request. It never returns an
// error; unexpected internal failures degrade to DefaultAnalysis.
func (a *Analyzer) Analyze(req models.AIRequest, ctx *models.RequestContext) (analysis models.RequestAnalysis) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("analyzer: analysis of request %s panicked (%v), using defaults", req.ID, r)
			analysis = DefaultAnalysis()
		}
	}()

	content := req.Content
	lower := strings.ToLower(content)

	complexity := assessComplexity(req.Type, content, lower)
	tokens := estimateTokens(content, ctx)
	capabilities := detectCapabilities(req.Type, content, lower)
	urgency := assessUrgency(req, ctx, lower)

	analysis = models.RequestAnalysis{
		Complexity:           complexity,
		EstimatedTokens:      tokens,
		RequiredCapabilities: capabilities,
		PreferredModels:      preferredModels(req.Type, complexity, capabilities, ctx),
		Urgency:              urgency,
		Resources:            resourceRequirements(req.Type, complexity, tokens),
		ContextSize:          contextSize(ctx),
		ExpectedLatencyMs:    expectedLatency(req.Type, complexity, tokens),
		Quality:              qualityRequirements(req.Type, lower),
	}
	return analysis
}

// DefaultAnalysis is the fixed fallback used when analysis fails.
func DefaultAnalysis() models.RequestAnalysis {
	return models.RequestAnalysis{
		Complexity:           models.ComplexityMedium,
		EstimatedTokens:      1000,
		RequiredCapabilities: []string{"text-generation"},
		Urgency:              models.UrgencyMedium,
		Resources:            models.ResourceRequirements{Memory: 2, Compute: 2, Bandwidth: 1},
		ExpectedLatencyMs:    1500,
		Quality:              models.QualityRequirements{Accuracy: 0.8, Creativity: 0.5, Factuality: 0.8},
	}
}

// ---- complexity ----

var (
	complexityRaisers = regexp.MustCompile(`(?i)\b(analyze|compare|evaluate|synthesize|critique|architect|optimi[sz]e|refactor|prove|derive|comprehensive|in depth|step[ -]by[ -]step)\b`)
	simplicityMarkers = regexp.MustCompile(`(?i)\b(hello|hi|thanks|yes|no|what is|define|list|name)\b`)
	algorithmMarkers  = regexp.MustCompile(`(?i)\b(algorithm|recursion|dynamic programming|complexity|big[- ]o|data structure|detailed|thorough)\b`)
	jargonMarkers     = regexp.MustCompile(`(?i)\b(kubernetes|microservice|distributed|concurrenc\w*|asynchronous|idempotent|transaction|serialization|encryption|neural|gradient|tensor)\b`)
)

// complexityBase is the per-type starting score. Exhaustive over
// models.AllRequestTypes (checked in tests).
var complexityBase = map[models.RequestType]int{
	models.TypeTextGeneration:     2,
	models.TypeCodeGeneration:     3,
	models.TypeImageAnalysis:      3,
	models.TypeAudioTranscription: 2,
	models.TypeTranslation:        2,
	models.TypeSummarization:      2,
	models.TypeQuestionAnswering:  2,
}

func assessComplexity(t models.RequestType, content, lower string) models.ComplexityLevel {
	score := complexityBase[t]

	switch {
	case len(content) > 5000:
		score += 2
	case len(content) > 1000:
		score++
	}

	if complexityRaisers.MatchString(content) {
		score += 2
	}
	if simplicityMarkers.MatchString(content) && len(content) < 400 {
		score--
	}
	if jargon := len(jargonMarkers.FindAllString(lower, 3)); jargon > 2 {
		score += 2
	} else {
		score += jargon
	}
	if algorithmMarkers.MatchString(content) {
		score++
	}

	switch {
	case score >= 6:
		return models.ComplexityHigh
	case score >= 3:
		return models.ComplexityMedium
	default:
		return models.ComplexityLow
	}
}

// ---- token estimate ----

// estimateTokens uses the ~4 characters per token heuristic plus
// conversation overhead, capped at the context ceiling.
func estimateTokens(content string, ctx *models.RequestContext) int {
	tokens := len(content) / 4

	if ctx != nil {
		historyTokens := 0
		for _, turn := range ctx.ConversationHistory {
			historyTokens += len(turn.Content) / 4
		}
		if historyTokens > historyTokenCap {
			historyTokens = historyTokenCap
		}
		tokens += historyTokens
		tokens += tokensPerPrevious * len(ctx.PreviousRequestIDs)
	}

	tokens += tokenBuffer
	if tokens > maxEstimatedTokens {
		tokens = maxEstimatedTokens
	}
	return tokens
}

// ---- required capabilities ----

// typeCapabilities is the per-type base capability set. Exhaustive over
// models.AllRequestTypes (checked in tests).
var typeCapabilities = map[models.RequestType][]string{
	models.TypeTextGeneration:     {"text-generation"},
	models.TypeCodeGeneration:     {"code-generation", "text-generation"},
	models.TypeImageAnalysis:      {"vision"},
	models.TypeAudioTranscription: {"audio"},
	models.TypeTranslation:        {"translation", "multilingual"},
	models.TypeSummarization:      {"summarization", "text-generation"},
	models.TypeQuestionAnswering:  {"question-answering", "text-generation"},
}

var capabilityPatterns = []struct {
	pattern    *regexp.Regexp
	capability string
}{
	{regexp.MustCompile(`(?i)\b(poem|story|creative|imagine|fiction|lyrics)\b`), "creative-writing"},
	{regexp.MustCompile(`(?i)\b(function|class|implement|compile|debug|refactor|unit test)\b`), "code-generation"},
	{regexp.MustCompile(`(?i)\b(translate|translation)\b`), "translation"},
	{regexp.MustCompile(`(?i)\b(summari[sz]e|tl;?dr|condense)\b`), "summarization"},
	{regexp.MustCompile(`(?i)\b(analy[sz]e|examine|assess|investigate)\b`), "analysis"},
	{regexp.MustCompile(`(?i)\b(reason|logic|deduce|step[ -]by[ -]step)\b`), "reasoning"},
}

var programmingLanguages = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"go", regexp.MustCompile(`\b(func |goroutine|package main|chan )\b`)},
	{"python", regexp.MustCompile(`\b(def |import numpy|pandas|__init__|pip install)\b`)},
	{"javascript", regexp.MustCompile(`\b(const |=> |async function|npm |node\.js)\b`)},
	{"java", regexp.MustCompile(`\b(public class|public static void|maven|spring boot)\b`)},
	{"rust", regexp.MustCompile(`\b(fn main|let mut|cargo |impl )\b`)},
	{"sql", regexp.MustCompile(`(?i)\b(select .+ from|insert into|create table)\b`)},
}

var domainMarkers = []struct {
	domain  string
	pattern *regexp.Regexp
}{
	{"medical", regexp.MustCompile(`(?i)\b(diagnos\w+|symptom|patient|clinical|dosage|prescription)\b`)},
	{"legal", regexp.MustCompile(`(?i)\b(contract|liability|statute|plaintiff|jurisdiction|compliance)\b`)},
	{"financial", regexp.MustCompile(`(?i)\b(portfolio|interest rate|equity|derivative|balance sheet|valuation)\b`)},
	{"technical", regexp.MustCompile(`(?i)\b(server|database|deployment|infrastructure|api|latency)\b`)},
	{"scientific", regexp.MustCompile(`(?i)\b(hypothesis|experiment|peer[ -]review|molecule|quantum|genome)\b`)},
	{"educational", regexp.MustCompile(`(?i)\b(lesson|curriculum|homework|explain to a beginner|teach me)\b`)},
}

func detectCapabilities(t models.RequestType, content, lower string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}

	for _, c := range typeCapabilities[t] {
		add(c)
	}
	for _, p := range capabilityPatterns {
		if p.pattern.MatchString(content) {
			add(p.capability)
		}
	}
	if hasNonASCIIScript(content) {
		add("multilingual")
	}
	for _, lang := range programmingLanguages {
		if lang.pattern.MatchString(content) {
			add("code-generation")
			add("lang-" + lang.name)
		}
	}
	for _, d := range domainMarkers {
		if d.pattern.MatchString(lower) {
			add("domain-" + d.domain)
		}
	}
	return out
}

// hasNonASCIIScript reports whether the content contains letters outside
// the Latin script, a cheap signal that multilingual support is needed.
func hasNonASCIIScript(content string) bool {
	for _, r := range content {
		if r > unicode.MaxASCII && unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

// ---- urgency ----

var (
	urgentWords    = regexp.MustCompile(`(?i)\b(urgent|asap|immediately|right away|quickly)\b`)
	deadlineWords  = regexp.MustCompile(`(?i)\b(deadline|due (today|tomorrow|by)|time[ -]sensitive)\b`)
	emergencyWords = regexp.MustCompile(`(?i)\b(emergency|critical|outage|production (is )?down|incident)\b`)
)

// urgencyBase is the small per-type urgency contribution. Exhaustive over
// models.AllRequestTypes (checked in tests).
var urgencyBase = map[models.RequestType]int{
	models.TypeTextGeneration:     0,
	models.TypeCodeGeneration:     0,
	models.TypeImageAnalysis:      0,
	models.TypeAudioTranscription: 1,
	models.TypeTranslation:        0,
	models.TypeSummarization:      0,
	models.TypeQuestionAnswering:  1,
}

func assessUrgency(req models.AIRequest, ctx *models.RequestContext, lower string) models.UrgencyLevel {
	score := urgencyBase[req.Type]

	switch req.Metadata.Priority {
	case models.PriorityHigh:
		score += 3
	case models.PriorityMedium:
		score++
	}

	maxLatency := req.Metadata.MaxLatencyMs
	var deadline *time.Time
	if ctx != nil && ctx.TimeConstraints != nil {
		if ctx.TimeConstraints.MaxLatencyMs > 0 && (maxLatency == 0 || ctx.TimeConstraints.MaxLatencyMs < maxLatency) {
			maxLatency = ctx.TimeConstraints.MaxLatencyMs
		}
		deadline = ctx.TimeConstraints.Deadline
	}

	switch {
	case maxLatency > 0 && maxLatency < 1000:
		score += 2
	case maxLatency > 0 && maxLatency < 5000:
		score++
	}

	if deadline != nil {
		until := time.Until(*deadline)
		switch {
		case until < time.Minute:
			score += 3
		case until < 5*time.Minute:
			score += 2
		case until < 30*time.Minute:
			score++
		}
	}

	if urgentWords.MatchString(lower) {
		score += 2
	}
	if deadlineWords.MatchString(lower) {
		score++
	}
	if emergencyWords.MatchString(lower) {
		score += 3
	}

	switch {
	case score >= 4:
		return models.UrgencyHigh
	case score >= 2:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

// ---- resources ----

var resourceBase = map[models.ComplexityLevel]models.ResourceRequirements{
	models.ComplexityLow:    {Memory: 1, Compute: 1, Bandwidth: 1},
	models.ComplexityMedium: {Memory: 2, Compute: 2, Bandwidth: 1},
	models.ComplexityHigh:   {Memory: 4, Compute: 4, Bandwidth: 2},
}

// typeResourceMultiplier scales the base requirements per request type.
// Exhaustive over models.AllRequestTypes (checked in tests).
var typeResourceMultiplier = map[models.RequestType]float64{
	models.TypeTextGeneration:     1.0,
	models.TypeCodeGeneration:     1.2,
	models.TypeImageAnalysis:      2.0,
	models.TypeAudioTranscription: 1.5,
	models.TypeTranslation:        1.0,
	models.TypeSummarization:      1.1,
	models.TypeQuestionAnswering:  1.0,
}

func resourceRequirements(t models.RequestType, complexity models.ComplexityLevel, tokens int) models.ResourceRequirements {
	base := resourceBase[complexity]
	factor := math.Min(float64(tokens)/1000, 10)
	if factor < 1 {
		factor = 1
	}
	mult := typeResourceMultiplier[t] * factor

	return models.ResourceRequirements{
		Memory:    base.Memory * mult,
		Compute:   base.Compute * mult,
		Bandwidth: base.Bandwidth * mult,
	}
}

// ---- expected latency ----

var latencyByComplexity = map[models.ComplexityLevel]float64{
	models.ComplexityLow:    500,
	models.ComplexityMedium: 1500,
	models.ComplexityHigh:   3000,
}

// typeLatencyOverhead is a per-type constant added to the estimate.
// Exhaustive over models.AllRequestTypes (checked in tests).
var typeLatencyOverhead = map[models.RequestType]float64{
	models.TypeTextGeneration:     0,
	models.TypeCodeGeneration:     500,
	models.TypeImageAnalysis:      1000,
	models.TypeAudioTranscription: 1500,
	models.TypeTranslation:        200,
	models.TypeSummarization:      300,
	models.TypeQuestionAnswering:  0,
}

func expectedLatency(t models.RequestType, complexity models.ComplexityLevel, tokens int) float64 {
	latency := latencyByComplexity[complexity]
	latency += math.Min(float64(tokens)*0.5, 2000)
	latency += typeLatencyOverhead[t]
	if latency > maxExpectedLatency {
		latency = maxExpectedLatency
	}
	return latency
}

// ---- quality requirements ----

var (
	creativeWords = regexp.MustCompile(`(?i)\b(creative|poem|story|imagine|brainstorm|original)\b`)
	factualWords  = regexp.MustCompile(`(?i)\b(fact|accurate|precise|cite|source|verify|exact)\b`)
)

// qualityDefaults are the per-type quality requirement baselines.
// Exhaustive over models.AllRequestTypes (checked in tests).
var qualityDefaults = map[models.RequestType]models.QualityRequirements{
	models.TypeTextGeneration:     {Accuracy: 0.7, Creativity: 0.6, Factuality: 0.6},
	models.TypeCodeGeneration:     {Accuracy: 0.9, Creativity: 0.3, Factuality: 0.8},
	models.TypeImageAnalysis:      {Accuracy: 0.85, Creativity: 0.2, Factuality: 0.85},
	models.TypeAudioTranscription: {Accuracy: 0.95, Creativity: 0.1, Factuality: 0.9},
	models.TypeTranslation:        {Accuracy: 0.9, Creativity: 0.3, Factuality: 0.85},
	models.TypeSummarization:      {Accuracy: 0.85, Creativity: 0.4, Factuality: 0.9},
	models.TypeQuestionAnswering:  {Accuracy: 0.9, Creativity: 0.3, Factuality: 0.9},
}

func qualityRequirements(t models.RequestType, lower string) models.QualityRequirements {
	q := qualityDefaults[t]

	if creativeWords.MatchString(lower) {
		q.Creativity = clamp01(q.Creativity + 0.3)
		q.Factuality = clamp01(q.Factuality - 0.2)
	}
	if factualWords.MatchString(lower) {
		q.Accuracy = clamp01(q.Accuracy + 0.1)
		q.Factuality = clamp01(q.Factuality + 0.2)
		q.Creativity = clamp01(q.Creativity - 0.2)
	}
	return q
}

// ---- preferred models ----

// typePreferences maps (type, complexity) to a static hint list. These are
// hints only; final selection still goes through registry scoring.
var typePreferences = map[models.RequestType]map[models.ComplexityLevel][]string{
	models.TypeTextGeneration: {
		models.ComplexityLow:    {"gpt-4o-mini", "claude-3-haiku-20240307"},
		models.ComplexityMedium: {"gpt-4o", "claude-3-5-sonnet-20241022"},
		models.ComplexityHigh:   {"claude-3-opus-20240229", "gpt-4-turbo"},
	},
	models.TypeCodeGeneration: {
		models.ComplexityLow:    {"gpt-4o-mini", "claude-3-5-sonnet-20241022"},
		models.ComplexityMedium: {"claude-3-5-sonnet-20241022", "gpt-4o"},
		models.ComplexityHigh:   {"claude-3-opus-20240229", "o1"},
	},
	models.TypeImageAnalysis: {
		models.ComplexityLow:    {"gpt-4o-mini", "gemini-1.5-flash"},
		models.ComplexityMedium: {"gpt-4o", "gemini-1.5-pro"},
		models.ComplexityHigh:   {"gpt-4o", "gemini-1.5-pro"},
	},
	models.TypeAudioTranscription: {
		models.ComplexityLow:    {"gemini-1.5-flash"},
		models.ComplexityMedium: {"gemini-1.5-pro"},
		models.ComplexityHigh:   {"gemini-1.5-pro"},
	},
	models.TypeTranslation: {
		models.ComplexityLow:    {"gpt-4o-mini", "gemini-1.5-flash"},
		models.ComplexityMedium: {"gpt-4o", "claude-3-5-sonnet-20241022"},
		models.ComplexityHigh:   {"gpt-4o", "claude-3-opus-20240229"},
	},
	models.TypeSummarization: {
		models.ComplexityLow:    {"claude-3-haiku-20240307", "gpt-4o-mini"},
		models.ComplexityMedium: {"claude-3-5-sonnet-20241022", "gpt-4o"},
		models.ComplexityHigh:   {"claude-3-opus-20240229", "gpt-4o"},
	},
	models.TypeQuestionAnswering: {
		models.ComplexityLow:    {"gpt-4o-mini", "claude-3-haiku-20240307"},
		models.ComplexityMedium: {"gpt-4o", "claude-3-5-sonnet-20241022"},
		models.ComplexityHigh:   {"claude-3-opus-20240229", "o1"},
	},
}

func preferredModels(t models.RequestType, complexity models.ComplexityLevel, capabilities []string, ctx *models.RequestContext) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	// Caller hints first: user preferences outrank static tables.
	if ctx != nil {
		for _, id := range ctx.PreferredModels {
			add(id)
		}
	}
	for _, id := range typePreferences[t][complexity] {
		add(id)
	}
	for _, c := range capabilities {
		switch c {
		case "multilingual":
			add("gpt-4o")
			add("gemini-1.5-pro")
		case "code-generation":
			add("claude-3-5-sonnet-20241022")
		}
	}
	return out
}

func contextSize(ctx *models.RequestContext) int {
	if ctx == nil {
		return 0
	}
	size := 0
	for _, turn := range ctx.ConversationHistory {
		size += len(turn.Content)
	}
	return size
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
