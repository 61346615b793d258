// Package observability provides OpenTelemetry metrics (Prometheus or OTLP exporter), tracing and
// trace-aware logging.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameEmbeddingAttempts     = "groundwork_embedding_attempts_total"
	MetricNameEmbeddingOutcomes     = "groundwork_embedding_outcomes_total"
	MetricNameEmbeddingDuration     = "groundwork_embedding_duration_seconds"
	MetricNamePipelineStageDuration = "groundwork_pipeline_stage_duration_seconds"
	MetricNamePipelineRuns          = "groundwork_pipeline_runs_total"
	MetricNameMatchTiers            = "groundwork_place_match_tiers_total"
	MetricNameCacheHits             = "groundwork_cache_hits_total"
	MetricNameCacheMisses           = "groundwork_cache_misses_total"
	MetricNameCacheEntries          = "groundwork_cache_entries"
	MetricNameBackfillDocuments     = "groundwork_backfill_documents_total"
	MetricNameDuplicateGroups       = "groundwork_duplicate_groups"
	MetricNameClassifiedDocuments   = "groundwork_classified_documents_total"
	MetricNameHTTPRequests          = "groundwork_http_requests_total"
	MetricNameHTTPDuration          = "groundwork_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge   = "groundwork_http_request_body_too_large_total"
)

// Attribute keys.
const (
	AttrProvider = "provider"
	AttrOutcome  = "outcome"
	AttrStatus   = "status"
	AttrPipeline = "pipeline"
	AttrStage    = "stage"
	AttrReason   = "reason"
	AttrTier     = "tier"
	AttrSource   = "source"
	AttrCache    = "cache"
)

// AllowedEmbeddingAttemptOutcomes for groundwork_embedding_attempts_total.
var AllowedEmbeddingAttemptOutcomes = map[string]bool{
	"success":      true,
	"rate_limited": true,
	"timeout":      true,
	"server_error": true,
	"failed":       true,
}

// AllowedEmbeddingStatuses for groundwork_embedding_outcomes_total and the duration histogram.
var AllowedEmbeddingStatuses = map[string]bool{
	"success":          true,
	"exhausted":        true,
	"failed":           true,
	"invalid_response": true,
	"empty_input":      true,
}

// AllowedPipelines for pipeline metrics.
var AllowedPipelines = map[string]bool{
	"draft":  true,
	"answer": true,
}

// AllowedAbortReasons for groundwork_pipeline_runs_total. "none" marks a completed run.
var AllowedAbortReasons = map[string]bool{
	"none":                         true,
	"no_embedding":                 true,
	"no_correspondence_candidates": true,
	"completion_failed":            true,
	"unparseable_response":         true,
	"cancelled":                    true,
}

// AllowedMatchTiers for groundwork_place_match_tiers_total.
var AllowedMatchTiers = map[string]bool{
	"provided":  true,
	"exact":     true,
	"partial":   true,
	"fuzzy":     true,
	"unmatched": true,
}

// AllowedCacheNames for cache hit/miss counters.
var AllowedCacheNames = map[string]bool{
	"query_embedding": true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName returns name if it is a known cache, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
