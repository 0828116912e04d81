// Package observability provides logging and metrics support for the
// research analysis service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for jobs, stages, events and sources
//   - Context helpers for propagating job and request identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger = observability.WithJobContext(logger, jobID, query)
//	logger.Info().Msg("analysis started")
//
// # Metrics
//
//	metrics := observability.NewMetrics("research_analysis")
//	metrics.RecordJobSubmitted()
//	metrics.RecordStage("summarize", 12.5, false)
//
// # Context Helpers
//
//	ctx = observability.WithJobID(ctx, jobID)
//	log := observability.LoggerFromContext(ctx, logger)
//
// # Standard Fields
//
//   - job_id: analysis job identifier
//   - query: research query
//   - stage: pipeline stage (retrieve, deduplicate, summarize, synthesize, build_citation_network)
//   - source: document source (arxiv, semantic_scholar, openalex, arxiv_listing)
//   - request_id: HTTP request identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
