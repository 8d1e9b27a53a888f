// Package health provides batch health monitoring and status reporting.
package health

import (
	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/processing/orchestrator"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// PipelineHealth contains health data for the pipeline this process serves.
type PipelineHealth struct {
	Pipeline    string                   `json:"pipeline"`
	Status      SystemStatus             `json:"status"`
	Running     bool                     `json:"running"`
	RunCounts   map[domain.RunStatus]int `json:"run_counts,omitempty"`
	CountsStale bool                     `json:"counts_stale,omitempty"`
	Batch       orchestrator.Snapshot    `json:"batch"`
	FailureRate float64                  `json:"failure_rate"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus   `json:"system_status"`
	Pipeline     PipelineHealth `json:"pipeline"`
}
