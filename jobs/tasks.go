// Package jobs hosts the asynq background workload: task definitions, the
// worker runtime and the enqueue client.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditDigest aggregates the previous day's audit activity.
	TaskAuditDigest = "audit:digest"
)

// AuditDigestPayload selects the UTC day to aggregate. An empty Date means
// "yesterday" at execution time.
type AuditDigestPayload struct {
	Date string `json:"date,omitempty"`
}

// NewAuditDigestTask constructs an audit digest task.
func NewAuditDigestTask(payload AuditDigestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditDigest, data), nil
}
