// Package notifier delivers node lifecycle events to a webhook endpoint.
//
// Events are CloudEvents 1.0 shaped, queued in a bounded buffer and delivered
// by a small worker pool with retry, HMAC signing and a circuit breaker. When
// no webhook URL is configured the notifier is disabled and publishing is a
// no-op at the call site.
package notifier

import (
	"time"

	"github.com/google/uuid"

	"nodescaler/internal/job"
)

// Event types emitted for job transitions.
const (
	TypeJobCompleted = "io.nodescaler.job.completed"
	TypeJobFailed    = "io.nodescaler.job.failed"
)

const (
	specVersion = "1.0"
	eventSource = "/nodescaler"
)

// Event is a CloudEvents 1.0 envelope carrying a job snapshot.
type Event struct {
	SpecVersion     string    `json:"specversion"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	Subject         string    `json:"subject"`
	ID              string    `json:"id"`
	Time            time.Time `json:"time"`
	DataContentType string    `json:"datacontenttype"`
	Data            *job.Job  `json:"data"`
}

// JobEvent builds the event for a job that reached a terminal state.
func JobEvent(j *job.Job) *Event {
	typ := TypeJobCompleted
	if j.Status == job.StatusFailed {
		typ = TypeJobFailed
	}
	return &Event{
		SpecVersion:     specVersion,
		Type:            typ,
		Source:          eventSource,
		Subject:         j.Key,
		ID:              uuid.NewString(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            j,
	}
}
