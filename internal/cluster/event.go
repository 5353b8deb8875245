// Package cluster replicates cache job commands between seeder instances.
package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

type EventType string

const (
	EventLaunchJob            EventType = "launch_job"
	EventAbortJob             EventType = "abort_job"
	EventPruneJobs            EventType = "prune_jobs"
	EventDescribeJobs         EventType = "describe_jobs"
	EventDescribeJobsResponse EventType = "describe_jobs_response"
)

// Event is the wire form of every cluster message. Target is empty for broadcasts.
type Event struct {
	ID     string    `json:"id"`
	Type   EventType `json:"type"`
	Source string    `json:"source"`
	Target string    `json:"target,omitempty"`
	TS     time.Time `json:"ts"`

	Job             *model.CacheJobInfo    `json:"job,omitempty"`
	JobID           string                 `json:"job_id,omitempty"`
	IncludeFinished bool                   `json:"include_finished,omitempty"`
	Jobs            []model.CacheJobStatus `json:"jobs,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(e.Source) == "" {
		return errors.New("source is required")
	}
	switch e.Type {
	case EventLaunchJob:
		if e.Job == nil || e.Job.ID == "" {
			return errors.New("launch_job requires job")
		}
	case EventAbortJob:
		if e.JobID == "" {
			return errors.New("abort_job requires job_id")
		}
	case EventPruneJobs, EventDescribeJobs, EventDescribeJobsResponse:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// IsFor reports whether instance should consume the event.
func (e Event) IsFor(instance string) bool {
	return e.Source != instance && (e.Target == "" || e.Target == instance)
}

func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return b, nil
}

func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, fmt.Errorf("validate: %w", err)
	}
	return e, nil
}
