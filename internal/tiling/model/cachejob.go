package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CacheIdentifier addresses one independently cacheable partition of a layer's tiles.
// An empty ParametersID is the default partition.
type CacheIdentifier struct {
	LayerName    string `json:"layer"`
	GridsetID    string `json:"gridset"`
	Format       string `json:"format"`
	ParametersID string `json:"parameters_id,omitempty"`
}

func (c CacheIdentifier) HasParameters() bool { return c.ParametersID != "" }

func (c CacheIdentifier) String() string {
	if c.ParametersID == "" {
		return fmt.Sprintf("%s/%s/%s", c.LayerName, c.GridsetID, c.Format)
	}
	return fmt.Sprintf("%s/%s/%s/%s", c.LayerName, c.GridsetID, c.Format, c.ParametersID)
}

type Action string

const (
	ActionSeed     Action = "SEED"
	ActionTruncate Action = "TRUNCATE"
	ActionReseed   Action = "RESEED"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionSeed, ActionTruncate, ActionReseed:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, s)
	}
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CacheJobRequest is one concrete unit of requested work.
type CacheJobRequest struct {
	Action    Action          `json:"action"`
	CacheID   CacheIdentifier `json:"cache_id"`
	Tiles     TilePyramid     `json:"tiles"`
	Timestamp time.Time       `json:"timestamp"`
}

func (r CacheJobRequest) String() string {
	return fmt.Sprintf("%s %s z%d..%d", r.Action, r.CacheID, r.Tiles.MinZoomLevel(), r.Tiles.MaxZoomLevel())
}

// CacheJobInfo is the identity of a launched job. It never changes after launch.
type CacheJobInfo struct {
	ID      string          `json:"id"`
	Request CacheJobRequest `json:"request"`
}

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusRunning   Status = "RUNNING"
	StatusComplete  Status = "COMPLETE"
	StatusFailed    Status = "FAILED"
	StatusAborting  Status = "ABORTING"
	StatusAborted   Status = "ABORTED"
)

func (s Status) IsFinished() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// Progress counts work done by a job. TilesTotal is a decimal string since pyramids
// can exceed int64.
type Progress struct {
	MetaTilesTotal string `json:"meta_tiles_total"`
	TilesTotal     string `json:"tiles_total"`
	MetaTilesDone  int64  `json:"meta_tiles_done"`
	TilesDone      int64  `json:"tiles_done"`
}

// CacheJobStatus is a snapshot of a job's lifecycle state.
type CacheJobStatus struct {
	JobInfo    CacheJobInfo `json:"job"`
	Status     Status       `json:"status"`
	Progress   Progress     `json:"progress"`
	Error      string       `json:"error,omitempty"`
	InstanceID string       `json:"instance_id,omitempty"`
	Scheduled  time.Time    `json:"scheduled"`
	Started    time.Time    `json:"started,omitzero"`
	Finished   time.Time    `json:"finished,omitzero"`
}

func (s CacheJobStatus) JobID() string    { return s.JobInfo.ID }
func (s CacheJobStatus) IsFinished() bool { return s.Status.IsFinished() }
