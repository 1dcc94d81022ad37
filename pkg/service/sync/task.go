package sync

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/types"
)

// TaskTypeStep is the queue task type for one pagination step
const TaskTypeStep = "sync:step"

// StepPayload is the unit of resumable work: everything needed to fetch one
// page, process it, and decide whether to continue. Rate-limit deferral
// re-enqueues the payload unchanged; continuation re-enqueues it with the
// next cursor and an incremented page count.
type StepPayload struct {
	IntegrationID types.IntegrationID `json:"integration_id"`
	Cursor        json.RawMessage     `json:"cursor,omitempty"`
	Page          int                 `json:"page"`
	// TimeboxUntil is a hard wall-clock deadline for bounded one-off
	// backfills; a step starting after it stops without rescheduling
	TimeboxUntil *time.Time `json:"timebox_until,omitempty"`
}

func (p *StepPayload) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal step payload")
	}
	return data, nil
}

func UnmarshalStepPayload(data []byte) (*StepPayload, error) {
	var payload StepPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal step payload")
	}
	if payload.IntegrationID == "" {
		return nil, goerr.New("step payload missing integration ID")
	}
	return &payload, nil
}
