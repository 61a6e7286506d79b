package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Caller is the authenticated identity on whose behalf a job runs.
type Caller struct {
	UserID string
	Email  string
}

// Params are the kind-specific parameters captured when a job is created.
// They never change afterwards.
type Params struct {
	ChunkSize           int        `json:"chunkSize"`
	Email               string     `json:"email,omitempty"`
	CompanyID           string     `json:"companyId,omitempty"`
	Direction           string     `json:"direction,omitempty"`
	Title               string     `json:"title,omitempty"`
	Body                string     `json:"body,omitempty"`
	Mode                Mode       `json:"mode,omitempty"`
	SelectedTargets     []string   `json:"selectedTargets,omitempty"`
	OnlyOwnersAndAdmins bool       `json:"onlyOwnersAndAdmins,omitempty"`
	Action              BulkAction `json:"action,omitempty"`
	Scope               Scope      `json:"scope,omitempty"`
	InviteIDs           []string   `json:"inviteIds,omitempty"`
	Query               string     `json:"query,omitempty"`
	DeleteAll           bool       `json:"deleteAll,omitempty"`
	IDs                 []string   `json:"ids,omitempty"`
	// MaxItems caps Record.Items for listing kinds; 0 means no cap.
	MaxItems int `json:"maxItems,omitempty"`
}

// StepMessage describes one unit of work for the worker.
type StepMessage struct {
	JobID  string `json:"jobId"`
	UserID string `json:"userId"`
	Kind   Kind   `json:"kind"`
	Seq    int    `json:"seq"`
	Step   Step   `json:"step,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Index  int    `json:"index,omitempty"`
}

// MsgID is the de-duplication id used when publishing the message.
func (m StepMessage) MsgID() string {
	return fmt.Sprintf("%s:%d", m.JobID, m.Seq)
}

// Record is the persisted state of one job.
type Record struct {
	ID     string    `json:"jobId"`
	UserID string    `json:"userId"`
	Kind   Kind      `json:"kind"`
	Status JobStatus `json:"status"`
	Params Params    `json:"params"`

	// Seq is the sequence number of the last applied step message and Next
	// the follow-up it produced, kept so a redelivery can republish it.
	Seq  int          `json:"seq"`
	Next *StepMessage `json:"next,omitempty"`

	CurrentStep Step    `json:"currentStep,omitempty"`
	Processed   int     `json:"processed"`
	Total       *int    `json:"total,omitempty"`
	Cursor      string  `json:"cursor,omitempty"`
	NextCursor  *string `json:"nextCursor,omitempty"`

	Succeeded    int  `json:"succeeded,omitempty"`
	Failed       int  `json:"failed,omitempty"`
	DeletedCount int  `json:"deletedCount,omitempty"`
	TotalTargets *int `json:"totalTargets,omitempty"`
	Delivered    int  `json:"delivered,omitempty"`
	Progress     int  `json:"progress,omitempty"`

	DeletedOwnedCompanies int `json:"deletedOwnedCompanies,omitempty"`
	TotalOwnedCompanies   int `json:"totalOwnedCompanies,omitempty"`

	// WorkingSet holds the candidate ids resolved once for scope=all bulk jobs.
	WorkingSet []string          `json:"workingSet,omitempty"`
	Items      []json.RawMessage `json:"items,omitempty"`
	// ItemsTruncated is set once a listing outgrew Params.MaxItems; callers
	// re-read the collection with the same filter.
	ItemsTruncated bool   `json:"itemsTruncated,omitempty"`
	Error          string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func newRecord(id, userID string, kind Kind, params Params, now time.Time) *Record {
	return &Record{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the job reached a terminal status.
func (r *Record) Done() bool {
	return r.Status.IsTerminal()
}

func (r *Record) transition(to JobStatus, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// Start moves a pending job to processing.
func (r *Record) Start(now time.Time) error {
	if err := r.transition(StatusProcessing, now); err != nil {
		return err
	}
	r.StartedAt = &now
	return nil
}

// Complete moves a processing job to completed.
func (r *Record) Complete(now time.Time) error {
	if err := r.transition(StatusCompleted, now); err != nil {
		return err
	}
	r.FinishedAt = &now
	r.Next = nil
	if r.Kind == KindUserDeletion {
		r.Progress = 100
	}
	return nil
}

// Fail moves a non-terminal job to failed with the given message.
func (r *Record) Fail(now time.Time, msg string) error {
	if err := r.transition(StatusFailed, now); err != nil {
		return err
	}
	if msg == "" {
		msg = "job failed"
	}
	r.Error = msg
	r.FinishedAt = &now
	r.Next = nil
	return nil
}

// AddProcessed advances the processed counter. When the total is known and
// would be exceeded, the total is raised to match: the underlying collection
// grew while the job ran.
func (r *Record) AddProcessed(n int) {
	if n <= 0 {
		return
	}
	r.Processed += n
	if r.Total != nil && r.Processed > *r.Total {
		r.SetTotal(r.Processed)
	}
}

// SetTotal records the size of the full set once it is known.
func (r *Record) SetTotal(n int) {
	r.Total = &n
}

// SetTotalTargets records how many recipients a broadcast addresses.
func (r *Record) SetTotalTargets(n int) {
	r.TotalTargets = &n
}

// SetNextCursor records the cursor after the last processed unit; an empty
// cursor means the collection is exhausted.
func (r *Record) SetNextCursor(c string) {
	if c == "" {
		r.NextCursor = nil
		return
	}
	r.NextCursor = &c
}
