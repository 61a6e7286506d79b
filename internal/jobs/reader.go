package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the poll response for a job, shaped by kind.
type Status struct {
	JobID       string            `json:"jobId"`
	Kind        Kind              `json:"kind"`
	Status      JobStatus         `json:"status"`
	Done        bool              `json:"done"`
	Processed   int               `json:"processed"`
	Total       *int              `json:"total,omitempty"`
	NextCursor  *string           `json:"nextCursor"`
	Items       []json.RawMessage `json:"items,omitempty"`
	Truncated   bool              `json:"itemsTruncated,omitempty"`
	Error       string            `json:"error,omitempty"`
	CurrentStep Step              `json:"currentStep,omitempty"`

	Succeeded    *int `json:"succeeded,omitempty"`
	Failed       *int `json:"failed,omitempty"`
	DeletedCount *int `json:"deletedCount,omitempty"`
	Progress     *int `json:"progress,omitempty"`
	TotalTargets *int `json:"totalTargets,omitempty"`
	Mode         Mode `json:"mode,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// NewStatus projects a record onto the fields its kind exposes.
func NewStatus(rec *Record) Status {
	s := Status{
		JobID:      rec.ID,
		Kind:       rec.Kind,
		Status:     rec.Status,
		Done:       rec.Done(),
		Processed:  rec.Processed,
		Total:      rec.Total,
		CreatedAt:  rec.CreatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if s.Done && rec.Status == StatusFailed {
		s.Error = rec.Error
	}

	switch rec.Kind {
	case KindCompanyListing, KindInviteListing, KindUserSearch,
		KindFriendshipListing, KindNotificationListing:
		s.NextCursor = rec.NextCursor
		if s.Done && rec.Status == StatusCompleted {
			s.Items = rec.Items
			s.Truncated = rec.ItemsTruncated
		}
	case KindInviteBulk:
		s.Succeeded = intPtr(rec.Succeeded)
		s.Failed = intPtr(rec.Failed)
	case KindNotificationBroadcast, KindFriendBroadcast:
		s.TotalTargets = rec.TotalTargets
		s.Mode = rec.Params.Mode
		s.CurrentStep = rec.CurrentStep
	case KindNotificationDeletion:
		s.DeletedCount = intPtr(rec.DeletedCount)
		s.Mode = rec.Params.Mode
	case KindUserDeletion:
		s.Progress = intPtr(rec.Progress)
		s.CurrentStep = rec.CurrentStep
		s.DeletedCount = intPtr(rec.DeletedCount)
	}
	return s
}

func intPtr(v int) *int {
	return &v
}

// Reader serves poll requests from the record store.
type Reader struct {
	store *Store
}

// NewReader creates a new status reader over store.
func NewReader(store *Store) *Reader {
	return &Reader{store: store}
}

// GetJob returns the caller's job. Unknown or expired ids return
// ErrNotFound; jobs owned by someone else return ErrForbidden.
func (r *Reader) GetJob(ctx context.Context, caller Caller, kind Kind, jobID string) (*Status, error) {
	rec, err := r.store.Load(ctx, kind, jobID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != caller.UserID {
		return nil, ErrForbidden
	}
	s := NewStatus(rec)
	return &s, nil
}
