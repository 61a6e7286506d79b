package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mtr002/tenant-jobs/internal/jobs"
)

// notificationDeletionHandler deletes a caller's notifications, either the
// listed ids or all of them in batches.
type notificationDeletionHandler struct {
	deps Deps
}

func (h *notificationDeletionHandler) Kind() jobs.Kind { return jobs.KindNotificationDeletion }

func (h *notificationDeletionHandler) Prepare(_ jobs.Caller, req jobs.CreateRequest) (jobs.Params, jobs.StepMessage, error) {
	p := jobs.Params{ChunkSize: req.ChunkSize, DeleteAll: req.DeleteAll, Mode: jobs.ModeAll}
	if !req.DeleteAll {
		p.IDs = normalizeIDs(req.IDs)
		if len(p.IDs) == 0 {
			return jobs.Params{}, jobs.StepMessage{}, invalid("ids are required unless deleteAll is set")
		}
		p.Mode = jobs.ModeSelected
	}
	return p, jobs.StepMessage{Step: jobs.StepInit}, nil
}

func (h *notificationDeletionHandler) Advance(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	switch msg.Step {
	case jobs.StepInit:
		return h.init(ctx, rec)
	case jobs.StepSelected:
		return h.deleteSelected(ctx, rec, msg)
	case jobs.StepApply:
		return h.deleteBatch(ctx, rec)
	}
	return nil, fmt.Errorf("unexpected step %q for %s", msg.Step, rec.Kind)
}

func (h *notificationDeletionHandler) init(ctx context.Context, rec *jobs.Record) (*jobs.StepMessage, error) {
	if !rec.Params.DeleteAll {
		rec.SetTotal(len(rec.Params.IDs))
		rec.CurrentStep = jobs.StepSelected
		return &jobs.StepMessage{Step: jobs.StepSelected, Index: 0}, nil
	}

	n, err := h.deps.Repos.Notifications.Count(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	rec.SetTotal(n)
	rec.CurrentStep = jobs.StepApply
	if n == 0 {
		return nil, nil
	}
	return &jobs.StepMessage{Step: jobs.StepApply}, nil
}

// deleteSelected is idempotent: ids that are already gone count as
// processed but not as deleted.
func (h *notificationDeletionHandler) deleteSelected(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	ids := rec.Params.IDs
	start, end := window(msg.Index, rec.Params.ChunkSize, len(ids))
	chunk := ids[start:end]

	n, err := h.deps.Repos.Notifications.DeleteByIDs(ctx, rec.UserID, chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to delete notifications: %w", err)
	}
	rec.DeletedCount += n
	rec.AddProcessed(len(chunk))

	if end >= len(ids) {
		return nil, nil
	}
	return &jobs.StepMessage{Step: jobs.StepSelected, Index: end}, nil
}

func (h *notificationDeletionHandler) deleteBatch(ctx context.Context, rec *jobs.Record) (*jobs.StepMessage, error) {
	chunk := rec.Params.ChunkSize
	n, err := h.deps.Repos.Notifications.DeleteBatch(ctx, rec.UserID, chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to delete notifications: %w", err)
	}
	rec.DeletedCount += n
	rec.AddProcessed(n)
	rec.Cursor = strconv.Itoa(rec.DeletedCount)

	if n < chunk {
		return nil, nil
	}
	return &jobs.StepMessage{Step: jobs.StepApply, Cursor: rec.Cursor}, nil
}
