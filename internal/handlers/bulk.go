package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/logger"
	"github.com/mtr002/tenant-jobs/internal/metrics"
)

// inviteBulkHandler applies delete or reject to a set of invites. Each item
// succeeds or fails on its own; only infrastructure errors fail the step.
type inviteBulkHandler struct {
	deps Deps
}

func (h *inviteBulkHandler) Kind() jobs.Kind { return jobs.KindInviteBulk }

func (h *inviteBulkHandler) Prepare(caller jobs.Caller, req jobs.CreateRequest) (jobs.Params, jobs.StepMessage, error) {
	action := jobs.BulkAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if action != jobs.ActionDelete && action != jobs.ActionReject {
		return jobs.Params{}, jobs.StepMessage{}, invalid("action must be %q or %q", jobs.ActionDelete, jobs.ActionReject)
	}
	email := strings.ToLower(strings.TrimSpace(caller.Email))
	if action == jobs.ActionReject && email == "" {
		return jobs.Params{}, jobs.StepMessage{}, invalid("caller email is required to reject invites")
	}

	ids := normalizeIDs(req.InviteIDs)
	scope := jobs.Scope(strings.ToLower(strings.TrimSpace(req.Scope)))
	switch scope {
	case "":
		scope = jobs.ScopeAll
		if len(ids) > 0 {
			scope = jobs.ScopeSelected
		}
	case jobs.ScopeSelected:
		if len(ids) == 0 {
			return jobs.Params{}, jobs.StepMessage{}, invalid("inviteIds are required when scope is %q", jobs.ScopeSelected)
		}
	case jobs.ScopeAll:
		ids = nil
	default:
		return jobs.Params{}, jobs.StepMessage{}, invalid("scope must be %q or %q", jobs.ScopeSelected, jobs.ScopeAll)
	}

	p := jobs.Params{
		ChunkSize: req.ChunkSize,
		Email:     email,
		CompanyID: strings.TrimSpace(req.CompanyID),
		Action:    action,
		Scope:     scope,
		InviteIDs: ids,
	}
	if scope == jobs.ScopeSelected {
		return p, jobs.StepMessage{Step: jobs.StepApply}, nil
	}
	return p, jobs.StepMessage{Step: jobs.StepInit}, nil
}

func (h *inviteBulkHandler) Advance(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	switch msg.Step {
	case jobs.StepInit:
		return h.resolve(ctx, rec)
	case jobs.StepApply:
		return h.apply(ctx, rec, msg)
	}
	return nil, fmt.Errorf("unexpected step %q for %s", msg.Step, rec.Kind)
}

// resolve enumerates the candidate set once and caches it on the record.
func (h *inviteBulkHandler) resolve(ctx context.Context, rec *jobs.Record) (*jobs.StepMessage, error) {
	q := interfaces.InviteQuery{
		UserID:    rec.UserID,
		Email:     rec.Params.Email,
		Direction: interfaces.InvitesSent,
		CompanyID: rec.Params.CompanyID,
	}
	if rec.Params.Action == jobs.ActionReject {
		q.Direction = interfaces.InvitesReceived
	}

	ids, err := h.deps.Repos.Invites.PendingIDs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve invites: %w", err)
	}
	rec.WorkingSet = ids
	rec.SetTotal(len(ids))
	rec.CurrentStep = jobs.StepApply
	if len(ids) == 0 {
		return nil, nil
	}
	return &jobs.StepMessage{Step: jobs.StepApply, Index: 0}, nil
}

func (h *inviteBulkHandler) targets(rec *jobs.Record) []string {
	if rec.Params.Scope == jobs.ScopeSelected {
		return rec.Params.InviteIDs
	}
	return rec.WorkingSet
}

func (h *inviteBulkHandler) apply(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	targets := h.targets(rec)
	if rec.Total == nil {
		rec.SetTotal(len(targets))
	}
	rec.CurrentStep = jobs.StepApply

	start, end := window(msg.Index, rec.Params.ChunkSize, len(targets))
	for _, id := range targets[start:end] {
		var err error
		switch rec.Params.Action {
		case jobs.ActionDelete:
			err = h.deps.Repos.Invites.Delete(ctx, rec.ID, rec.UserID, id)
		case jobs.ActionReject:
			err = h.deps.Repos.Invites.Reject(ctx, rec.ID, rec.Params.Email, id)
		}

		switch {
		case err == nil, errors.Is(err, interfaces.ErrAlreadyApplied):
			// a replayed chunk finds its own earlier changes
			rec.Succeeded++
		case errors.Is(err, interfaces.ErrNotFound):
			rec.Failed++
			metrics.ItemFailuresTotal.WithLabelValues(string(rec.Kind)).Inc()
			logger.WithJob(rec.ID, string(rec.Kind)).Debug().Str("invite_id", id).Msg("Invite not found, skipped")
		default:
			return nil, fmt.Errorf("failed to %s invite %s: %w", rec.Params.Action, id, err)
		}
		rec.AddProcessed(1)
	}

	if end >= len(targets) {
		return nil, nil
	}
	return &jobs.StepMessage{Step: jobs.StepApply, Index: end}, nil
}
