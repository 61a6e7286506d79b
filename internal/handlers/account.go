package handlers

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mtr002/tenant-jobs/internal/jobs"
)

// accountDeletionHandler removes everything a user owns, phase by phase,
// and deletes the user last.
type accountDeletionHandler struct {
	deps Deps
}

func (h *accountDeletionHandler) Kind() jobs.Kind { return jobs.KindUserDeletion }

func (h *accountDeletionHandler) Prepare(caller jobs.Caller, req jobs.CreateRequest) (jobs.Params, jobs.StepMessage, error) {
	p := jobs.Params{
		ChunkSize: req.ChunkSize,
		Email:     strings.ToLower(strings.TrimSpace(caller.Email)),
	}
	return p, jobs.StepMessage{Step: jobs.StepInit}, nil
}

func (h *accountDeletionHandler) Advance(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	if msg.Step == jobs.StepInit {
		total, err := h.deps.Repos.Companies.CountOwned(ctx, rec.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to count owned companies: %w", err)
		}
		rec.TotalOwnedCompanies = total
		return h.moveTo(rec, jobs.StepOwnedCompanies), nil
	}

	if msg.Step == jobs.StepUser {
		if err := h.deps.Repos.Users.Delete(ctx, rec.UserID); err != nil {
			return nil, fmt.Errorf("failed to delete user: %w", err)
		}
		rec.DeletedCount++
		rec.AddProcessed(1)
		rec.CurrentStep = jobs.StepUser
		return nil, nil
	}

	n, err := h.deleteBatch(ctx, rec, msg.Step)
	if err != nil {
		return nil, err
	}
	rec.DeletedCount += n
	rec.AddProcessed(n)
	if msg.Step == jobs.StepOwnedCompanies {
		rec.DeletedOwnedCompanies += n
	}

	if n >= rec.Params.ChunkSize {
		rec.CurrentStep = msg.Step
		rec.Progress = deletionProgress(rec, msg.Step)
		done, _ := strconv.Atoi(msg.Cursor)
		return &jobs.StepMessage{Step: msg.Step, Cursor: strconv.Itoa(done + n)}, nil
	}

	idx := slices.Index(jobs.AccountDeletionPhases, msg.Step)
	return h.moveTo(rec, jobs.AccountDeletionPhases[idx+1]), nil
}

// deleteBatch removes up to one chunk from the collection of a phase. Each
// batch takes rows from the head of the collection, so a replayed batch
// only removes rows that still exist.
func (h *accountDeletionHandler) deleteBatch(ctx context.Context, rec *jobs.Record, step jobs.Step) (int, error) {
	repos := h.deps.Repos
	limit := rec.Params.ChunkSize

	var (
		n   int
		err error
	)
	switch step {
	case jobs.StepOwnedCompanies:
		n, err = repos.Companies.DeleteOwnedBatch(ctx, rec.UserID, limit)
	case jobs.StepMemberships:
		n, err = repos.Companies.DeleteMembershipsBatch(ctx, rec.UserID, limit)
	case jobs.StepNotifications:
		n, err = repos.Notifications.DeleteBatch(ctx, rec.UserID, limit)
	case jobs.StepFriendships:
		n, err = repos.Friendships.DeleteForUserBatch(ctx, rec.UserID, limit)
	case jobs.StepInvites:
		n, err = repos.Invites.DeleteForUserBatch(ctx, rec.UserID, rec.Params.Email, limit)
	default:
		return 0, fmt.Errorf("unexpected step %q for %s", step, rec.Kind)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", strings.ToLower(string(step)), err)
	}
	return n, nil
}

func (h *accountDeletionHandler) moveTo(rec *jobs.Record, step jobs.Step) *jobs.StepMessage {
	rec.CurrentStep = step
	rec.Progress = deletionProgress(rec, step)
	return &jobs.StepMessage{Step: step, Cursor: "0"}
}

// deletionProgress is the share of phases finished before step, plus the
// owned-company fraction while that phase runs.
func deletionProgress(rec *jobs.Record, step jobs.Step) int {
	phases := jobs.AccountDeletionPhases
	idx := slices.Index(phases, step)
	if idx < 0 {
		return rec.Progress
	}
	per := 100.0 / float64(len(phases))
	p := float64(idx) * per
	if step == jobs.StepOwnedCompanies && rec.TotalOwnedCompanies > 0 {
		frac := float64(rec.DeletedOwnedCompanies) / float64(rec.TotalOwnedCompanies)
		if frac > 1 {
			frac = 1
		}
		p += frac * per
	}
	return int(p)
}
