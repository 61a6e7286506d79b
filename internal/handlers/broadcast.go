package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/jobs"
)

// broadcastHandler fans a notification out to an explicit recipient list
// (SELECTED) or to an enumerated audience (MEMBERS of a company or FRIENDS
// of the sender).
type broadcastHandler struct {
	kind     jobs.Kind
	audience jobs.Step
	deps     Deps
}

func (h *broadcastHandler) Kind() jobs.Kind { return h.kind }

func (h *broadcastHandler) audienceMode() jobs.Mode {
	if h.audience == jobs.StepFriends {
		return jobs.ModeFriends
	}
	return jobs.ModeMembers
}

func (h *broadcastHandler) Prepare(_ jobs.Caller, req jobs.CreateRequest) (jobs.Params, jobs.StepMessage, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return jobs.Params{}, jobs.StepMessage{}, invalid("title is required")
	}
	companyID := strings.TrimSpace(req.CompanyID)
	if h.kind == jobs.KindNotificationBroadcast && companyID == "" {
		return jobs.Params{}, jobs.StepMessage{}, invalid("companyId is required")
	}

	emails := normalizeEmails(req.RecipientsEmails)
	mode := h.audienceMode()
	if len(emails) > 0 {
		mode = jobs.ModeSelected
	}

	p := jobs.Params{
		ChunkSize:       req.ChunkSize,
		CompanyID:       companyID,
		Title:           title,
		Body:            strings.TrimSpace(req.Body),
		Mode:            mode,
		SelectedTargets: emails,
	}
	if h.kind == jobs.KindNotificationBroadcast {
		p.OnlyOwnersAndAdmins = req.OnlyOwnersAndAdmins
	}
	return p, jobs.StepMessage{Step: jobs.StepInit}, nil
}

func (h *broadcastHandler) Advance(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	switch msg.Step {
	case jobs.StepInit:
		return h.init(ctx, rec)
	case jobs.StepSelected:
		return h.selected(ctx, rec, msg)
	case h.audience:
		return h.fanOut(ctx, rec, msg)
	}
	return nil, fmt.Errorf("unexpected step %q for %s", msg.Step, rec.Kind)
}

func (h *broadcastHandler) init(ctx context.Context, rec *jobs.Record) (*jobs.StepMessage, error) {
	var (
		total int
		next  jobs.StepMessage
		err   error
	)
	if rec.Params.Mode == jobs.ModeSelected {
		total = len(rec.Params.SelectedTargets)
		next = jobs.StepMessage{Step: jobs.StepSelected, Index: 0}
	} else {
		total, err = h.countAudience(ctx, rec)
		if err != nil {
			return nil, err
		}
		next = jobs.StepMessage{Step: h.audience}
	}

	rec.SetTotalTargets(total)
	rec.CurrentStep = next.Step
	if total == 0 {
		return nil, nil
	}
	return &next, nil
}

func (h *broadcastHandler) countAudience(ctx context.Context, rec *jobs.Record) (int, error) {
	if h.audience == jobs.StepFriends {
		n, err := h.deps.Repos.Friendships.CountFriends(ctx, rec.UserID)
		if err != nil {
			return 0, fmt.Errorf("failed to count friends: %w", err)
		}
		return n, nil
	}
	n, err := h.deps.Repos.Companies.CountMembers(ctx, rec.Params.CompanyID, rec.Params.OnlyOwnersAndAdmins)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}

// reachable reports whether the sender may notify userID in this broadcast.
func (h *broadcastHandler) reachable(ctx context.Context, rec *jobs.Record, userID string) (bool, error) {
	if h.audience == jobs.StepFriends {
		return h.deps.Repos.Friendships.AreFriends(ctx, rec.UserID, userID)
	}
	return h.deps.Repos.Companies.IsMember(ctx, rec.Params.CompanyID, userID)
}

func (h *broadcastHandler) selected(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	targets := rec.Params.SelectedTargets
	start, end := window(msg.Index, rec.Params.ChunkSize, len(targets))
	chunk := targets[start:end]

	users, err := h.deps.Repos.Users.FindByEmails(ctx, chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	for _, email := range chunk {
		u, ok := users[email]
		if !ok {
			continue
		}
		reach, err := h.reachable(ctx, rec, u.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check recipient %s: %w", u.ID, err)
		}
		if !reach {
			continue
		}
		if err := h.deliver(ctx, rec, u.ID); err != nil {
			return nil, err
		}
	}
	h.advance(rec, len(chunk))

	if end >= len(targets) {
		return nil, nil
	}
	return &jobs.StepMessage{Step: jobs.StepSelected, Index: end}, nil
}

func (h *broadcastHandler) fanOut(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	chunk := rec.Params.ChunkSize
	var ids []string
	if h.audience == jobs.StepFriends {
		friends, err := h.deps.Repos.Friendships.FriendIDs(ctx, rec.UserID, msg.Cursor, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to list friends: %w", err)
		}
		ids = friends
	} else {
		members, err := h.deps.Repos.Companies.ListMembers(ctx, rec.Params.CompanyID, rec.Params.OnlyOwnersAndAdmins, msg.Cursor, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to list members: %w", err)
		}
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
	}

	for _, id := range ids {
		if err := h.deliver(ctx, rec, id); err != nil {
			return nil, err
		}
	}
	h.advance(rec, len(ids))
	rec.Cursor = msg.Cursor

	if len(ids) < chunk {
		rec.SetNextCursor("")
		return nil, nil
	}
	last := ids[len(ids)-1]
	rec.SetNextCursor(last)
	return &jobs.StepMessage{Step: h.audience, Cursor: last}, nil
}

func (h *broadcastHandler) advance(rec *jobs.Record, n int) {
	rec.AddProcessed(n)
	if rec.TotalTargets != nil && rec.Processed > *rec.TotalTargets {
		rec.SetTotalTargets(rec.Processed)
	}
}

// deliver creates one notification. The dedupe key makes a replayed chunk
// a no-op for recipients already notified.
func (h *broadcastHandler) deliver(ctx context.Context, rec *jobs.Record, recipientID string) error {
	n := &interfaces.Notification{
		UserID:    recipientID,
		SenderID:  rec.UserID,
		CompanyID: rec.Params.CompanyID,
		Title:     rec.Params.Title,
		Body:      rec.Params.Body,
		DedupeKey: rec.ID + ":" + recipientID,
		CreatedAt: h.deps.now(),
	}
	created, err := h.deps.Repos.Notifications.Create(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to create notification for %s: %w", recipientID, err)
	}
	if !created {
		return nil
	}
	rec.Delivered++
	h.deps.publish(ctx, interfaces.Event{
		Type:   interfaces.EventNotificationCreated,
		UserID: recipientID,
		Data:   n,
	})
	return nil
}
