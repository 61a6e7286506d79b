package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/jobs"
)

type fetchFunc func(ctx context.Context, rec *jobs.Record, offset, limit int) ([]json.RawMessage, error)

// listingHandler pages through a collection with an offset cursor,
// accumulating items on the record up to Params.MaxItems.
type listingHandler struct {
	kind    jobs.Kind
	prepare func(caller jobs.Caller, req jobs.CreateRequest, p *jobs.Params) error
	fetch   fetchFunc
}

func (h *listingHandler) Kind() jobs.Kind { return h.kind }

func (h *listingHandler) Prepare(caller jobs.Caller, req jobs.CreateRequest) (jobs.Params, jobs.StepMessage, error) {
	p := jobs.Params{ChunkSize: req.ChunkSize, Email: strings.ToLower(caller.Email)}
	if h.prepare != nil {
		if err := h.prepare(caller, req, &p); err != nil {
			return jobs.Params{}, jobs.StepMessage{}, err
		}
	}
	return p, jobs.StepMessage{Cursor: "0"}, nil
}

func (h *listingHandler) Advance(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (*jobs.StepMessage, error) {
	offset := 0
	if msg.Cursor != "" {
		n, err := strconv.Atoi(msg.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid listing cursor %q", msg.Cursor)
		}
		offset = n
	}
	chunk := rec.Params.ChunkSize

	items, err := h.fetch(ctx, rec, offset, chunk)
	if err != nil {
		return nil, err
	}

	rec.Cursor = strconv.Itoa(offset)
	keepItems(rec, items)
	rec.AddProcessed(len(items))

	if len(items) < chunk {
		rec.SetNextCursor("")
		rec.SetTotal(rec.Processed)
		return nil, nil
	}
	next := strconv.Itoa(offset + len(items))
	rec.SetNextCursor(next)
	return &jobs.StepMessage{Cursor: next}, nil
}

// keepItems appends items to the record until it holds MaxItems.
func keepItems(rec *jobs.Record, items []json.RawMessage) {
	limit := rec.Params.MaxItems
	if limit <= 0 || len(rec.Items)+len(items) <= limit {
		rec.Items = append(rec.Items, items...)
		return
	}
	if room := limit - len(rec.Items); room > 0 {
		rec.Items = append(rec.Items, items[:room]...)
	}
	rec.ItemsTruncated = true
}

func encodeAll[T any](items []T, err error) ([]json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("failed to encode listing item: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func companyListing(d Deps) *listingHandler {
	return &listingHandler{
		kind: jobs.KindCompanyListing,
		fetch: func(ctx context.Context, rec *jobs.Record, offset, limit int) ([]json.RawMessage, error) {
			return encodeAll(d.Repos.Companies.ListForUser(ctx, rec.UserID, offset, limit))
		},
	}
}

func inviteListing(d Deps) *listingHandler {
	return &listingHandler{
		kind: jobs.KindInviteListing,
		prepare: func(caller jobs.Caller, req jobs.CreateRequest, p *jobs.Params) error {
			dir := interfaces.InviteDirection(strings.ToLower(strings.TrimSpace(req.Direction)))
			switch dir {
			case "":
				dir = interfaces.InvitesReceived
			case interfaces.InvitesReceived, interfaces.InvitesSent:
			default:
				return invalid("direction must be %q or %q", interfaces.InvitesReceived, interfaces.InvitesSent)
			}
			if dir == interfaces.InvitesReceived && p.Email == "" {
				return invalid("caller email is required to list received invites")
			}
			p.Direction = string(dir)
			p.CompanyID = strings.TrimSpace(req.CompanyID)
			return nil
		},
		fetch: func(ctx context.Context, rec *jobs.Record, offset, limit int) ([]json.RawMessage, error) {
			q := interfaces.InviteQuery{
				UserID:    rec.UserID,
				Email:     rec.Params.Email,
				Direction: interfaces.InviteDirection(rec.Params.Direction),
				CompanyID: rec.Params.CompanyID,
			}
			return encodeAll(d.Repos.Invites.List(ctx, q, offset, limit))
		},
	}
}

func userSearch(d Deps) *listingHandler {
	return &listingHandler{
		kind: jobs.KindUserSearch,
		prepare: func(_ jobs.Caller, req jobs.CreateRequest, p *jobs.Params) error {
			q := strings.TrimSpace(req.Query)
			if q == "" {
				return invalid("query is required")
			}
			p.Query = q
			return nil
		},
		fetch: func(ctx context.Context, rec *jobs.Record, offset, limit int) ([]json.RawMessage, error) {
			return encodeAll(d.Repos.Users.Search(ctx, rec.Params.Query, offset, limit))
		},
	}
}

func friendshipListing(d Deps) *listingHandler {
	return &listingHandler{
		kind: jobs.KindFriendshipListing,
		fetch: func(ctx context.Context, rec *jobs.Record, offset, limit int) ([]json.RawMessage, error) {
			return encodeAll(d.Repos.Friendships.ListForUser(ctx, rec.UserID, offset, limit))
		},
	}
}

func notificationListing(d Deps) *listingHandler {
	return &listingHandler{
		kind: jobs.KindNotificationListing,
		fetch: func(ctx context.Context, rec *jobs.Record, offset, limit int) ([]json.RawMessage, error) {
			return encodeAll(d.Repos.Notifications.ListForUser(ctx, rec.UserID, offset, limit))
		},
	}
}
