// Package handlers implements the step logic of every job kind.
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/logger"
)

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Repos  interfaces.Repositories
	Events interfaces.EventPublisher
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// publish emits a realtime event; delivery problems never fail a step.
func (d Deps) publish(ctx context.Context, ev interfaces.Event) {
	if d.Events == nil {
		return
	}
	if err := d.Events.PublishEvent(ctx, ev); err != nil {
		logger.Logger.Warn().Err(err).Str("type", ev.Type).Str("user_id", ev.UserID).Msg("Failed to publish event")
	}
}

// NewRegistry wires a handler for every job kind.
func NewRegistry(deps Deps) *jobs.Registry {
	return jobs.NewRegistry(
		companyListing(deps),
		inviteListing(deps),
		userSearch(deps),
		friendshipListing(deps),
		notificationListing(deps),
		&inviteBulkHandler{deps: deps},
		&broadcastHandler{kind: jobs.KindNotificationBroadcast, audience: jobs.StepMembers, deps: deps},
		&broadcastHandler{kind: jobs.KindFriendBroadcast, audience: jobs.StepFriends, deps: deps},
		&notificationDeletionHandler{deps: deps},
		&accountDeletionHandler{deps: deps},
	)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", jobs.ErrValidation, fmt.Sprintf(format, args...))
}

// normalizeEmails trims, lowercases and de-duplicates, dropping blanks.
func normalizeEmails(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// normalizeIDs trims and de-duplicates, dropping blanks.
func normalizeIDs(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// window returns the bounds of the chunk starting at index.
func window(index, chunk, n int) (int, int) {
	if index < 0 {
		index = 0
	}
	if index > n {
		index = n
	}
	end := index + chunk
	if end > n {
		end = n
	}
	return index, end
}
