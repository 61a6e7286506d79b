package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mtr002/tenant-jobs/internal/interfaces"
)

// Data backs every in-memory repository. Fields may be seeded directly
// before use.
type Data struct {
	mu sync.Mutex

	Users         []interfaces.User
	Companies     []interfaces.Company
	Members       []interfaces.Member
	Invites       []interfaces.Invite
	Notifications []interfaces.Notification
	Friendships   []interfaces.Friendship

	failures map[string]error
	// applied remembers which job changed which invite.
	applied map[string]bool
}

func NewData() *Data {
	return &Data{failures: make(map[string]error), applied: make(map[string]bool)}
}

// FailOn makes the named operation (e.g. "notifications.create") return err.
func (d *Data) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

func (d *Data) fail(op string) error {
	return d.failures[op]
}

// Repositories returns repository views over d.
func (d *Data) Repositories() interfaces.Repositories {
	return interfaces.Repositories{
		Users:         &userRepo{d},
		Companies:     &companyRepo{d},
		Invites:       &inviteRepo{d},
		Notifications: &notificationRepo{d},
		Friendships:   &friendshipRepo{d},
	}
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return slices.Clone(items[offset:end])
}

type userRepo struct{ d *Data }

func (r *userRepo) FindByEmails(_ context.Context, emails []string) (map[string]interfaces.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("users.find"); err != nil {
		return nil, err
	}

	out := make(map[string]interfaces.User)
	for _, u := range r.d.Users {
		e := strings.ToLower(u.Email)
		if slices.Contains(emails, e) {
			out[e] = u
		}
	}
	return out, nil
}

func (r *userRepo) Search(_ context.Context, query string, offset, limit int) ([]interfaces.User, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("users.search"); err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	var matches []interfaces.User
	for _, u := range r.d.Users {
		if strings.Contains(strings.ToLower(u.Email), q) || strings.Contains(strings.ToLower(u.Name), q) {
			matches = append(matches, u)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return page(matches, offset, limit), nil
}

func (r *userRepo) Delete(_ context.Context, userID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("users.delete"); err != nil {
		return err
	}

	r.d.Users = slices.DeleteFunc(r.d.Users, func(u interfaces.User) bool { return u.ID == userID })
	return nil
}

type companyRepo struct{ d *Data }

func (r *companyRepo) ListForUser(_ context.Context, userID string, offset, limit int) ([]interfaces.Company, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("companies.list"); err != nil {
		return nil, err
	}

	var out []interfaces.Company
	for _, c := range r.d.Companies {
		if c.OwnerID == userID || r.isMember(c.ID, userID) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, offset, limit), nil
}

func (r *companyRepo) members(companyID string, onlyOwnersAndAdmins bool) []interfaces.Member {
	var out []interfaces.Member
	for _, m := range r.d.Members {
		if m.CompanyID != companyID {
			continue
		}
		if onlyOwnersAndAdmins && m.Role != interfaces.RoleOwner && m.Role != interfaces.RoleAdmin {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *companyRepo) CountMembers(_ context.Context, companyID string, onlyOwnersAndAdmins bool) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("companies.count_members"); err != nil {
		return 0, err
	}
	return len(r.members(companyID, onlyOwnersAndAdmins)), nil
}

func (r *companyRepo) ListMembers(_ context.Context, companyID string, onlyOwnersAndAdmins bool, afterUserID string, limit int) ([]interfaces.Member, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("companies.list_members"); err != nil {
		return nil, err
	}

	var out []interfaces.Member
	for _, m := range r.members(companyID, onlyOwnersAndAdmins) {
		if m.UserID > afterUserID {
			out = append(out, m)
		}
	}
	return page(out, 0, limit), nil
}

func (r *companyRepo) isMember(companyID, userID string) bool {
	return slices.ContainsFunc(r.d.Members, func(m interfaces.Member) bool {
		return m.CompanyID == companyID && m.UserID == userID
	})
}

func (r *companyRepo) IsMember(_ context.Context, companyID, userID string) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return r.isMember(companyID, userID), nil
}

func (r *companyRepo) CountOwned(_ context.Context, ownerID string) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	n := 0
	for _, c := range r.d.Companies {
		if c.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (r *companyRepo) DeleteOwnedBatch(_ context.Context, ownerID string, limit int) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("companies.delete_owned"); err != nil {
		return 0, err
	}

	doomed := make(map[string]bool)
	for _, c := range r.d.Companies {
		if c.OwnerID == ownerID && len(doomed) < limit {
			doomed[c.ID] = true
		}
	}
	r.d.Companies = slices.DeleteFunc(r.d.Companies, func(c interfaces.Company) bool { return doomed[c.ID] })
	r.d.Members = slices.DeleteFunc(r.d.Members, func(m interfaces.Member) bool { return doomed[m.CompanyID] })
	r.d.Invites = slices.DeleteFunc(r.d.Invites, func(i interfaces.Invite) bool { return doomed[i.CompanyID] })
	return len(doomed), nil
}

func (r *companyRepo) DeleteMembershipsBatch(_ context.Context, userID string, limit int) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	n := 0
	r.d.Members = slices.DeleteFunc(r.d.Members, func(m interfaces.Member) bool {
		if m.UserID == userID && n < limit {
			n++
			return true
		}
		return false
	})
	return n, nil
}

type inviteRepo struct{ d *Data }

func matchInvite(inv interfaces.Invite, q interfaces.InviteQuery) bool {
	if q.CompanyID != "" && inv.CompanyID != q.CompanyID {
		return false
	}
	if q.Direction == interfaces.InvitesSent {
		return inv.InviterID == q.UserID
	}
	return strings.EqualFold(inv.InviteeEmail, q.Email)
}

func (r *inviteRepo) matching(q interfaces.InviteQuery) []interfaces.Invite {
	var out []interfaces.Invite
	for _, inv := range r.d.Invites {
		if matchInvite(inv, q) {
			out = append(out, inv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *inviteRepo) List(_ context.Context, q interfaces.InviteQuery, offset, limit int) ([]interfaces.Invite, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("invites.list"); err != nil {
		return nil, err
	}
	return page(r.matching(q), offset, limit), nil
}

func (r *inviteRepo) PendingIDs(_ context.Context, q interfaces.InviteQuery) ([]string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("invites.pending_ids"); err != nil {
		return nil, err
	}

	var ids []string
	for _, inv := range r.matching(q) {
		if inv.Status == interfaces.InvitePending {
			ids = append(ids, inv.ID)
		}
	}
	return ids, nil
}

func (r *inviteRepo) Delete(_ context.Context, jobID, userID, inviteID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("invites.delete"); err != nil {
		return err
	}

	before := len(r.d.Invites)
	r.d.Invites = slices.DeleteFunc(r.d.Invites, func(i interfaces.Invite) bool {
		return i.ID == inviteID && i.InviterID == userID
	})
	if len(r.d.Invites) == before {
		return r.d.notApplied(jobID, inviteID)
	}
	r.d.markApplied(jobID, inviteID)
	return nil
}

func (r *inviteRepo) Reject(_ context.Context, jobID, email, inviteID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("invites.reject"); err != nil {
		return err
	}

	for i, inv := range r.d.Invites {
		if inv.ID == inviteID && strings.EqualFold(inv.InviteeEmail, email) && inv.Status == interfaces.InvitePending {
			r.d.Invites[i].Status = interfaces.InviteRejected
			r.d.markApplied(jobID, inviteID)
			return nil
		}
	}
	return r.d.notApplied(jobID, inviteID)
}

func (d *Data) markApplied(jobID, inviteID string) {
	if d.applied == nil {
		d.applied = make(map[string]bool)
	}
	d.applied[jobID+"/"+inviteID] = true
}

// notApplied explains a mutation that matched nothing.
func (d *Data) notApplied(jobID, inviteID string) error {
	if d.applied[jobID+"/"+inviteID] {
		return fmt.Errorf("invite %s: %w", inviteID, interfaces.ErrAlreadyApplied)
	}
	return fmt.Errorf("invite %s: %w", inviteID, interfaces.ErrNotFound)
}

func (r *inviteRepo) DeleteForUserBatch(_ context.Context, userID, email string, limit int) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	n := 0
	r.d.Invites = slices.DeleteFunc(r.d.Invites, func(i interfaces.Invite) bool {
		if n < limit && (i.InviterID == userID || strings.EqualFold(i.InviteeEmail, email)) {
			n++
			return true
		}
		return false
	})
	return n, nil
}

type notificationRepo struct{ d *Data }

func (r *notificationRepo) Create(_ context.Context, n *interfaces.Notification) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("notifications.create"); err != nil {
		return false, err
	}

	if n.DedupeKey != "" && slices.ContainsFunc(r.d.Notifications, func(x interfaces.Notification) bool {
		return x.DedupeKey == n.DedupeKey
	}) {
		return false, nil
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	r.d.Notifications = append(r.d.Notifications, *n)
	return true, nil
}

func (r *notificationRepo) forUser(userID string) []interfaces.Notification {
	var out []interfaces.Notification
	for _, n := range r.d.Notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *notificationRepo) ListForUser(_ context.Context, userID string, offset, limit int) ([]interfaces.Notification, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("notifications.list"); err != nil {
		return nil, err
	}
	return page(r.forUser(userID), offset, limit), nil
}

func (r *notificationRepo) Count(_ context.Context, userID string) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return len(r.forUser(userID)), nil
}

func (r *notificationRepo) DeleteByIDs(_ context.Context, userID string, ids []string) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("notifications.delete"); err != nil {
		return 0, err
	}

	n := 0
	r.d.Notifications = slices.DeleteFunc(r.d.Notifications, func(x interfaces.Notification) bool {
		if x.UserID == userID && slices.Contains(ids, x.ID) {
			n++
			return true
		}
		return false
	})
	return n, nil
}

func (r *notificationRepo) DeleteBatch(_ context.Context, userID string, limit int) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("notifications.delete"); err != nil {
		return 0, err
	}

	doomed := make(map[string]bool)
	for _, x := range r.forUser(userID) {
		if len(doomed) == limit {
			break
		}
		doomed[x.ID] = true
	}
	r.d.Notifications = slices.DeleteFunc(r.d.Notifications, func(x interfaces.Notification) bool { return doomed[x.ID] })
	return len(doomed), nil
}

type friendshipRepo struct{ d *Data }

func involves(f interfaces.Friendship, userID string) bool {
	return f.RequesterID == userID || f.AddresseeID == userID
}

func otherParty(f interfaces.Friendship, userID string) string {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

func (r *friendshipRepo) ListForUser(_ context.Context, userID string, offset, limit int) ([]interfaces.Friendship, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("friendships.list"); err != nil {
		return nil, err
	}

	var out []interfaces.Friendship
	for _, f := range r.d.Friendships {
		if involves(f, userID) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, offset, limit), nil
}

func (r *friendshipRepo) friends(userID string) []string {
	var ids []string
	for _, f := range r.d.Friendships {
		if f.Status == interfaces.FriendshipAccepted && involves(f, userID) {
			ids = append(ids, otherParty(f, userID))
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *friendshipRepo) CountFriends(_ context.Context, userID string) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return len(r.friends(userID)), nil
}

func (r *friendshipRepo) FriendIDs(_ context.Context, userID, afterID string, limit int) ([]string, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.fail("friendships.friend_ids"); err != nil {
		return nil, err
	}

	var out []string
	for _, id := range r.friends(userID) {
		if id > afterID {
			out = append(out, id)
		}
	}
	return page(out, 0, limit), nil
}

func (r *friendshipRepo) AreFriends(_ context.Context, userID, otherID string) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return slices.Contains(r.friends(userID), otherID), nil
}

func (r *friendshipRepo) DeleteForUserBatch(_ context.Context, userID string, limit int) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	n := 0
	r.d.Friendships = slices.DeleteFunc(r.d.Friendships, func(f interfaces.Friendship) bool {
		if n < limit && involves(f, userID) {
			n++
			return true
		}
		return false
	})
	return n, nil
}
