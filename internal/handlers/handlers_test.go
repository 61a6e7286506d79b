package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/memory"
)

var (
	sender = jobs.Caller{UserID: "sender", Email: "sender@example.com"}
	epoch  = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	data     *memory.Data
	events   *memory.Events
	registry *jobs.Registry
}

func newFixture() *fixture {
	f := &fixture{data: memory.NewData(), events: &memory.Events{}}
	f.registry = NewRegistry(Deps{
		Repos:  f.data.Repositories(),
		Events: f.events,
		Now:    func() time.Time { return epoch },
	})
	return f
}

func (f *fixture) handler(t *testing.T, kind jobs.Kind) jobs.Handler {
	t.Helper()
	h, err := f.registry.Get(kind)
	require.NoError(t, err)
	return h
}

// run prepares a job and advances it until the handler reports completion,
// checking every hop against the kind's step machine. It returns the record
// and the steps visited.
func (f *fixture) run(t *testing.T, kind jobs.Kind, caller jobs.Caller, req jobs.CreateRequest) (*jobs.Record, []jobs.Step) {
	t.Helper()
	h := f.handler(t, kind)
	chunk, err := jobs.DefaultSettings().ChunkSize(kind, req.ChunkSize)
	require.NoError(t, err)
	req.ChunkSize = chunk

	params, msg, err := h.Prepare(caller, req)
	require.NoError(t, err)
	params.ChunkSize = chunk

	rec := &jobs.Record{ID: "job-1", UserID: caller.UserID, Kind: kind, Status: jobs.StatusProcessing, Params: params}
	steps := []jobs.Step{msg.Step}
	for i := 0; ; i++ {
		require.Less(t, i, 1000, "job never finished")
		next, err := h.Advance(context.Background(), rec, msg)
		require.NoError(t, err)
		if next == nil {
			return rec, steps
		}
		require.True(t, jobs.CanAdvance(kind, msg.Step, next.Step), "%s -> %s", msg.Step, next.Step)
		msg = *next
		steps = append(steps, msg.Step)
	}
}

func (f *fixture) addUser(id string) {
	f.data.Users = append(f.data.Users, interfaces.User{ID: id, Email: id + "@example.com", Name: id, CreatedAt: epoch})
}

func (f *fixture) addMember(companyID, userID string, role interfaces.MemberRole) {
	f.data.Members = append(f.data.Members, interfaces.Member{CompanyID: companyID, UserID: userID, Role: role, JoinedAt: epoch})
}

func (f *fixture) befriend(a, b string, status interfaces.FriendshipStatus) {
	f.data.Friendships = append(f.data.Friendships, interfaces.Friendship{
		ID: a + "-" + b, RequesterID: a, AddresseeID: b, Status: status, CreatedAt: epoch,
	})
}

func (f *fixture) inbox(userID string) []interfaces.Notification {
	var out []interfaces.Notification
	for _, n := range f.data.Notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func TestInviteBulk_SelectedDeleteWithMissingInvite(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"a", "b"} {
		f.data.Invites = append(f.data.Invites, interfaces.Invite{
			ID: id, CompanyID: "c1", InviterID: sender.UserID, InviteeEmail: id + "@guest.io", Status: interfaces.InvitePending,
		})
	}

	rec, steps := f.run(t, jobs.KindInviteBulk, sender, jobs.CreateRequest{
		Action: "delete", InviteIDs: []string{"a", "missing", "b", "a"}, ChunkSize: 2,
	})

	assert.Equal(t, []jobs.Step{jobs.StepApply, jobs.StepApply}, steps)
	assert.Equal(t, jobs.ScopeSelected, rec.Params.Scope)
	assert.Equal(t, 3, rec.Processed)
	assert.Equal(t, 2, rec.Succeeded)
	assert.Equal(t, 1, rec.Failed)
	require.NotNil(t, rec.Total)
	assert.Equal(t, 3, *rec.Total)
	assert.Empty(t, f.data.Invites)
}

func TestInviteBulk_ReplayedChunkCountsOwnChanges(t *testing.T) {
	f := newFixture()
	f.data.Invites = []interfaces.Invite{
		{ID: "i1", CompanyID: "c1", InviterID: "x", InviteeEmail: "sender@example.com", Status: interfaces.InvitePending, CreatedAt: epoch},
	}
	h := f.handler(t, jobs.KindInviteBulk)
	params, msg, err := h.Prepare(sender, jobs.CreateRequest{Action: "reject", InviteIDs: []string{"i1", "gone"}})
	require.NoError(t, err)
	params.ChunkSize = 10

	// each attempt starts from the record as last saved
	attempt := func(jobID string) *jobs.Record {
		rec := &jobs.Record{ID: jobID, UserID: sender.UserID, Kind: jobs.KindInviteBulk, Status: jobs.StatusProcessing, Params: params}
		next, err := h.Advance(context.Background(), rec, msg)
		require.NoError(t, err)
		assert.Nil(t, next)
		return rec
	}

	first := attempt("job-1")
	replay := attempt("job-1")
	assert.Equal(t, first.Succeeded, replay.Succeeded)
	assert.Equal(t, first.Failed, replay.Failed)
	assert.Equal(t, 1, replay.Succeeded)
	assert.Equal(t, 1, replay.Failed)

	other := attempt("job-2")
	assert.Equal(t, 0, other.Succeeded, "another job does not inherit the rejection")
	assert.Equal(t, 2, other.Failed)
}

func TestInviteBulk_RejectAllReceived(t *testing.T) {
	f := newFixture()
	f.data.Invites = []interfaces.Invite{
		{ID: "i1", CompanyID: "c1", InviterID: "x", InviteeEmail: "Sender@Example.com", Status: interfaces.InvitePending, CreatedAt: epoch},
		{ID: "i2", CompanyID: "c2", InviterID: "x", InviteeEmail: "sender@example.com", Status: interfaces.InvitePending, CreatedAt: epoch.Add(time.Second)},
		{ID: "i3", CompanyID: "c2", InviterID: "x", InviteeEmail: "sender@example.com", Status: interfaces.InviteAccepted, CreatedAt: epoch},
		{ID: "i4", CompanyID: "c2", InviterID: "x", InviteeEmail: "other@example.com", Status: interfaces.InvitePending, CreatedAt: epoch},
	}

	rec, steps := f.run(t, jobs.KindInviteBulk, sender, jobs.CreateRequest{Action: "reject", Scope: "all"})

	assert.Equal(t, []jobs.Step{jobs.StepInit, jobs.StepApply}, steps)
	assert.Equal(t, []string{"i1", "i2"}, rec.WorkingSet)
	assert.Equal(t, 2, rec.Succeeded)
	assert.Equal(t, 0, rec.Failed)
	assert.Equal(t, interfaces.InviteRejected, f.data.Invites[0].Status)
	assert.Equal(t, interfaces.InviteRejected, f.data.Invites[1].Status)
	assert.Equal(t, interfaces.InvitePending, f.data.Invites[3].Status)
}

func TestInviteBulk_NothingToDo(t *testing.T) {
	f := newFixture()
	rec, steps := f.run(t, jobs.KindInviteBulk, sender, jobs.CreateRequest{Action: "delete"})
	assert.Equal(t, []jobs.Step{jobs.StepInit}, steps)
	assert.Equal(t, 0, *rec.Total)
	assert.Equal(t, 0, rec.Processed)
}

func TestInviteBulk_InfrastructureErrorFailsStep(t *testing.T) {
	f := newFixture()
	f.data.FailOn("invites.delete", errors.New("connection reset"))
	h := f.handler(t, jobs.KindInviteBulk)

	rec := &jobs.Record{ID: "job-1", UserID: sender.UserID, Kind: jobs.KindInviteBulk,
		Params: jobs.Params{ChunkSize: 10, Action: jobs.ActionDelete, Scope: jobs.ScopeSelected, InviteIDs: []string{"a"}}}
	_, err := h.Advance(context.Background(), rec, jobs.StepMessage{Step: jobs.StepApply})
	assert.Error(t, err)
	assert.Equal(t, 0, rec.Failed)
}

func TestBroadcast_SelectedRecipients(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"ann", "bob", "cat"} {
		f.addUser(id)
	}
	f.addMember("c1", "ann", interfaces.RoleMember)
	f.addMember("c1", "bob", interfaces.RoleAdmin)

	rec, steps := f.run(t, jobs.KindNotificationBroadcast, sender, jobs.CreateRequest{
		CompanyID:        "c1",
		Title:            " Launch ",
		RecipientsEmails: []string{"ANN@example.com", "ghost@example.com", "cat@example.com", "bob@example.com", "ann@example.com"},
		ChunkSize:        2,
	})

	assert.Equal(t, []jobs.Step{jobs.StepInit, jobs.StepSelected, jobs.StepSelected}, steps)
	assert.Equal(t, jobs.ModeSelected, rec.Params.Mode)
	assert.Equal(t, 4, *rec.TotalTargets)
	assert.Equal(t, 4, rec.Processed)
	assert.Equal(t, 2, rec.Delivered)

	require.Len(t, f.inbox("ann"), 1)
	assert.Equal(t, "Launch", f.inbox("ann")[0].Title)
	assert.Len(t, f.inbox("bob"), 1)
	assert.Empty(t, f.inbox("cat"), "non-members are skipped")
	assert.Len(t, f.events.OfType(interfaces.EventNotificationCreated), 2)
}

func TestBroadcast_CompanyMembers(t *testing.T) {
	f := newFixture()
	f.addMember("c1", "u1", interfaces.RoleOwner)
	f.addMember("c1", "u2", interfaces.RoleMember)
	f.addMember("c1", "u3", interfaces.RoleMember)
	f.addMember("c2", "u4", interfaces.RoleMember)

	rec, steps := f.run(t, jobs.KindNotificationBroadcast, sender, jobs.CreateRequest{CompanyID: "c1", Title: "Hi", ChunkSize: 2})

	assert.Equal(t, []jobs.Step{jobs.StepInit, jobs.StepMembers, jobs.StepMembers}, steps)
	assert.Equal(t, jobs.ModeMembers, rec.Params.Mode)
	assert.Equal(t, 3, rec.Processed)
	assert.Equal(t, 3, *rec.TotalTargets)
	assert.Nil(t, rec.NextCursor)
	for _, id := range []string{"u1", "u2", "u3"} {
		assert.Len(t, f.inbox(id), 1, id)
	}
	assert.Empty(t, f.inbox("u4"))
}

func TestBroadcast_OnlyOwnersAndAdmins(t *testing.T) {
	f := newFixture()
	f.addMember("c1", "u1", interfaces.RoleOwner)
	f.addMember("c1", "u2", interfaces.RoleAdmin)
	f.addMember("c1", "u3", interfaces.RoleMember)

	rec, _ := f.run(t, jobs.KindNotificationBroadcast, sender, jobs.CreateRequest{CompanyID: "c1", Title: "Hi", OnlyOwnersAndAdmins: true})
	assert.Equal(t, 2, rec.Processed)
	assert.Empty(t, f.inbox("u3"))
}

func TestBroadcast_FriendsAudience(t *testing.T) {
	f := newFixture()
	f.befriend(sender.UserID, "f1", interfaces.FriendshipAccepted)
	f.befriend("f2", sender.UserID, interfaces.FriendshipAccepted)
	f.befriend(sender.UserID, "p1", interfaces.FriendshipPending)

	rec, steps := f.run(t, jobs.KindFriendBroadcast, sender, jobs.CreateRequest{Title: "Party"})

	assert.Equal(t, []jobs.Step{jobs.StepInit, jobs.StepFriends}, steps)
	assert.Equal(t, jobs.ModeFriends, rec.Params.Mode)
	assert.Equal(t, 2, rec.Processed)
	assert.Len(t, f.inbox("f1"), 1)
	assert.Len(t, f.inbox("f2"), 1)
	assert.Empty(t, f.inbox("p1"))
}

func TestBroadcast_ReplayDoesNotDuplicate(t *testing.T) {
	f := newFixture()
	f.addMember("c1", "u1", interfaces.RoleMember)
	h := f.handler(t, jobs.KindNotificationBroadcast)

	rec := &jobs.Record{ID: "job-1", UserID: sender.UserID, Kind: jobs.KindNotificationBroadcast,
		Params: jobs.Params{ChunkSize: 10, CompanyID: "c1", Title: "Hi", Mode: jobs.ModeMembers}}
	msg := jobs.StepMessage{Step: jobs.StepMembers}
	_, err := h.Advance(context.Background(), rec, msg)
	require.NoError(t, err)
	_, err = h.Advance(context.Background(), rec, msg)
	require.NoError(t, err)

	assert.Len(t, f.inbox("u1"), 1)
	assert.Equal(t, 1, rec.Delivered)
}

func TestBroadcast_NoAudienceFinishesAtInit(t *testing.T) {
	f := newFixture()
	rec, steps := f.run(t, jobs.KindNotificationBroadcast, sender, jobs.CreateRequest{CompanyID: "empty", Title: "Hi"})
	assert.Equal(t, []jobs.Step{jobs.StepInit}, steps)
	assert.Equal(t, 0, *rec.TotalTargets)
}

func TestNotificationDeletion_Selected(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.data.Notifications = append(f.data.Notifications, interfaces.Notification{
			ID: fmt.Sprintf("n%d", i), UserID: sender.UserID, Title: "t", CreatedAt: epoch,
		})
	}
	f.data.Notifications = append(f.data.Notifications, interfaces.Notification{ID: "foreign", UserID: "other", CreatedAt: epoch})

	rec, steps := f.run(t, jobs.KindNotificationDeletion, sender, jobs.CreateRequest{
		IDs: []string{"n0", "n2", "gone", "foreign"}, ChunkSize: 3,
	})

	assert.Equal(t, []jobs.Step{jobs.StepInit, jobs.StepSelected, jobs.StepSelected}, steps)
	assert.Equal(t, jobs.ModeSelected, rec.Params.Mode)
	assert.Equal(t, 4, rec.Processed)
	assert.Equal(t, 2, rec.DeletedCount)
	require.Len(t, f.data.Notifications, 2)
	assert.Equal(t, "n1", f.data.Notifications[0].ID)
	assert.Equal(t, "foreign", f.data.Notifications[1].ID)
}

func TestNotificationDeletion_All(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.data.Notifications = append(f.data.Notifications, interfaces.Notification{
			ID: fmt.Sprintf("n%d", i), UserID: sender.UserID, CreatedAt: epoch.Add(time.Duration(i) * time.Second),
		})
	}

	rec, steps := f.run(t, jobs.KindNotificationDeletion, sender, jobs.CreateRequest{DeleteAll: true, ChunkSize: 2})

	assert.Equal(t, []jobs.Step{jobs.StepInit, jobs.StepApply, jobs.StepApply, jobs.StepApply}, steps)
	assert.Equal(t, jobs.ModeAll, rec.Params.Mode)
	assert.Equal(t, 5, rec.DeletedCount)
	assert.Equal(t, 5, *rec.Total)
	assert.Empty(t, f.data.Notifications)
}

func TestAccountDeletion_RunsEveryPhase(t *testing.T) {
	f := newFixture()
	me := jobs.Caller{UserID: "me", Email: "me@example.com"}
	f.addUser("me")
	f.addUser("friend")
	for i := 0; i < 3; i++ {
		f.data.Companies = append(f.data.Companies, interfaces.Company{ID: fmt.Sprintf("own%d", i), OwnerID: "me", CreatedAt: epoch})
	}
	f.data.Companies = append(f.data.Companies, interfaces.Company{ID: "theirs", OwnerID: "friend", CreatedAt: epoch})
	f.addMember("own0", "friend", interfaces.RoleMember)
	f.addMember("theirs", "me", interfaces.RoleMember)
	f.data.Notifications = []interfaces.Notification{{ID: "n1", UserID: "me"}, {ID: "n2", UserID: "friend"}}
	f.befriend("me", "friend", interfaces.FriendshipAccepted)
	f.data.Invites = []interfaces.Invite{
		{ID: "sent", CompanyID: "theirs", InviterID: "me", InviteeEmail: "x@example.com", Status: interfaces.InvitePending},
		{ID: "received", CompanyID: "theirs", InviterID: "friend", InviteeEmail: "ME@example.com", Status: interfaces.InvitePending},
	}

	rec, steps := f.run(t, jobs.KindUserDeletion, me, jobs.CreateRequest{ChunkSize: 2})

	assert.Equal(t, []jobs.Step{
		jobs.StepInit,
		jobs.StepOwnedCompanies, jobs.StepOwnedCompanies,
		jobs.StepMemberships,
		jobs.StepNotifications,
		jobs.StepFriendships,
		jobs.StepInvites, jobs.StepInvites,
		jobs.StepUser,
	}, steps)
	assert.Equal(t, jobs.StepUser, rec.CurrentStep)
	assert.Equal(t, 3, rec.TotalOwnedCompanies)
	assert.Equal(t, 3, rec.DeletedOwnedCompanies)
	assert.Equal(t, 9, rec.DeletedCount)

	require.Len(t, f.data.Companies, 1)
	assert.Equal(t, "theirs", f.data.Companies[0].ID)
	assert.Empty(t, f.data.Members)
	require.Len(t, f.data.Notifications, 1)
	assert.Equal(t, "friend", f.data.Notifications[0].UserID)
	assert.Empty(t, f.data.Friendships)
	assert.Empty(t, f.data.Invites)
	require.Len(t, f.data.Users, 1)
	assert.Equal(t, "friend", f.data.Users[0].ID)
}

func TestAccountDeletion_ProgressIsMonotonic(t *testing.T) {
	f := newFixture()
	for i := 0; i < 4; i++ {
		f.data.Companies = append(f.data.Companies, interfaces.Company{ID: fmt.Sprintf("c%d", i), OwnerID: "me"})
	}
	h := f.handler(t, jobs.KindUserDeletion)
	rec := &jobs.Record{ID: "job-1", UserID: "me", Kind: jobs.KindUserDeletion, Params: jobs.Params{ChunkSize: 1}}

	msg := jobs.StepMessage{Step: jobs.StepInit}
	last := -1
	for {
		next, err := h.Advance(context.Background(), rec, msg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.Progress, last)
		assert.LessOrEqual(t, rec.Progress, 100)
		last = rec.Progress
		if next == nil {
			break
		}
		msg = *next
	}
	assert.Equal(t, 83, rec.Progress)
}

func TestDeletionProgress(t *testing.T) {
	rec := &jobs.Record{TotalOwnedCompanies: 4, DeletedOwnedCompanies: 2}
	assert.Equal(t, 8, deletionProgress(rec, jobs.StepOwnedCompanies))
	assert.Equal(t, 16, deletionProgress(rec, jobs.StepMemberships))
	assert.Equal(t, 83, deletionProgress(rec, jobs.StepUser))

	rec.Progress = 42
	assert.Equal(t, 42, deletionProgress(rec, jobs.StepInit))
}

func TestListing_PagesWithOffsetCursor(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.data.Users = append(f.data.Users, interfaces.User{
			ID: fmt.Sprintf("u%d", i), Email: fmt.Sprintf("ann%d@example.com", i), CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
		})
	}
	f.addUser("zed")

	rec, steps := f.run(t, jobs.KindUserSearch, sender, jobs.CreateRequest{Query: "ANN", ChunkSize: 2})
	assert.Len(t, steps, 3)
	assert.Equal(t, 5, rec.Processed)
	assert.Equal(t, 5, *rec.Total)
	assert.Len(t, rec.Items, 5)
	assert.Nil(t, rec.NextCursor)
	assert.Equal(t, "4", rec.Cursor)
}

func TestListing_StopsKeepingItemsAtCap(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.data.Companies = append(f.data.Companies, interfaces.Company{
			ID: fmt.Sprintf("c%d", i), Name: "Acme", OwnerID: sender.UserID, CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
		})
	}
	h := f.handler(t, jobs.KindCompanyListing)
	rec := &jobs.Record{ID: "job-1", UserID: sender.UserID, Kind: jobs.KindCompanyListing, Status: jobs.StatusProcessing,
		Params: jobs.Params{ChunkSize: 2, MaxItems: 3}}

	msg := jobs.StepMessage{Cursor: "0"}
	for i := 0; ; i++ {
		require.Less(t, i, 10)
		next, err := h.Advance(context.Background(), rec, msg)
		require.NoError(t, err)
		if next == nil {
			break
		}
		msg = *next
	}

	assert.Equal(t, 5, rec.Processed, "counting continues past the cap")
	assert.Len(t, rec.Items, 3)
	assert.True(t, rec.ItemsTruncated)
	rec.Status = jobs.StatusCompleted
	assert.True(t, jobs.NewStatus(rec).Truncated)
}

func TestListing_RejectsBadCursor(t *testing.T) {
	f := newFixture()
	h := f.handler(t, jobs.KindCompanyListing)
	rec := &jobs.Record{Kind: jobs.KindCompanyListing, Params: jobs.Params{ChunkSize: 10}}
	_, err := h.Advance(context.Background(), rec, jobs.StepMessage{Cursor: "abc"})
	assert.Error(t, err)
}

func TestPrepare_Validation(t *testing.T) {
	f := newFixture()
	noEmail := jobs.Caller{UserID: "u"}

	tests := []struct {
		name   string
		kind   jobs.Kind
		caller jobs.Caller
		req    jobs.CreateRequest
	}{
		{"bulk without action", jobs.KindInviteBulk, sender, jobs.CreateRequest{}},
		{"bulk bad action", jobs.KindInviteBulk, sender, jobs.CreateRequest{Action: "accept"}},
		{"bulk selected without ids", jobs.KindInviteBulk, sender, jobs.CreateRequest{Action: "delete", Scope: "selected", InviteIDs: []string{" "}}},
		{"bulk bad scope", jobs.KindInviteBulk, sender, jobs.CreateRequest{Action: "delete", Scope: "some"}},
		{"reject without email", jobs.KindInviteBulk, noEmail, jobs.CreateRequest{Action: "reject"}},
		{"broadcast without title", jobs.KindNotificationBroadcast, sender, jobs.CreateRequest{CompanyID: "c1"}},
		{"broadcast without company", jobs.KindNotificationBroadcast, sender, jobs.CreateRequest{Title: "x"}},
		{"friend broadcast without title", jobs.KindFriendBroadcast, sender, jobs.CreateRequest{}},
		{"deletion without ids", jobs.KindNotificationDeletion, sender, jobs.CreateRequest{}},
		{"search without query", jobs.KindUserSearch, sender, jobs.CreateRequest{Query: "  "}},
		{"invites bad direction", jobs.KindInviteListing, sender, jobs.CreateRequest{Direction: "sideways"}},
		{"received invites without email", jobs.KindInviteListing, noEmail, jobs.CreateRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.handler(t, tt.kind).Prepare(tt.caller, tt.req)
			assert.ErrorIs(t, err, jobs.ErrValidation)
		})
	}
}

func TestNewRegistry_CoversEveryKind(t *testing.T) {
	f := newFixture()
	assert.Equal(t, jobs.AllKinds, f.registry.Kinds())
}

func TestWindow(t *testing.T) {
	tests := []struct {
		index, chunk, n int
		start, end      int
	}{
		{0, 2, 5, 0, 2},
		{4, 2, 5, 4, 5},
		{7, 2, 5, 5, 5},
		{-1, 2, 5, 0, 2},
	}
	for _, tt := range tests {
		start, end := window(tt.index, tt.chunk, tt.n)
		assert.Equal(t, tt.start, start)
		assert.Equal(t, tt.end, end)
	}
}
