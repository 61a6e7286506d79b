package interfaces

import "context"

// Offset listings are ordered by (created_at, id). Keyset listings are
// ordered by user id and return rows strictly after the given id.

type UserRepository interface {
	// FindByEmails returns the users matching the given lowercase emails,
	// keyed by email. Unknown emails are absent from the map.
	FindByEmails(ctx context.Context, emails []string) (map[string]User, error)
	Search(ctx context.Context, query string, offset, limit int) ([]User, error)
	// Delete removes the user. Deleting a missing user is a no-op.
	Delete(ctx context.Context, userID string) error
}

type CompanyRepository interface {
	ListForUser(ctx context.Context, userID string, offset, limit int) ([]Company, error)
	CountMembers(ctx context.Context, companyID string, onlyOwnersAndAdmins bool) (int, error)
	ListMembers(ctx context.Context, companyID string, onlyOwnersAndAdmins bool, afterUserID string, limit int) ([]Member, error)
	IsMember(ctx context.Context, companyID, userID string) (bool, error)
	CountOwned(ctx context.Context, ownerID string) (int, error)
	// DeleteOwnedBatch deletes up to limit companies owned by ownerID,
	// together with their members and invites, and returns how many
	// companies were deleted.
	DeleteOwnedBatch(ctx context.Context, ownerID string, limit int) (int, error)
	DeleteMembershipsBatch(ctx context.Context, userID string, limit int) (int, error)
}

// InviteDirection selects received (by email) or sent (by inviter) invites.
type InviteDirection string

const (
	InvitesReceived InviteDirection = "received"
	InvitesSent     InviteDirection = "sent"
)

type InviteQuery struct {
	UserID    string
	Email     string
	Direction InviteDirection
	CompanyID string
}

type InviteRepository interface {
	List(ctx context.Context, q InviteQuery, offset, limit int) ([]Invite, error)
	// PendingIDs returns the ids of every pending invite matching q, ordered.
	PendingIDs(ctx context.Context, q InviteQuery) ([]string, error)
	// Delete removes an invite sent by userID on behalf of jobID.
	// ErrAlreadyApplied when jobID already deleted it, ErrNotFound when it
	// does not exist or is not visible to userID.
	Delete(ctx context.Context, jobID, userID, inviteID string) error
	// Reject rejects a pending invite addressed to email on behalf of jobID.
	// ErrAlreadyApplied when jobID already rejected it, ErrNotFound when it
	// does not exist, is not addressed to email, or is no longer pending.
	Reject(ctx context.Context, jobID, email, inviteID string) error
	DeleteForUserBatch(ctx context.Context, userID, email string, limit int) (int, error)
}

type NotificationRepository interface {
	// Create inserts n unless a notification with the same DedupeKey exists.
	// It reports whether a row was inserted.
	Create(ctx context.Context, n *Notification) (bool, error)
	ListForUser(ctx context.Context, userID string, offset, limit int) ([]Notification, error)
	Count(ctx context.Context, userID string) (int, error)
	// DeleteByIDs deletes the listed notifications owned by userID and
	// returns how many existed. Missing ids are ignored.
	DeleteByIDs(ctx context.Context, userID string, ids []string) (int, error)
	DeleteBatch(ctx context.Context, userID string, limit int) (int, error)
}

type FriendshipRepository interface {
	ListForUser(ctx context.Context, userID string, offset, limit int) ([]Friendship, error)
	CountFriends(ctx context.Context, userID string) (int, error)
	// FriendIDs returns accepted friends of userID ordered by id, after afterID.
	FriendIDs(ctx context.Context, userID, afterID string, limit int) ([]string, error)
	AreFriends(ctx context.Context, userID, otherID string) (bool, error)
	DeleteForUserBatch(ctx context.Context, userID string, limit int) (int, error)
}

// Repositories bundles the business collections the worker touches.
type Repositories struct {
	Users         UserRepository
	Companies     CompanyRepository
	Invites       InviteRepository
	Notifications NotificationRepository
	Friendships   FriendshipRepository
}
