package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
)

// InviteStore handles company invites
type InviteStore struct {
	db *sql.DB
}

// inviteFilter returns the WHERE clause and arguments selecting q's
// invites. Further placeholders start at the returned index.
func inviteFilter(q interfaces.InviteQuery) (string, []any, int) {
	var where string
	args := []any{}
	if q.Direction == interfaces.InvitesSent {
		where = `inviter_id = $1`
		args = append(args, q.UserID)
	} else {
		where = `lower(invitee_email) = lower($1)`
		args = append(args, q.Email)
	}
	if q.CompanyID != "" {
		where += ` AND company_id = $2`
		args = append(args, q.CompanyID)
	}
	return where, args, len(args) + 1
}

func (s *InviteStore) List(ctx context.Context, q interfaces.InviteQuery, offset, limit int) ([]interfaces.Invite, error) {
	where, args, next := inviteFilter(q)
	query := fmt.Sprintf(`
		SELECT id, company_id, inviter_id, invitee_email, status, created_at
		FROM invites
		WHERE %s
		ORDER BY created_at, id
		OFFSET $%d LIMIT $%d
	`, where, next, next+1)

	rows, err := s.db.QueryContext(ctx, query, append(args, offset, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	defer rows.Close()

	var invites []interfaces.Invite
	for rows.Next() {
		var inv interfaces.Invite
		if err := rows.Scan(&inv.ID, &inv.CompanyID, &inv.InviterID, &inv.InviteeEmail, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invites: %w", err)
	}
	return invites, nil
}

func (s *InviteStore) PendingIDs(ctx context.Context, q interfaces.InviteQuery) ([]string, error) {
	where, args, _ := inviteFilter(q)
	query := `SELECT id FROM invites WHERE ` + where + ` AND status = 'pending' ORDER BY created_at, id`
	return queryIDs(ctx, s.db, "list pending invites", query, args...)
}

// Delete removes the invite and logs the action under jobID in the same
// statement, so a replay can tell its own deletion from a missing invite.
func (s *InviteStore) Delete(ctx context.Context, jobID, userID, inviteID string) error {
	query := `
		WITH removed AS (
			DELETE FROM invites WHERE id = $2 AND inviter_id = $3 RETURNING id
		)
		INSERT INTO invite_actions (job_id, invite_id, action)
		SELECT $1, id, 'delete' FROM removed
	`
	n, err := execCount(ctx, s.db, "delete invite", query, jobID, inviteID, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.notApplied(ctx, jobID, inviteID)
	}
	return nil
}

func (s *InviteStore) Reject(ctx context.Context, jobID, email, inviteID string) error {
	query := `
		WITH rejected AS (
			UPDATE invites SET status = 'rejected'
			WHERE id = $2 AND lower(invitee_email) = lower($3) AND status = 'pending'
			RETURNING id
		)
		INSERT INTO invite_actions (job_id, invite_id, action)
		SELECT $1, id, 'reject' FROM rejected
	`
	n, err := execCount(ctx, s.db, "reject invite", query, jobID, inviteID, email)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.notApplied(ctx, jobID, inviteID)
	}
	return nil
}

// notApplied explains a mutation that matched no invite.
func (s *InviteStore) notApplied(ctx context.Context, jobID, inviteID string) error {
	var applied bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM invite_actions WHERE job_id = $1 AND invite_id = $2)`,
		jobID, inviteID).Scan(&applied)
	if err != nil {
		return fmt.Errorf("failed to check invite %s: %w", inviteID, err)
	}
	if applied {
		return fmt.Errorf("invite %s: %w", inviteID, interfaces.ErrAlreadyApplied)
	}
	return fmt.Errorf("invite %s: %w", inviteID, interfaces.ErrNotFound)
}

func (s *InviteStore) DeleteForUserBatch(ctx context.Context, userID, email string, limit int) (int, error) {
	query := `
		DELETE FROM invites
		WHERE id IN (
			SELECT id FROM invites
			WHERE inviter_id = $1 OR lower(invitee_email) = lower($2)
			ORDER BY id LIMIT $3
		)
	`
	return execCount(ctx, s.db, "delete invites", query, userID, email, limit)
}

// NotificationStore handles notifications
type NotificationStore struct {
	db *sql.DB
}

func (s *NotificationStore) Create(ctx context.Context, n *interfaces.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	query := `
		INSERT INTO notifications (id, user_id, sender_id, company_id, title, body, reply_to_id, dedupe_key, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (dedupe_key) DO NOTHING
	`
	inserted, err := execCount(ctx, s.db, "create notification", query,
		n.ID, n.UserID, n.SenderID, n.CompanyID, n.Title, n.Body, n.ReplyToID, n.DedupeKey, n.CreatedAt)
	if err != nil {
		return false, err
	}
	return inserted == 1, nil
}

func (s *NotificationStore) ListForUser(ctx context.Context, userID string, offset, limit int) ([]interfaces.Notification, error) {
	query := `
		SELECT id, user_id, sender_id, company_id, title, body, reply_to_id, read_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at, id
		OFFSET $2 LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []interfaces.Notification
	for rows.Next() {
		var n interfaces.Notification
		var companyID sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.SenderID, &companyID, &n.Title, &n.Body, &n.ReplyToID, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.CompanyID = companyID.String
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, nil
}

func (s *NotificationStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) DeleteByIDs(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return execCount(ctx, s.db, "delete notifications",
		`DELETE FROM notifications WHERE user_id = $1 AND id = ANY($2)`, userID, pq.Array(ids))
}

func (s *NotificationStore) DeleteBatch(ctx context.Context, userID string, limit int) (int, error) {
	query := `
		DELETE FROM notifications
		WHERE id IN (SELECT id FROM notifications WHERE user_id = $1 ORDER BY created_at, id LIMIT $2)
	`
	return execCount(ctx, s.db, "delete notifications", query, userID, limit)
}

// FriendshipStore handles friendships
type FriendshipStore struct {
	db *sql.DB
}

func (s *FriendshipStore) ListForUser(ctx context.Context, userID string, offset, limit int) ([]interfaces.Friendship, error) {
	query := `
		SELECT id, requester_id, addressee_id, status, created_at
		FROM friendships
		WHERE requester_id = $1 OR addressee_id = $1
		ORDER BY created_at, id
		OFFSET $2 LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list friendships: %w", err)
	}
	defer rows.Close()

	var out []interfaces.Friendship
	for rows.Next() {
		var f interfaces.Friendship
		if err := rows.Scan(&f.ID, &f.RequesterID, &f.AddresseeID, &f.Status, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan friendship: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating friendships: %w", err)
	}
	return out, nil
}

const acceptedFriends = `
	SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END AS friend_id
	FROM friendships
	WHERE status = 'accepted' AND (requester_id = $1 OR addressee_id = $1)
`

func (s *FriendshipStore) CountFriends(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM (`+acceptedFriends+`) f`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count friends: %w", err)
	}
	return n, nil
}

func (s *FriendshipStore) FriendIDs(ctx context.Context, userID, afterID string, limit int) ([]string, error) {
	query := `SELECT friend_id FROM (` + acceptedFriends + `) f WHERE friend_id > $2 ORDER BY friend_id LIMIT $3`
	return queryIDs(ctx, s.db, "list friends", query, userID, afterID, limit)
}

func (s *FriendshipStore) AreFriends(ctx context.Context, userID, otherID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM (` + acceptedFriends + `) f WHERE friend_id = $2)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, userID, otherID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return ok, nil
}

func (s *FriendshipStore) DeleteForUserBatch(ctx context.Context, userID string, limit int) (int, error) {
	query := `
		DELETE FROM friendships
		WHERE id IN (
			SELECT id FROM friendships
			WHERE requester_id = $1 OR addressee_id = $1
			ORDER BY id LIMIT $2
		)
	`
	return execCount(ctx, s.db, "delete friendships", query, userID, limit)
}

func queryIDs(ctx context.Context, db *sql.DB, what, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", what, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}
