package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
)

// NewRepositories returns PostgreSQL implementations of every business
// repository.
func NewRepositories(db *sql.DB) interfaces.Repositories {
	return interfaces.Repositories{
		Users:         &UserStore{db: db},
		Companies:     &CompanyStore{db: db},
		Invites:       &InviteStore{db: db},
		Notifications: &NotificationStore{db: db},
		Friendships:   &FriendshipStore{db: db},
	}
}

// UserStore handles user rows
type UserStore struct {
	db *sql.DB
}

func (s *UserStore) FindByEmails(ctx context.Context, emails []string) (map[string]interfaces.User, error) {
	out := make(map[string]interfaces.User, len(emails))
	if len(emails) == 0 {
		return out, nil
	}

	query := `SELECT id, email, name, created_at FROM users WHERE lower(email) = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("failed to find users by email: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u interfaces.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out[strings.ToLower(u.Email)] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return out, nil
}

func (s *UserStore) Search(ctx context.Context, query string, offset, limit int) ([]interfaces.User, error) {
	q := `
		SELECT id, email, name, created_at
		FROM users
		WHERE email ILIKE $1 OR name ILIKE $1
		ORDER BY created_at, id
		OFFSET $2 LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, likePattern(query), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []interfaces.User
	for rows.Next() {
		var u interfaces.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

func (s *UserStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// CompanyStore handles companies and their memberships
type CompanyStore struct {
	db *sql.DB
}

func (s *CompanyStore) ListForUser(ctx context.Context, userID string, offset, limit int) ([]interfaces.Company, error) {
	query := `
		SELECT c.id, c.name, c.owner_id, c.created_at
		FROM companies c
		WHERE c.owner_id = $1
		   OR EXISTS (SELECT 1 FROM company_members m WHERE m.company_id = c.id AND m.user_id = $1)
		ORDER BY c.created_at, c.id
		OFFSET $2 LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var companies []interfaces.Company
	for rows.Next() {
		var c interfaces.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.OwnerID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}
	return companies, nil
}

const memberRoleFilter = `($2 = false OR role IN ('owner', 'admin'))`

func (s *CompanyStore) CountMembers(ctx context.Context, companyID string, onlyOwnersAndAdmins bool) (int, error) {
	query := `SELECT count(*) FROM company_members WHERE company_id = $1 AND ` + memberRoleFilter
	var n int
	if err := s.db.QueryRowContext(ctx, query, companyID, onlyOwnersAndAdmins).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}

func (s *CompanyStore) ListMembers(ctx context.Context, companyID string, onlyOwnersAndAdmins bool, afterUserID string, limit int) ([]interfaces.Member, error) {
	query := `
		SELECT company_id, user_id, role, joined_at
		FROM company_members
		WHERE company_id = $1 AND ` + memberRoleFilter + ` AND user_id > $3
		ORDER BY user_id
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, companyID, onlyOwnersAndAdmins, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []interfaces.Member
	for rows.Next() {
		var m interfaces.Member
		if err := rows.Scan(&m.CompanyID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

func (s *CompanyStore) IsMember(ctx context.Context, companyID, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM company_members WHERE company_id = $1 AND user_id = $2)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, companyID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

func (s *CompanyStore) CountOwned(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM companies WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count owned companies: %w", err)
	}
	return n, nil
}

// DeleteOwnedBatch relies on ON DELETE CASCADE for members and invites.
func (s *CompanyStore) DeleteOwnedBatch(ctx context.Context, ownerID string, limit int) (int, error) {
	query := `
		DELETE FROM companies
		WHERE id IN (SELECT id FROM companies WHERE owner_id = $1 ORDER BY id LIMIT $2)
	`
	return execCount(ctx, s.db, "delete owned companies", query, ownerID, limit)
}

func (s *CompanyStore) DeleteMembershipsBatch(ctx context.Context, userID string, limit int) (int, error) {
	query := `
		DELETE FROM company_members
		WHERE user_id = $1
		  AND company_id IN (SELECT company_id FROM company_members WHERE user_id = $1 ORDER BY company_id LIMIT $2)
	`
	return execCount(ctx, s.db, "delete memberships", query, userID, limit)
}

// execCount runs a statement and returns the number of affected rows.
func execCount(ctx context.Context, db *sql.DB, what, query string, args ...any) (int, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// likePattern wraps a user query for a substring ILIKE match, escaping the
// pattern metacharacters.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(q)) + "%"
}
