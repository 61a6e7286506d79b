package interfaces

import "time"

// User is an account holder.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Company is a tenant.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemberRole is the role a user holds inside a company.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Member is a company membership.
type Member struct {
	CompanyID string     `json:"companyId"`
	UserID    string     `json:"userId"`
	Role      MemberRole `json:"role"`
	JoinedAt  time.Time  `json:"joinedAt"`
}

// InviteStatus is the state of a company invite.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
)

// Invite is an invitation for an email address to join a company.
type Invite struct {
	ID           string       `json:"id"`
	CompanyID    string       `json:"companyId"`
	InviterID    string       `json:"inviterId"`
	InviteeEmail string       `json:"inviteeEmail"`
	Status       InviteStatus `json:"status"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Notification is a message delivered to a single user.
// ReplyToID references the notification this one answers, by id only.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	SenderID  string     `json:"senderId"`
	CompanyID string     `json:"companyId,omitempty"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReplyToID *string    `json:"replyToId,omitempty"`
	DedupeKey string     `json:"-"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// FriendshipStatus is the state of a friendship request.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
)

// Friendship links two users. It is stored once per pair.
type Friendship struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requesterId"`
	AddresseeID string           `json:"addresseeId"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
}
