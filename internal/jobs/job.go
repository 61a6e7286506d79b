package jobs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrForbidden         = errors.New("job belongs to another user")
	ErrValidation        = errors.New("invalid job request")
	ErrUnknownKind       = errors.New("unknown job kind")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Kind identifies the kind of work a job performs.
type Kind string

const (
	KindCompanyListing        Kind = "company-listing"
	KindInviteListing         Kind = "invite-listing"
	KindInviteBulk            Kind = "invite-bulk"
	KindNotificationBroadcast Kind = "notification-broadcast"
	KindFriendBroadcast       Kind = "friend-broadcast"
	KindNotificationDeletion  Kind = "notification-deletion"
	KindUserDeletion          Kind = "user-deletion"
	KindUserSearch            Kind = "user-search"
	KindFriendshipListing     Kind = "friendship-listing"
	KindNotificationListing   Kind = "notification-listing"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []Kind{
	KindCompanyListing,
	KindInviteListing,
	KindInviteBulk,
	KindNotificationBroadcast,
	KindFriendBroadcast,
	KindNotificationDeletion,
	KindUserDeletion,
	KindUserSearch,
	KindFriendshipListing,
	KindNotificationListing,
}

// ParseKind returns the Kind named s, or ErrUnknownKind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(AllKinds, k) {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Queue is the name of the kind's main queue.
func (k Kind) Queue() string {
	return "jobs." + string(k)
}

// DeadLetterQueue is the name of the kind's dead-letter queue.
func (k Kind) DeadLetterQueue() string {
	return "jobs." + string(k) + ".dlq"
}

// IsListing reports whether the kind is a paginated listing.
func (k Kind) IsListing() bool {
	switch k {
	case KindCompanyListing, KindInviteListing, KindUserSearch,
		KindFriendshipListing, KindNotificationListing:
		return true
	}
	return false
}

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

var statusTransitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	return slices.Contains(statusTransitions[from], to)
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step is the phase tag of a multi-step job. Paginated listings and bulk
// jobs over an explicit list use StepNone.
type Step string

const (
	StepNone           Step = ""
	StepInit           Step = "INIT"
	StepApply          Step = "APPLY"
	StepSelected       Step = "SELECTED"
	StepMembers        Step = "MEMBERS"
	StepFriends        Step = "FRIENDS"
	StepOwnedCompanies Step = "OWNED_COMPANIES"
	StepMemberships    Step = "MEMBERSHIPS"
	StepNotifications  Step = "NOTIFICATIONS"
	StepFriendships    Step = "FRIENDSHIPS"
	StepInvites        Step = "INVITES"
	StepUser           Step = "USER"
)

// AccountDeletionPhases is the fixed order of user-deletion phases after INIT.
var AccountDeletionPhases = []Step{
	StepOwnedCompanies,
	StepMemberships,
	StepNotifications,
	StepFriendships,
	StepInvites,
	StepUser,
}

type stepEdge struct {
	from, to Step
}

func edges(pairs ...Step) []stepEdge {
	out := make([]stepEdge, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, stepEdge{pairs[i], pairs[i+1]})
	}
	return out
}

func selfLoops(steps ...Step) []stepEdge {
	out := make([]stepEdge, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepEdge{s, s})
	}
	return out
}

func accountDeletionEdges() []stepEdge {
	out := []stepEdge{{StepInit, StepOwnedCompanies}}
	for i, s := range AccountDeletionPhases {
		if s != StepUser {
			out = append(out, stepEdge{s, s})
		}
		if i+1 < len(AccountDeletionPhases) {
			out = append(out, stepEdge{s, AccountDeletionPhases[i+1]})
		}
	}
	return out
}

// stepTransitions lists, per kind, every step a follow-up message may carry
// given the step of the message that produced it.
var stepTransitions = map[Kind][]stepEdge{
	KindCompanyListing:      selfLoops(StepNone),
	KindInviteListing:       selfLoops(StepNone),
	KindUserSearch:          selfLoops(StepNone),
	KindFriendshipListing:   selfLoops(StepNone),
	KindNotificationListing: selfLoops(StepNone),
	KindInviteBulk: append(
		edges(StepInit, StepApply),
		selfLoops(StepApply)...,
	),
	KindNotificationBroadcast: append(
		edges(StepInit, StepSelected, StepInit, StepMembers),
		selfLoops(StepSelected, StepMembers)...,
	),
	KindFriendBroadcast: append(
		edges(StepInit, StepSelected, StepInit, StepFriends),
		selfLoops(StepSelected, StepFriends)...,
	),
	KindNotificationDeletion: append(
		edges(StepInit, StepSelected, StepInit, StepApply),
		selfLoops(StepSelected, StepApply)...,
	),
	KindUserDeletion: accountDeletionEdges(),
}

// CanAdvance reports whether a kind's step machine allows from -> to.
func CanAdvance(kind Kind, from, to Step) bool {
	return slices.Contains(stepTransitions[kind], stepEdge{from, to})
}

// Mode selects an explicit recipient list or an enumerated audience.
type Mode string

const (
	ModeSelected Mode = "selected"
	ModeMembers  Mode = "members"
	ModeFriends  Mode = "friends"
	ModeAll      Mode = "all"
)

// Scope selects the target set of a bulk action.
type Scope string

const (
	ScopeSelected Scope = "selected"
	ScopeAll      Scope = "all"
)

// BulkAction is the action applied by an invite-bulk job.
type BulkAction string

const (
	ActionDelete BulkAction = "delete"
	ActionReject BulkAction = "reject"
)
