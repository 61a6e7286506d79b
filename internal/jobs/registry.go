package jobs

import (
	"context"
	"fmt"
)

// CreateRequest is the union of every kind's creation input. Each handler
// reads the fields it understands and ignores the rest.
type CreateRequest struct {
	ChunkSize           int      `json:"chunkSize,omitempty"`
	CompanyID           string   `json:"companyId,omitempty"`
	Direction           string   `json:"direction,omitempty"`
	Title               string   `json:"title,omitempty"`
	Body                string   `json:"body,omitempty"`
	RecipientsEmails    []string `json:"recipientsEmails,omitempty"`
	OnlyOwnersAndAdmins bool     `json:"onlyOwnersAndAdmins,omitempty"`
	Action              string   `json:"action,omitempty"`
	Scope               string   `json:"scope,omitempty"`
	InviteIDs           []string `json:"inviteIds,omitempty"`
	Query               string   `json:"query,omitempty"`
	DeleteAll           bool     `json:"deleteAll,omitempty"`
	IDs                 []string `json:"ids,omitempty"`
}

// Handler implements one job kind.
type Handler interface {
	Kind() Kind
	// Prepare validates and normalizes a request. It returns the immutable
	// parameters and the first step message (only Step, Cursor and Index
	// are read). req.ChunkSize is already resolved.
	Prepare(caller Caller, req CreateRequest) (Params, StepMessage, error)
	// Advance performs one bounded unit of work, updating rec in place. It
	// returns the follow-up step, or nil when the job is finished.
	Advance(ctx context.Context, rec *Record, msg StepMessage) (*StepMessage, error)
}

// Registry maps kinds to their handlers.
type Registry struct {
	handlers map[Kind]Handler
}

// NewRegistry indexes handlers by kind. A later handler for the same kind
// replaces an earlier one.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[Kind]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Kind()] = h
	}
	return r
}

// Get returns the handler for kind, or ErrUnknownKind.
func (r *Registry) Get(kind Kind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return h, nil
}

// Kinds returns the registered kinds in AllKinds order.
func (r *Registry) Kinds() []Kind {
	var out []Kind
	for _, k := range AllKinds {
		if _, ok := r.handlers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
