package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("no authenticated identity")
	ErrNotFound        = errors.New("not found")
	ErrInvariant       = errors.New("invariant violation")
	ErrForbidden       = errors.New("forbidden")
)

type EntityKind string

const (
	KindUser    EntityKind = "user"
	KindAgent   EntityKind = "agent"
	KindRoom    EntityKind = "room"
	KindMessage EntityKind = "message"
)

type NotFoundError struct {
	Kind EntityKind
	ID   string
}

func NewNotFound(kind EntityKind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type InvariantReason string

const (
	ReasonWrongScope       InvariantReason = "wrong room scope"
	ReasonAlreadyMember    InvariantReason = "already a member"
	ReasonAlreadyExists    InvariantReason = "already exists"
	ReasonNotMember        InvariantReason = "not an active member"
	ReasonEmptyMembers     InvariantReason = "member list is empty"
	ReasonPrivateRoomSize  InvariantReason = "private room must have exactly two members"
	ReasonInvalidArgument  InvariantReason = "invalid argument"
	ReasonWrongContentType InvariantReason = "wrong content type"
	ReasonSurveyClosed     InvariantReason = "survey is closed"
)

type InvariantError struct {
	Op     string
	Reason InvariantReason
	Detail string
}

func NewInvariant(op string, reason InvariantReason, detail string) *InvariantError {
	return &InvariantError{Op: op, Reason: reason, Detail: detail}
}

func (e *InvariantError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Reason, e.Detail)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

type ForbiddenError struct {
	Op     string
	Actor  string
	Detail string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s: %s may not %s", e.Op, e.Actor, e.Detail)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// RequireIdentity is the precondition every operation checks first.
func RequireIdentity(caller Identity) error {
	if !caller.Authenticated() {
		return ErrUnauthenticated
	}
	return nil
}
