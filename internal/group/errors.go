package group

import "errors"

var (
	// ErrGroupNotFound is returned when the group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrNotMember is returned when the target user is not in the group.
	ErrNotMember = errors.New("user is not a member of this group")

	// ErrMemberBanned is returned when a banned user attempts to rejoin.
	ErrMemberBanned = errors.New("user is banned from this group")

	// ErrUnauthorized is returned when a member-management operation is
	// attempted by someone other than the group creator.
	ErrUnauthorized = errors.New("only the group creator may do this")
)
