package models

import "errors"

// Sentinel errors shared across the store, flow and bot packages.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidUser     = errors.New("invalid user")
	ErrInvalidRole     = errors.New("invalid role")
	ErrInvalidGroup    = errors.New("invalid group")
	ErrInvalidActivity = errors.New("invalid activity")
	ErrGroupFull       = errors.New("group is full")
	ErrNotFacilitator  = errors.New("caller is not a facilitator")
	ErrNotGroupOwner   = errors.New("caller does not own the group")
	ErrEmptyRecipient  = errors.New("recipient cannot be empty")
)
