package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// ErrDuplicateID is returned when adding a record whose id already exists.
var ErrDuplicateID = errors.New("storage: duplicate id")

// ErrAlreadyLinked is returned when linking a transaction that already has a
// related position. Links are set exactly once and never reassigned.
var ErrAlreadyLinked = errors.New("storage: transaction already linked")
