package server

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an id is absent from the metadata catalog or
// from the tier that should hold its content.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when a metadata or content insert collides with
// an existing id. With random ids this should never happen, but it must not
// be swallowed when it does.
var ErrDuplicateID = errors.New("duplicate id")

// BackendError wraps a failed call to one of the two tiers with enough
// context to log and retry.
type BackendError struct {
	Tier StorageType
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s tier: %s failed: %v", e.Tier, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Halves of a file that can go missing independently.
const (
	OrphanMissingContent  = "content"
	OrphanMissingMetadata = "metadata"
)

// OrphanError reports that metadata and content disagree about a file's
// existence: one half was written or found, the other was not. It is kept
// distinct from ErrNotFound so operators can reconcile.
type OrphanError struct {
	ID      string
	Missing string
	Err     error
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("orphaned file %s: %s missing: %v", e.ID, e.Missing, e.Err)
}

func (e *OrphanError) Unwrap() error { return e.Err }
