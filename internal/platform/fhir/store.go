package fhir

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by the store. The HTTP layer owns the mapping to
// status codes; the store never retries and never reports a lost optimistic
// race as anything other than ErrNotFound (callers that need true conflict
// semantics re-read and compare versions).
var (
	// ErrNotFound: no current, non-deleted record for the (type, id), or a
	// requested history version that was never written.
	ErrNotFound = errors.New("resource not found")

	// ErrIDMismatch: the body carries an id that disagrees with the route id.
	ErrIDMismatch = errors.New("resource id does not match route id")

	// ErrInvalidResource: the body is structurally unusable (missing
	// resourceType, wrong type for the route).
	ErrInvalidResource = errors.New("invalid resource")

	// ErrDuplicate: create targeted an id that already has a current record.
	ErrDuplicate = errors.New("resource already exists")
)

// Store is the versioned resource store. Every mutating operation commits the
// current record, the history snapshot, and the index row swap as one
// transaction; readers never observe a half-applied write.
type Store interface {
	// Create persists a new resource at version 1, assigning a fresh id when
	// the body carries none, and returns the id.
	Create(ctx context.Context, res Resource) (string, error)

	// Get returns the current body, or ErrNotFound when absent or deleted.
	Get(ctx context.Context, resourceType, id string) (Resource, error)

	// GetVersion reads a specific version from history. Deleted resources
	// stay reachable here because history is append-only.
	GetVersion(ctx context.Context, resourceType, id string, versionID int) (Resource, error)

	// History returns every recorded version, newest first, including the
	// tombstone snapshot written at delete time. A resource that was never
	// created is ErrNotFound.
	History(ctx context.Context, resourceType, id string) ([]Resource, error)

	// Search returns the current bodies whose index rows match the given
	// search parameter exactly (case-insensitive). Deleted resources are
	// never returned.
	Search(ctx context.Context, resourceType, code, value string) ([]Resource, error)

	// Update replaces the current body, bumps the version, snapshots the new
	// body into history, and swaps the index rows to the freshly extracted
	// set. A concurrent writer winning the race surfaces as ErrNotFound.
	Update(ctx context.Context, id string, res Resource) error

	// Delete tombstones the current record, bumps the version, snapshots the
	// tombstoned body into history, and purges all index rows. Deleting an
	// already-deleted resource is ErrNotFound.
	Delete(ctx context.Context, resourceType, id string) error

	// FindIndex returns the index rows matching (type, code, value). Used by
	// the authorization engine to resolve ownership without loading bodies.
	FindIndex(ctx context.Context, resourceType, code, value string) ([]IndexEntry, error)

	// ResourceIndex returns every index row of one live resource.
	ResourceIndex(ctx context.Context, resourceType, id string) ([]IndexEntry, error)
}
