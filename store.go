package changemaster

import "context"

// Store is the durable change log. Implementations must make
// AssignAndPersist linearizable: an id returned to one caller is never
// returned again, and a call that begins after another has returned always
// receives a larger id
type Store interface {
	// AssignAndPersist stores a copy of the raw change under a newly
	// assigned id and returns the numbered copy
	AssignAndPersist(context.Context, *Change) (*Change, error)

	// GetChange returns ErrChangeNotFound for an absent id
	GetChange(context.Context, ChangeID) (*Change, error)

	// GetChangesGreaterThan returns at most limit changes with ids strictly
	// greater than the provided id, in increasing id order. A limit of
	// zero or less means no limit
	GetChangesGreaterThan(context.Context, ChangeID, int) ([]*Change, error)

	// GetLatestID returns NoChange when the log is empty
	GetLatestID(context.Context) (ChangeID, error)

	// GetLatestIDOnBranch returns NoChange when no change is on the branch
	GetLatestIDOnBranch(context.Context, string) (ChangeID, error)

	// GetIDsLessThan returns every stored id strictly below the provided
	// id, in increasing order
	GetIDsLessThan(context.Context, ChangeID) ([]ChangeID, error)

	// DeleteByID removes a change. Deleting an absent id is not an error
	DeleteByID(context.Context, ChangeID) error

	Close() error
}
