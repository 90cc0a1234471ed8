package policy

import "fmt"

// RoleNotFoundError indicates the named role does not exist in the policy
// store. A missing role is a broken provisioning precondition upstream,
// not a transient condition: reconciliation aborts and is not retried.
type RoleNotFoundError struct {
	Name string
}

func (e *RoleNotFoundError) Error() string {
	return fmt.Sprintf("role %q not found: security bootstrap must provision it first", e.Name)
}

// DatasetNotFoundError indicates a descriptor named a schema-qualified
// dataset absent from the store. Fatal; later descriptors are not
// processed, since entries in one bootstrap run are typically
// interdependent and silent partial success is worse than a loud stop.
type DatasetNotFoundError struct {
	Schema string
	Table  string
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("dataset %s.%s not found: create and import it before reconciling policies", e.Schema, e.Table)
}

// IntegrityError indicates the store violated the at-most-one-policy-per
// (group key, role) invariant. The reconciler refuses to pick a winner;
// the duplicate rows need operator attention.
type IntegrityError struct {
	RoleName string
	GroupKey string
	Count    int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("found %d policies for role %q group key %q, expected at most one",
		e.Count, e.RoleName, e.GroupKey)
}
