// Package store provides access to the analytics platform's metadata
// database: the roles, datasets, row-level security filters, and
// role/filter association records the reconciler operates on.
//
// Store is the interface the reconciler consumes; Postgres is the
// production implementation. Passing the store explicitly (rather than
// acquiring an ambient session) is what makes the reconciler testable
// against an in-memory fake.
package store

import (
	"context"

	"github.com/openlearn/rlsync/pkg/policy"
)

// Store is the persistence interface for policy reconciliation.
//
// Lookup methods return (nil, nil) when no record matches; the caller
// decides whether absence is an error. Write methods commit before
// returning, so partial progress across a batch is durable and a re-run
// after failure resumes safely.
type Store interface {
	// FindRole looks up a role by its unique name.
	FindRole(ctx context.Context, name string) (*policy.Role, error)

	// FindDataset looks up a dataset by (schema, table name).
	FindDataset(ctx context.Context, schema, table string) (*policy.Dataset, error)

	// FindPolicies returns all policies with the given group key that are
	// associated with the role, dataset links populated. The store schema
	// does not enforce uniqueness of (role, group key); callers treat more
	// than one match as an integrity violation.
	FindPolicies(ctx context.Context, roleID int64, groupKey string) ([]*policy.Policy, error)

	// CreatePolicy inserts a new policy row and its dataset links,
	// assigning p.ID.
	CreatePolicy(ctx context.Context, p *policy.Policy) error

	// UpdatePolicy overwrites the filter type, group key, and clause of an
	// existing policy row. Dataset links are managed by SetPolicyDatasets.
	UpdatePolicy(ctx context.Context, p *policy.Policy) error

	// SetPolicyDatasets makes the policy's dataset links exactly match
	// datasetIDs, adding and removing links as needed.
	SetPolicyDatasets(ctx context.Context, policyID int64, datasetIDs []int64) error

	// HasAssociation reports whether a (role, policy) grant record exists.
	HasAssociation(ctx context.Context, roleID, policyID int64) (bool, error)

	// InsertAssociation records that the role may invoke the policy.
	InsertAssociation(ctx context.Context, roleID, policyID int64) error

	// ListPoliciesForRole returns every policy associated with the role,
	// dataset links populated, ordered by policy ID.
	ListPoliciesForRole(ctx context.Context, roleID int64) ([]*policy.Policy, error)
}
