// Package policy defines the domain model for row-level security (RLS)
// policy reconciliation: roles, protected datasets, stored policies, and
// the desired-state descriptors that drive the reconciler.
//
// A Policy restricts which rows of a dataset a principal may read. Policies
// are keyed by a group key (the business identifier distinguishing one
// policy's purpose from another) and granted to roles through association
// records. The reconciliation identity is the (group key, role) pair: at
// most one policy may exist per pair.
package policy

import (
	"fmt"
	"slices"
)

// FilterType controls how a policy's clause composes with other policies
// applying to the same dataset. Values are persisted verbatim in the
// metadata database.
type FilterType string

const (
	// FilterTypeRegular clauses are OR'd with other regular clauses that
	// apply to the same dataset for the same principal.
	FilterTypeRegular FilterType = "Regular"

	// FilterTypeBase clauses are AND'd with everything else, forming a
	// floor that regular clauses cannot widen.
	FilterTypeBase FilterType = "Base"
)

// Valid reports whether ft is a known filter type.
func (ft FilterType) Valid() bool {
	return ft == FilterTypeRegular || ft == FilterTypeBase
}

// Role identifies a principal group (e.g. "Open edX"). Roles are
// provisioned by the platform's security bootstrap before reconciliation
// runs; this package never creates or mutates them.
type Role struct {
	ID   int64
	Name string
}

// Dataset identifies a schema-qualified tabular object that policies
// attach to. Externally provisioned, read-only here.
type Dataset struct {
	ID     int64
	Schema string
	Table  string
}

// QualifiedName returns the schema-qualified name, e.g. "xapi.events".
func (d Dataset) QualifiedName() string {
	return d.Schema + "." + d.Table
}

// Policy is a stored row-level security filter. ID is assigned by the
// store on first save and stable thereafter; GroupKey is the business key
// used for reconciliation lookups.
type Policy struct {
	ID         int64
	GroupKey   string
	FilterType FilterType
	Clause     string

	// DatasetIDs is the set of datasets the policy applies to. Modeled as
	// a set for generality; the reconciler attaches exactly one.
	DatasetIDs []int64
}

// EqualDesired reports whether the policy's reconciled fields already
// match the given desired values. Used to skip no-op writes.
func (p *Policy) EqualDesired(groupKey string, ft FilterType, clause string, datasetIDs []int64) bool {
	if p.GroupKey != groupKey || p.FilterType != ft || p.Clause != clause {
		return false
	}
	if len(p.DatasetIDs) != len(datasetIDs) {
		return false
	}
	have := slices.Clone(p.DatasetIDs)
	want := slices.Clone(datasetIDs)
	slices.Sort(have)
	slices.Sort(want)
	return slices.Equal(have, want)
}

// Descriptor is one desired-state entry: the declaration that a policy
// with the given group key, clause, and filter type must exist for a
// dataset and be granted to the role under reconciliation.
type Descriptor struct {
	Schema     string     `json:"schema"`
	Table      string     `json:"table"`
	GroupKey   string     `json:"group_key"`
	Clause     string     `json:"clause"`
	FilterType FilterType `json:"filter_type"`
}

// Validate checks that all fields are present and the filter type is
// known. An empty filter type is rejected rather than defaulted; the
// desired-state file must be explicit.
func (d Descriptor) Validate() error {
	switch {
	case d.Schema == "":
		return fmt.Errorf("descriptor %q: schema is required", d.GroupKey)
	case d.Table == "":
		return fmt.Errorf("descriptor %q: table is required", d.GroupKey)
	case d.GroupKey == "":
		return fmt.Errorf("descriptor for %s.%s: group_key is required", d.Schema, d.Table)
	case d.Clause == "":
		return fmt.Errorf("descriptor %q: clause is required", d.GroupKey)
	case !d.FilterType.Valid():
		return fmt.Errorf("descriptor %q: unknown filter_type %q (want %q or %q)",
			d.GroupKey, d.FilterType, FilterTypeRegular, FilterTypeBase)
	}
	return nil
}
