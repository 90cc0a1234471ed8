// Package reconciler implements idempotent synchronization of declared
// row-level security policies into the policy store.
//
// The reconciler is upsert-only: policies and associations are created on
// first run and updated in place on later runs, never deleted. Stale
// policies that fall out of the desired state are intentionally left
// alone to avoid destructive drift. The whole operation is safe to re-run
// wholesale after any failure; every step either finds existing state or
// no-ops.
package reconciler

import (
	"context"
	"log/slog"

	"github.com/openlearn/rlsync/pkg/policy"
	"github.com/openlearn/rlsync/pkg/store"
)

// Reconciler synchronizes desired-state policy descriptors into a store.
// It assumes it is the sole writer during its run; concurrent reconciler
// instances are not defended against.
type Reconciler struct {
	store store.Store
	log   *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for per-descriptor progress. The
// default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

// New creates a reconciler backed by the given store.
func New(st store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store: st,
		log:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result summarizes what a Synchronize call did.
type Result struct {
	Created    int // policies created
	Updated    int // policies whose fields were overwritten
	Unchanged  int // policies already matching the desired state
	Associated int // role/policy grants inserted
}

// Synchronize makes the store match the desired descriptors for the named
// role, processing descriptors strictly in input order.
//
// Per descriptor it resolves the dataset, finds or creates the policy for
// (role, group key), overwrites the policy's filter type, group key,
// clause, and dataset set with the declared values, and ensures the role
// is granted the policy. Each store write commits before the next step,
// so a failed run leaves durable partial progress and a re-run resumes
// cleanly.
//
// A missing role or dataset aborts the whole call with
// *policy.RoleNotFoundError or *policy.DatasetNotFoundError; descriptors
// after the failing one are not processed. More than one existing policy
// for a (role, group key) pair aborts with *policy.IntegrityError.
func (r *Reconciler) Synchronize(ctx context.Context, roleName string, desired []policy.Descriptor) (*Result, error) {
	role, err := r.store.FindRole(ctx, roleName)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, &policy.RoleNotFoundError{Name: roleName}
	}

	res := &Result{}
	for _, d := range desired {
		if err := r.reconcileOne(ctx, role, d, res); err != nil {
			return nil, err
		}
	}

	r.log.Info("row-level security policies reconciled",
		"role", role.Name,
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"associated", res.Associated)
	return res, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, role *policy.Role, d policy.Descriptor, res *Result) error {
	dataset, err := r.store.FindDataset(ctx, d.Schema, d.Table)
	if err != nil {
		return err
	}
	if dataset == nil {
		return &policy.DatasetNotFoundError{Schema: d.Schema, Table: d.Table}
	}

	existing, err := r.store.FindPolicies(ctx, role.ID, d.GroupKey)
	if err != nil {
		return err
	}
	if len(existing) > 1 {
		return &policy.IntegrityError{RoleName: role.Name, GroupKey: d.GroupKey, Count: len(existing)}
	}

	datasetIDs := []int64{dataset.ID}

	var p *policy.Policy
	switch {
	case len(existing) == 0:
		p = &policy.Policy{
			GroupKey:   d.GroupKey,
			FilterType: d.FilterType,
			Clause:     d.Clause,
			DatasetIDs: datasetIDs,
		}
		if err := r.store.CreatePolicy(ctx, p); err != nil {
			return err
		}
		res.Created++
		r.log.Debug("policy created", "group_key", d.GroupKey, "dataset", dataset.QualifiedName())

	case existing[0].EqualDesired(d.GroupKey, d.FilterType, d.Clause, datasetIDs):
		p = existing[0]
		res.Unchanged++
		r.log.Debug("policy unchanged", "group_key", d.GroupKey)

	default:
		// Full overwrite of the reconciled fields: out-of-band edits are
		// intentionally discarded to realign with the declared state.
		p = existing[0]
		p.GroupKey = d.GroupKey
		p.FilterType = d.FilterType
		p.Clause = d.Clause
		if err := r.store.UpdatePolicy(ctx, p); err != nil {
			return err
		}
		if err := r.store.SetPolicyDatasets(ctx, p.ID, datasetIDs); err != nil {
			return err
		}
		p.DatasetIDs = datasetIDs
		res.Updated++
		r.log.Debug("policy updated", "group_key", d.GroupKey, "dataset", dataset.QualifiedName())
	}

	granted, err := r.store.HasAssociation(ctx, role.ID, p.ID)
	if err != nil {
		return err
	}
	if !granted {
		if err := r.store.InsertAssociation(ctx, role.ID, p.ID); err != nil {
			return err
		}
		res.Associated++
		r.log.Debug("role granted policy", "role", role.Name, "group_key", d.GroupKey)
	}
	return nil
}

// Check verifies the preconditions of a desired state without writing:
// the role exists and every descriptor's dataset exists. Used by dry-run.
func (r *Reconciler) Check(ctx context.Context, roleName string, desired []policy.Descriptor) error {
	role, err := r.store.FindRole(ctx, roleName)
	if err != nil {
		return err
	}
	if role == nil {
		return &policy.RoleNotFoundError{Name: roleName}
	}
	for _, d := range desired {
		dataset, err := r.store.FindDataset(ctx, d.Schema, d.Table)
		if err != nil {
			return err
		}
		if dataset == nil {
			return &policy.DatasetNotFoundError{Schema: d.Schema, Table: d.Table}
		}
	}
	return nil
}
