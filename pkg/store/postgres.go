package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openlearn/rlsync/pkg/policy"
)

// Querier is the minimal database interface the Postgres store needs.
// Implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres implements Store against the metadata database's native
// tables: ab_role, tables, row_level_security_filters, rls_filter_roles,
// and rls_filter_tables. Every write autocommits; the reconciler relies
// on per-step durability rather than a batch transaction.
type Postgres struct {
	db Querier
}

// NewPostgres creates a store backed by the given database handle.
func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) FindRole(ctx context.Context, name string) (*policy.Role, error) {
	var r policy.Role
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM ab_role WHERE name = $1`, name,
	).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding role %q: %w", name, err)
	}
	return &r, nil
}

func (s *Postgres) FindDataset(ctx context.Context, schema, table string) (*policy.Dataset, error) {
	var d policy.Dataset
	err := s.db.QueryRowContext(ctx,
		`SELECT id, "schema", table_name FROM tables WHERE "schema" = $1 AND table_name = $2`,
		schema, table,
	).Scan(&d.ID, &d.Schema, &d.Table)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding dataset %s.%s: %w", schema, table, err)
	}
	return &d, nil
}

func (s *Postgres) FindPolicies(ctx context.Context, roleID int64, groupKey string) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.group_key, f.filter_type, f.clause
		FROM row_level_security_filters f
		JOIN rls_filter_roles fr ON fr.rls_filter_id = f.id
		WHERE fr.role_id = $1 AND f.group_key = $2
		ORDER BY f.id`,
		roleID, groupKey)
	if err != nil {
		return nil, fmt.Errorf("finding policies for group key %q: %w", groupKey, err)
	}
	return s.collectPolicies(ctx, rows)
}

func (s *Postgres) ListPoliciesForRole(ctx context.Context, roleID int64) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.group_key, f.filter_type, f.clause
		FROM row_level_security_filters f
		JOIN rls_filter_roles fr ON fr.rls_filter_id = f.id
		WHERE fr.role_id = $1
		ORDER BY f.id`,
		roleID)
	if err != nil {
		return nil, fmt.Errorf("listing policies for role %d: %w", roleID, err)
	}
	return s.collectPolicies(ctx, rows)
}

// collectPolicies scans policy rows and loads each policy's dataset links.
func (s *Postgres) collectPolicies(ctx context.Context, rows *sql.Rows) ([]*policy.Policy, error) {
	defer func() { _ = rows.Close() }()

	var policies []*policy.Policy
	for rows.Next() {
		var p policy.Policy
		if err := rows.Scan(&p.ID, &p.GroupKey, &p.FilterType, &p.Clause); err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		policies = append(policies, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policy rows: %w", err)
	}

	for _, p := range policies {
		ids, err := s.policyDatasetIDs(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.DatasetIDs = ids
	}
	return policies, nil
}

func (s *Postgres) policyDatasetIDs(ctx context.Context, policyID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_id FROM rls_filter_tables WHERE rls_filter_id = $1 ORDER BY table_id`,
		policyID)
	if err != nil {
		return nil, fmt.Errorf("loading dataset links for policy %d: %w", policyID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning dataset link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) CreatePolicy(ctx context.Context, p *policy.Policy) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO row_level_security_filters (group_key, filter_type, clause)
		VALUES ($1, $2, $3)
		RETURNING id`,
		p.GroupKey, string(p.FilterType), p.Clause,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("creating policy %q: %w", p.GroupKey, err)
	}

	for _, datasetID := range p.DatasetIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO rls_filter_tables (table_id, rls_filter_id) VALUES ($1, $2)`,
			datasetID, p.ID); err != nil {
			return fmt.Errorf("linking policy %q to dataset %d: %w", p.GroupKey, datasetID, err)
		}
	}
	return nil
}

func (s *Postgres) UpdatePolicy(ctx context.Context, p *policy.Policy) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE row_level_security_filters
		SET group_key = $1, filter_type = $2, clause = $3
		WHERE id = $4`,
		p.GroupKey, string(p.FilterType), p.Clause, p.ID)
	if err != nil {
		return fmt.Errorf("updating policy %d: %w", p.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating policy %d: no such policy", p.ID)
	}
	return nil
}

func (s *Postgres) SetPolicyDatasets(ctx context.Context, policyID int64, datasetIDs []int64) error {
	current, err := s.policyDatasetIDs(ctx, policyID)
	if err != nil {
		return err
	}

	want := make(map[int64]bool, len(datasetIDs))
	for _, id := range datasetIDs {
		want[id] = true
	}
	have := make(map[int64]bool, len(current))
	for _, id := range current {
		have[id] = true
	}

	for _, id := range current {
		if !want[id] {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM rls_filter_tables WHERE rls_filter_id = $1 AND table_id = $2`,
				policyID, id); err != nil {
				return fmt.Errorf("unlinking dataset %d from policy %d: %w", id, policyID, err)
			}
		}
	}
	for _, id := range datasetIDs {
		if !have[id] {
			if _, err := s.db.ExecContext(ctx,
				`INSERT INTO rls_filter_tables (table_id, rls_filter_id) VALUES ($1, $2)`,
				id, policyID); err != nil {
				return fmt.Errorf("linking dataset %d to policy %d: %w", id, policyID, err)
			}
		}
	}
	return nil
}

func (s *Postgres) HasAssociation(ctx context.Context, roleID, policyID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rls_filter_roles WHERE role_id = $1 AND rls_filter_id = $2)`,
		roleID, policyID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking association (role %d, policy %d): %w", roleID, policyID, err)
	}
	return exists, nil
}

func (s *Postgres) InsertAssociation(ctx context.Context, roleID, policyID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO rls_filter_roles (role_id, rls_filter_id) VALUES ($1, $2)`,
		roleID, policyID); err != nil {
		return fmt.Errorf("associating role %d with policy %d: %w", roleID, policyID, err)
	}
	return nil
}
