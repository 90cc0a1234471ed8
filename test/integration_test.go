package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlearn/rlsync/pkg/policy"
	"github.com/openlearn/rlsync/pkg/reconciler"
	"github.com/openlearn/rlsync/pkg/store"
	"github.com/openlearn/rlsync/test/testutil"
)

// TestReconcile_Integration runs the full reconciliation path against a
// real PostgreSQL metadata database: create, idempotent re-run, and
// in-place clause update.
func TestReconcile_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := testutil.DB(t)
	ctx := context.Background()

	testutil.SeedRole(t, db, "Open edX")
	datasetID := testutil.SeedDataset(t, db, "xapi", "xapi_events_all")

	desired := []policy.Descriptor{{
		Schema:     "xapi",
		Table:      "xapi_events_all",
		GroupKey:   "xapi_course_id",
		Clause:     "course_id IN ({{ current_user_courses() }})",
		FilterType: policy.FilterTypeRegular,
	}}

	st := store.NewPostgres(db)
	r := reconciler.New(st)

	// First run creates policy and association.
	res, err := r.Synchronize(ctx, "Open edX", desired)
	require.NoError(t, err)
	assert.Equal(t, &reconciler.Result{Created: 1, Associated: 1}, res)

	var filterCount, roleLinkCount, tableLinkCount int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM row_level_security_filters`).Scan(&filterCount))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rls_filter_roles`).Scan(&roleLinkCount))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rls_filter_tables`).Scan(&tableLinkCount))
	assert.Equal(t, 1, filterCount)
	assert.Equal(t, 1, roleLinkCount)
	assert.Equal(t, 1, tableLinkCount)

	var originalID int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT id FROM row_level_security_filters WHERE group_key = $1`,
		"xapi_course_id").Scan(&originalID))

	// Second run with identical desired state is a no-op.
	res, err = r.Synchronize(ctx, "Open edX", desired)
	require.NoError(t, err)
	assert.Equal(t, &reconciler.Result{Unchanged: 1}, res)

	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM row_level_security_filters`).Scan(&filterCount))
	assert.Equal(t, 1, filterCount, "re-run must not duplicate the policy")

	// Changed clause updates the same row.
	desired[0].Clause = "course_key IN ({{ current_user_courses() }})"
	res, err = r.Synchronize(ctx, "Open edX", desired)
	require.NoError(t, err)
	assert.Equal(t, &reconciler.Result{Updated: 1}, res)

	var id int64
	var clause string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT id, clause FROM row_level_security_filters WHERE group_key = $1`,
		"xapi_course_id").Scan(&id, &clause))
	assert.Equal(t, originalID, id, "update must keep the same identity")
	assert.Equal(t, "course_key IN ({{ current_user_courses() }})", clause)

	// The dataset link is still the declared one.
	var linkedDataset int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT table_id FROM rls_filter_tables WHERE rls_filter_id = $1`, id).Scan(&linkedDataset))
	assert.Equal(t, datasetID, linkedDataset)
}

func TestReconcile_Integration_MissingRole(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := testutil.DB(t)
	ctx := context.Background()
	testutil.SeedDataset(t, db, "xapi", "xapi_events_all")

	_, err := reconciler.New(store.NewPostgres(db)).Synchronize(ctx, "ghost", []policy.Descriptor{{
		Schema: "xapi", Table: "xapi_events_all",
		GroupKey: "xapi_course_id", Clause: "1 = 1",
		FilterType: policy.FilterTypeRegular,
	}})

	var notFound *policy.RoleNotFoundError
	require.ErrorAs(t, err, &notFound)

	var filterCount int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM row_level_security_filters`).Scan(&filterCount))
	assert.Zero(t, filterCount, "a failed precondition must not write")
}

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := testutil.DB(t)
	ctx := context.Background()
	st := store.NewPostgres(db)

	roleID := testutil.SeedRole(t, db, "learner")
	firstDataset := testutil.SeedDataset(t, db, "analytics", "xapi_events")
	secondDataset := testutil.SeedDataset(t, db, "analytics", "enrollments")

	t.Run("lookups return nil for missing records", func(t *testing.T) {
		role, err := st.FindRole(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, role)

		dataset, err := st.FindDataset(ctx, "analytics", "ghost_table")
		require.NoError(t, err)
		assert.Nil(t, dataset)
	})

	t.Run("lookups resolve seeded records", func(t *testing.T) {
		role, err := st.FindRole(ctx, "learner")
		require.NoError(t, err)
		require.NotNil(t, role)
		assert.Equal(t, roleID, role.ID)

		dataset, err := st.FindDataset(ctx, "analytics", "xapi_events")
		require.NoError(t, err)
		require.NotNil(t, dataset)
		assert.Equal(t, "analytics.xapi_events", dataset.QualifiedName())
	})

	t.Run("policy roundtrip", func(t *testing.T) {
		p := &policy.Policy{
			GroupKey:   "xapi-group",
			FilterType: policy.FilterTypeRegular,
			Clause:     "can_view(user, course_id)",
			DatasetIDs: []int64{firstDataset},
		}
		require.NoError(t, st.CreatePolicy(ctx, p))
		assert.NotZero(t, p.ID, "create must assign an identity")

		// Not associated yet, so not visible through the role.
		found, err := st.FindPolicies(ctx, roleID, "xapi-group")
		require.NoError(t, err)
		assert.Empty(t, found)

		require.NoError(t, st.InsertAssociation(ctx, roleID, p.ID))
		found, err = st.FindPolicies(ctx, roleID, "xapi-group")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, p.ID, found[0].ID)
		assert.Equal(t, []int64{firstDataset}, found[0].DatasetIDs)

		has, err := st.HasAssociation(ctx, roleID, p.ID)
		require.NoError(t, err)
		assert.True(t, has)

		// Overwrite fields and dataset links.
		p.Clause = "can_view(user, course_key)"
		require.NoError(t, st.UpdatePolicy(ctx, p))
		require.NoError(t, st.SetPolicyDatasets(ctx, p.ID, []int64{secondDataset}))

		found, err = st.FindPolicies(ctx, roleID, "xapi-group")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "can_view(user, course_key)", found[0].Clause)
		assert.Equal(t, []int64{secondDataset}, found[0].DatasetIDs)
	})

	t.Run("update of unknown policy fails", func(t *testing.T) {
		err := st.UpdatePolicy(ctx, &policy.Policy{ID: 999999, GroupKey: "x", FilterType: policy.FilterTypeRegular})
		assert.ErrorContains(t, err, "no such policy")
	})
}
