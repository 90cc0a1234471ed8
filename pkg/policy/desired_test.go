package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `role: "Open edX"
policies:
  - schema: xapi
    table: xapi_events_all
    group_key: xapi_course_id
    clause: "course_id IN ({{ current_user_courses() }})"
    filter_type: Regular
  - schema: reporting
    table: enrollments
    group_key: enrollments_course_id
    clause: "course_id IN ({{ current_user_courses() }})"
    filter_type: Regular
`

func TestParse(t *testing.T) {
	ds, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	assert.Equal(t, "Open edX", ds.Role)
	require.Len(t, ds.Policies, 2)
	assert.Equal(t, "xapi_course_id", ds.Policies[0].GroupKey)
	assert.Equal(t, FilterTypeRegular, ds.Policies[0].FilterType)
	assert.Equal(t, "reporting", ds.Policies[1].Schema)
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("role: x\npolicie:\n  - schema: a\n"))
	require.Error(t, err, "typos in the desired-state file must not be silently ignored")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	ds, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Open edX", ds.Role)
	assert.Len(t, ds.Policies, 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading desired state")
}

func TestDesiredStateValidate(t *testing.T) {
	t.Run("missing role", func(t *testing.T) {
		ds := &DesiredState{Policies: []Descriptor{validDescriptor()}}
		assert.ErrorContains(t, ds.Validate(), "role is required")
	})

	t.Run("no policies", func(t *testing.T) {
		ds := &DesiredState{Role: "learner"}
		assert.ErrorContains(t, ds.Validate(), "at least one policy")
	})

	t.Run("invalid descriptor named by index", func(t *testing.T) {
		bad := validDescriptor()
		bad.Clause = ""
		ds := &DesiredState{Role: "learner", Policies: []Descriptor{validDescriptor(), bad}}
		assert.ErrorContains(t, ds.Validate(), "policies[1]")
	})

	t.Run("duplicate group key", func(t *testing.T) {
		ds := &DesiredState{Role: "learner", Policies: []Descriptor{validDescriptor(), validDescriptor()}}
		err := ds.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicates policies[0]")
	})
}
