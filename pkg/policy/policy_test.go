package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor() Descriptor {
	return Descriptor{
		Schema:     "xapi",
		Table:      "xapi_events_all",
		GroupKey:   "xapi_course_id",
		Clause:     "course_id IN ({{ current_user_courses() }})",
		FilterType: FilterTypeRegular,
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Descriptor)
		wantErr string
	}{
		{"valid", func(d *Descriptor) {}, ""},
		{"base filter type", func(d *Descriptor) { d.FilterType = FilterTypeBase }, ""},
		{"missing schema", func(d *Descriptor) { d.Schema = "" }, "schema is required"},
		{"missing table", func(d *Descriptor) { d.Table = "" }, "table is required"},
		{"missing group key", func(d *Descriptor) { d.GroupKey = "" }, "group_key is required"},
		{"missing clause", func(d *Descriptor) { d.Clause = "" }, "clause is required"},
		{"unknown filter type", func(d *Descriptor) { d.FilterType = "Fancy" }, "unknown filter_type"},
		{"empty filter type", func(d *Descriptor) { d.FilterType = "" }, "unknown filter_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFilterTypeValid(t *testing.T) {
	assert.True(t, FilterTypeRegular.Valid())
	assert.True(t, FilterTypeBase.Valid())
	assert.False(t, FilterType("").Valid())
	assert.False(t, FilterType("regular").Valid(), "filter types are case-sensitive, stored verbatim")
}

func TestPolicyEqualDesired(t *testing.T) {
	p := &Policy{
		ID:         7,
		GroupKey:   "xapi_course_id",
		FilterType: FilterTypeRegular,
		Clause:     "course_id IN (SELECT 1)",
		DatasetIDs: []int64{3, 5},
	}

	assert.True(t, p.EqualDesired("xapi_course_id", FilterTypeRegular, "course_id IN (SELECT 1)", []int64{5, 3}),
		"dataset order must not matter")
	assert.False(t, p.EqualDesired("xapi_course_id", FilterTypeRegular, "course_id IN (SELECT 2)", []int64{3, 5}))
	assert.False(t, p.EqualDesired("xapi_course_id", FilterTypeBase, "course_id IN (SELECT 1)", []int64{3, 5}))
	assert.False(t, p.EqualDesired("xapi_course_id", FilterTypeRegular, "course_id IN (SELECT 1)", []int64{3}))
}

func TestDatasetQualifiedName(t *testing.T) {
	d := Dataset{Schema: "xapi", Table: "xapi_events_all"}
	assert.Equal(t, "xapi.xapi_events_all", d.QualifiedName())
}
