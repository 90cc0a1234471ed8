package policy

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// DesiredState is the declarative input to reconciliation: the role the
// policies are granted to and the ordered list of policy descriptors.
// Order matters only for log and error attribution; entries are
// independent.
type DesiredState struct {
	Role     string       `json:"role"`
	Policies []Descriptor `json:"policies"`
}

// Load reads and parses a desired-state YAML file.
//
// Example file:
//
//	role: "Open edX"
//	policies:
//	  - schema: xapi
//	    table: xapi_events_all_parsed
//	    group_key: xapi_course_id
//	    clause: "course_id IN ({{ current_user_courses() }})"
//	    filter_type: Regular
func Load(path string) (*DesiredState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading desired state: %w", err)
	}
	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return ds, nil
}

// Parse parses desired-state YAML content. Useful when the desired state
// is embedded in the binary or rendered by an outer bootstrap step.
func Parse(data []byte) (*DesiredState, error) {
	var ds DesiredState
	if err := yaml.UnmarshalStrict(data, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks the desired state is complete: a role name, at least
// one descriptor, every descriptor valid, and no duplicate group keys
// (two descriptors with the same group key would fight over one policy
// record, last writer winning — reject it up front).
func (ds *DesiredState) Validate() error {
	if ds.Role == "" {
		return fmt.Errorf("role is required")
	}
	if len(ds.Policies) == 0 {
		return fmt.Errorf("at least one policy descriptor is required")
	}
	seen := make(map[string]int, len(ds.Policies))
	for i, d := range ds.Policies {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("policies[%d]: %w", i, err)
		}
		if j, dup := seen[d.GroupKey]; dup {
			return fmt.Errorf("policies[%d]: group_key %q duplicates policies[%d]", i, d.GroupKey, j)
		}
		seen[d.GroupKey] = i
	}
	return nil
}
