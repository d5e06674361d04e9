// File: internal/senza/snapshot.go
// Brief: Per-tick index of the stacks reported by senza list.

package senza

import (
	"context"
	"sort"
	"strconv"
)

// Snapshot indexes one `senza list` result by stack name and version.
type Snapshot map[string]map[string]Stack

// NewSnapshot builds a Snapshot from list output. Later rows win on duplicates.
func NewSnapshot(stacks []Stack) Snapshot {
	snap := Snapshot{}
	for _, st := range stacks {
		if st.StackName == "" {
			continue
		}
		versions, ok := snap[st.StackName]
		if !ok {
			versions = map[string]Stack{}
			snap[st.StackName] = versions
		}
		versions[st.Version] = st
	}
	return snap
}

// StackStatus reports the CloudFormation status of a stack version and
// whether the stack exists in the snapshot.
func (s Snapshot) StackStatus(_ context.Context, stackName, stackVersion string) (string, bool) {
	versions, ok := s[stackName]
	if !ok {
		return "", false
	}
	st, ok := versions[stackVersion]
	if !ok {
		return "", false
	}
	return st.Status, true
}

// NumericVersions returns the sorted integer versions known for stackName.
// Versions that are not integers are skipped.
func (s Snapshot) NumericVersions(stackName string) []int {
	var out []int
	for raw := range s[stackName] {
		v, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// StackNames returns the stack names present in the snapshot, sorted.
func (s Snapshot) StackNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
