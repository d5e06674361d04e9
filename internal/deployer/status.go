// File: internal/deployer/status.go
// Brief: Deployment lifecycle status vocabulary.

package deployer

import (
	"strings"

	"github.com/example/lizzy/internal/senza"
)

// Status is the lifecycle status recorded for a deployment.
type Status string

const (
	StatusDeploying Status = "LIZZY:DEPLOYING"
	StatusDeployed  Status = "LIZZY:DEPLOYED"
	StatusRemoved   Status = "LIZZY:REMOVED"

	cloudFormationPrefix = "CF:"
)

// CloudFormation namespaces a raw CloudFormation stack status, e.g.
// "ROLLBACK_COMPLETE" becomes "CF:ROLLBACK_COMPLETE".
func CloudFormation(raw string) Status {
	return Status(cloudFormationPrefix + raw)
}

// CloudFormationStatus returns the raw status of a CF: status.
func (s Status) CloudFormationStatus() (string, bool) {
	if !strings.HasPrefix(string(s), cloudFormationPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), cloudFormationPrefix), true
}

// Valid reports whether s belongs to the closed status vocabulary. Any
// CF: status is valid, including one with an empty raw status, since the
// raw CloudFormation status is carried verbatim.
func (s Status) Valid() bool {
	switch s {
	case StatusDeploying, StatusDeployed, StatusRemoved:
		return true
	}
	_, ok := s.CloudFormationStatus()
	return ok
}

// Removed reports whether the status is the absorbing LIZZY:REMOVED state.
func (s Status) Removed() bool { return s == StatusRemoved }

func (s Status) String() string { return string(s) }

// Deployment identifies one deployment attempt of a stack version.
type Deployment struct {
	ID           string `json:"id"`
	StackName    string `json:"stackName"`
	StackVersion string `json:"stackVersion"`
	Status       Status `json:"status"`
}

// StackVersions maps a stack name to the set of its existing numeric versions.
type StackVersions map[string]map[int]struct{}

// Add records version for stackName.
func (sv StackVersions) Add(stackName string, version int) {
	set, ok := sv[stackName]
	if !ok {
		set = map[int]struct{}{}
		sv[stackName] = set
	}
	set[version] = struct{}{}
}

// VersionsFromSnapshot collects the numeric versions of every stack in snap.
func VersionsFromSnapshot(snap senza.Snapshot) StackVersions {
	sv := StackVersions{}
	for _, name := range snap.StackNames() {
		for _, v := range snap.NumericVersions(name) {
			sv.Add(name, v)
		}
	}
	return sv
}
