// File: internal/deployer/blue_green.go
// Brief: Blue/green deployment state machine.

// Package deployer decides the next lifecycle status of a deployment from
// the live state of its CloudFormation stack, retiring old stack versions
// and moving traffic to the new one once it is created.
package deployer

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/example/lizzy/internal/senza"
	"github.com/go-logr/logr"
)

const (
	statusCreateInProgress = "CREATE_IN_PROGRESS"
	statusCreateComplete   = "CREATE_COMPLETE"

	// keptVersions is how many of the newest versions survive retirement.
	keptVersions = 2
)

// StatusLookup resolves the current CloudFormation status of a stack
// version. found is false when the stack no longer exists.
type StatusLookup interface {
	StackStatus(ctx context.Context, stackName, stackVersion string) (status string, found bool)
}

// StackController is the subset of the Stack Control Client the blue/green
// deployer drives.
type StackController interface {
	Remove(ctx context.Context, stackName, stackVersion string) bool
	Domains(ctx context.Context, stackName string) ([]senza.Domain, error)
	Traffic(ctx context.Context, stackName, stackVersion string, percentage int) ([]senza.TrafficWeight, error)
}

// DomainsOutcome tags the result of a domain lookup.
type DomainsOutcome int

const (
	DomainsFound DomainsOutcome = iota
	DomainsEmpty
	DomainsFetchFailed
)

func (o DomainsOutcome) String() string {
	switch o {
	case DomainsFound:
		return "found"
	case DomainsEmpty:
		return "empty"
	case DomainsFetchFailed:
		return "fetch-failed"
	default:
		return "unknown"
	}
}

// DomainsResult is the outcome of fetching a stack's domains. A failed
// fetch is distinct from a stack without domains.
type DomainsResult struct {
	Outcome DomainsOutcome
	Domains []senza.Domain
	Err     error
}

// DomainLister fetches the domains of a stack.
type DomainLister interface {
	Domains(ctx context.Context, stackName string) ([]senza.Domain, error)
}

// FetchDomains queries the stack's domains and classifies the result.
func FetchDomains(ctx context.Context, client DomainLister, stackName string) DomainsResult {
	domains, err := client.Domains(ctx, stackName)
	switch {
	case err != nil:
		return DomainsResult{Outcome: DomainsFetchFailed, Err: err}
	case len(domains) == 0:
		return DomainsResult{Outcome: DomainsEmpty}
	default:
		return DomainsResult{Outcome: DomainsFound, Domains: domains}
	}
}

// BlueGreen advances one deployment through its lifecycle. It keeps no
// state between calls, so one instance per deployment is cheap to build.
type BlueGreen struct {
	deployment Deployment
	client     StackController
	lookup     StatusLookup
	log        logr.Logger
}

// NewBlueGreen returns a deployer for deployment.
func NewBlueGreen(deployment Deployment, client StackController, lookup StatusLookup, log logr.Logger) *BlueGreen {
	return &BlueGreen{
		deployment: deployment,
		client:     client,
		lookup:     lookup,
		log: log.WithName("blue-green").WithValues(
			"deployment", deployment.ID,
			"stack", deployment.StackName,
			"version", deployment.StackVersion,
		),
	}
}

func (d *BlueGreen) stackStatus(ctx context.Context) (string, bool) {
	return d.lookup.StackStatus(ctx, d.deployment.StackName, d.deployment.StackVersion)
}

// Deploying polls a stack that is being created.
func (d *BlueGreen) Deploying(ctx context.Context) Status {
	cfStatus, found := d.stackStatus(ctx)
	switch {
	case !found:
		d.log.Info("Stack no longer exists, marking as removed.")
		return StatusRemoved
	case cfStatus == statusCreateInProgress:
		d.log.V(1).Info("Stack is still deploying.")
		return StatusDeploying
	case cfStatus == statusCreateComplete:
		d.log.Info("Stack created.")
		return StatusDeployed
	default:
		d.log.Info("Stack has CloudFormation status.", "cfStatus", cfStatus)
		return CloudFormation(cfStatus)
	}
}

// Deployed retires all but the two newest versions of the stack and moves
// all traffic to this deployment's version when the stack has a domain.
// Every failure past the existence check is logged and tolerated.
func (d *BlueGreen) Deployed(ctx context.Context, stacks StackVersions) Status {
	cfStatus, found := d.stackStatus(ctx)
	if !found {
		d.log.Info("Stack no longer exists, marking as removed.")
		return StatusRemoved
	}

	allVersions := sortedVersions(stacks[d.deployment.StackName])
	d.log.V(1).Info("Existing versions.", "versions", allVersions)
	toRemove := VersionsToRemove(allVersions)
	d.log.V(1).Info("Versions to be removed.", "versions", toRemove)
	for _, version := range toRemove {
		v := strconv.Itoa(version)
		log := d.log.WithValues("removing", senza.StackID(d.deployment.StackName, v))
		log.Info("Removing old stack version.")
		if !d.client.Remove(ctx, d.deployment.StackName, v) {
			log.Error(errRemoveFailed, "Failed to remove old stack version.")
			continue
		}
		log.Info("Old stack version removed.")
	}

	d.switchTraffic(ctx)
	return CloudFormation(cfStatus)
}

// Watch reports a settled deployment's current status without side effects.
func (d *BlueGreen) Watch(ctx context.Context) Status {
	cfStatus, found := d.stackStatus(ctx)
	if !found {
		d.log.Info("Stack no longer exists, marking as removed.")
		return StatusRemoved
	}
	return CloudFormation(cfStatus)
}

func (d *BlueGreen) switchTraffic(ctx context.Context) {
	res := FetchDomains(ctx, d.client, d.deployment.StackName)
	switch res.Outcome {
	case DomainsFetchFailed:
		d.log.Error(res.Err, "Failed to get domains. Traffic will not be switched.")
	case DomainsEmpty:
		d.log.Info("Stack doesn't have a domain so traffic will not be switched.")
	case DomainsFound:
		d.log.Info("Switching all traffic to deployment.")
		if _, err := d.client.Traffic(ctx, d.deployment.StackName, d.deployment.StackVersion, 100); err != nil {
			d.log.Error(err, "Failed to switch traffic.")
		}
	}
}

var errRemoveFailed = errors.New("senza delete failed")

// VersionsToRemove returns every version except the two highest of a
// sorted ascending list.
func VersionsToRemove(allVersions []int) []int {
	if len(allVersions) <= keptVersions {
		return nil
	}
	return allVersions[:len(allVersions)-keptVersions]
}

func sortedVersions(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
