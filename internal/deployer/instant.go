package deployer

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/lizzy/internal/senza"
	"github.com/go-logr/logr"
)

var (
	// ErrTrafficNotUpdated is returned when a traffic change could not be applied.
	ErrTrafficNotUpdated = errors.New("traffic not updated")
	// ErrAMIImageNotUpdated is returned when the stack image could not be replaced.
	ErrAMIImageNotUpdated = errors.New("AMI image not updated")
)

// InstanceController is the subset of the Stack Control Client used for
// operator driven changes to a running stack.
type InstanceController interface {
	Domains(ctx context.Context, stackName string) ([]senza.Domain, error)
	Traffic(ctx context.Context, stackName, stackVersion string, percentage int) ([]senza.TrafficWeight, error)
	Patch(ctx context.Context, stackName, stackVersion, image string) error
	RespawnInstances(ctx context.Context, stackName, stackVersion string) error
}

// Instant applies changes to a deployed stack immediately.
type Instant struct {
	deployment Deployment
	client     InstanceController
	log        logr.Logger
}

// NewInstant returns an Instant deployer for deployment.
func NewInstant(deployment Deployment, client InstanceController, log logr.Logger) *Instant {
	return &Instant{
		deployment: deployment,
		client:     client,
		log: log.WithName("instant").WithValues(
			"lizzy.stack.id", deployment.ID,
			"lizzy.stack.name", deployment.StackName,
		),
	}
}

// ChangeTraffic sets the traffic percentage of the deployment's version.
func (d *Instant) ChangeTraffic(ctx context.Context, percentage int) ([]senza.TrafficWeight, error) {
	if percentage < 0 || percentage > 100 {
		return nil, fmt.Errorf("%w: percentage %d out of range 0-100", ErrTrafficNotUpdated, percentage)
	}
	res := FetchDomains(ctx, d.client, d.deployment.StackName)
	switch res.Outcome {
	case DomainsFetchFailed:
		d.log.Error(res.Err, "Failed to get domains. Traffic will not be switched.")
		return nil, fmt.Errorf("%w: %v", ErrTrafficNotUpdated, res.Err)
	case DomainsEmpty:
		d.log.Info("App does not have a domain so traffic will not be switched.")
		return nil, fmt.Errorf("%w: app does not have a domain", ErrTrafficNotUpdated)
	}
	d.log.Info("Switching app traffic to stack.", "percentage", percentage)
	weights, err := d.client.Traffic(ctx, d.deployment.StackName, d.deployment.StackVersion, percentage)
	if err != nil {
		d.log.Error(err, "Failed to switch app traffic.")
		return nil, fmt.Errorf("%w: %v", ErrTrafficNotUpdated, err)
	}
	return weights, nil
}

// UpdateAMIImage points the stack's auto scaling group at image ("latest"
// or an AMI id) and respawns its instances.
func (d *Instant) UpdateAMIImage(ctx context.Context, image string) error {
	if err := d.client.Patch(ctx, d.deployment.StackName, d.deployment.StackVersion, image); err != nil {
		d.log.Info("Failed to patch stack image.", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrAMIImageNotUpdated, err)
	}
	if err := d.client.RespawnInstances(ctx, d.deployment.StackName, d.deployment.StackVersion); err != nil {
		d.log.Info("Failed to respawn instances.", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrAMIImageNotUpdated, err)
	}
	return nil
}
